package store

import (
	"context"
	"testing"
	"time"

	"fieldsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	original := []byte("payload")
	require.NoError(t, s.Set(ctx, "k", original))
	original[0] = 'X'

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val, "stored value must not alias the caller's slice")

	val[0] = 'Y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), again, "returned value must not alias the stored slice")
}

func TestMemoryNoteStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	n1 := models.FieldNote{ID: "n1", ParcelKey: "p1", Text: "first", CreatedAt: now, UpdatedAt: now}
	n2 := models.FieldNote{ID: "n2", ParcelKey: "p1", Text: "second", CreatedAt: now.Add(time.Minute), UpdatedAt: now}
	require.NoError(t, s.UpsertNote(ctx, &n1))
	require.NoError(t, s.UpsertNote(ctx, &n2))

	notes, err := s.NotesByParcel(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "n1", notes[0].ID, "ordered by creation time")

	require.NoError(t, s.ReplaceParcelNotes(ctx, "p1", []models.FieldNote{n2}))
	notes, err = s.NotesByParcel(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "n2", notes[0].ID)

	missing, err := s.NoteByID(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
