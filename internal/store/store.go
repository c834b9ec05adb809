package store

import (
	"context"

	"fieldsync/internal/models"
)

// KV is the durable key/value storage used to persist the operation queue,
// merge settings and per-parcel sync tokens across process restarts.
// Get returns (nil, nil) when the key is absent.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NoteStore holds the local working copy of field notes per parcel.
type NoteStore interface {
	UpsertNote(ctx context.Context, note *models.FieldNote) error
	DeleteNote(ctx context.Context, id string) error
	NoteByID(ctx context.Context, id string) (*models.FieldNote, error)
	NotesByParcel(ctx context.Context, parcelKey string) ([]models.FieldNote, error)
	ReplaceParcelNotes(ctx context.Context, parcelKey string, notes []models.FieldNote) error
}

// Well-known KV keys.
const (
	KeyQueue         = "sync:queue"
	KeyMergeSettings = "sync:merge_settings"
	keyTokenPrefix   = "sync:token:"
)

// TokenKey returns the KV key holding the last sync token for a parcel.
func TokenKey(parcelKey string) string {
	return keyTokenPrefix + parcelKey
}
