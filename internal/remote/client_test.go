package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	l := zerolog.Nop()
	return NewClient(config.RemoteConfig{
		BaseURL:        srv.URL,
		TimeoutSeconds: 5,
		RPS:            1000,
		Burst:          1000,
	}, &l)
}

func TestSyncParcelExchangesTokens(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fieldnotes/p1/sync", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "token-old", body["lastUpdate"])

		_ = json.NewEncoder(w).Encode(map[string]string{"update": "token-new"})
	}))

	token, err := c.SyncParcel(context.Background(), "p1", "token-old")
	require.NoError(t, err)
	assert.Equal(t, "token-new", token)
}

func TestFetchNotes(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/fieldnotes/p1/notes", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"notes": []models.FieldNote{
				{ID: "n1", ParcelKey: "p1", Text: "hello", CreatedAt: now, UpdatedAt: now},
			},
		})
	}))

	notes, err := c.FetchNotes(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "n1", notes[0].ID)
	assert.Equal(t, "hello", notes[0].Text)
}

func TestPushNoteReturnsServerCopy(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fieldnotes/p1/notes", r.URL.Path)

		var note models.FieldNote
		require.NoError(t, json.NewDecoder(r.Body).Decode(&note))
		assert.True(t, models.IsLocalNoteID(note.ID))

		note.ID = "srv-42" // server assigns the permanent id
		_ = json.NewEncoder(w).Encode(note)
	}))

	local := models.FieldNote{ID: models.NewLocalNoteID(), ParcelKey: "p1", Text: "offline note"}
	saved, err := c.PushNote(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, "srv-42", saved.ID)
	assert.Equal(t, "offline note", saved.Text)
}

func TestDeleteNote(t *testing.T) {
	var calledPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		calledPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DeleteNote(context.Background(), "p1", "n9"))
	assert.Equal(t, "/fieldnotes/p1/notes/n9", calledPath)
}

func TestNonSuccessStatusIsAnError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"parcel not found"}`, http.StatusNotFound)
	}))

	_, err := c.SyncParcel(context.Background(), "missing", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "parcel not found")
}

func TestParcelKeyIsPathEscaped(t *testing.T) {
	var calledPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(map[string]string{"update": "t"})
	}))

	_, err := c.SyncParcel(context.Background(), "lot/7", "")
	require.NoError(t, err)
	assert.Equal(t, "/fieldnotes/lot%2F7/sync", calledPath)
}
