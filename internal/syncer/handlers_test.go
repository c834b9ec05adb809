package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/models"
	"fieldsync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRemoteClient(t *testing.T, handler http.Handler) *remote.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return remote.NewClient(config.RemoteConfig{
		BaseURL: srv.URL, TimeoutSeconds: 5, RPS: 1000, Burst: 1000,
	}, testLogger())
}

func TestNoteCreatePromotesLocalID(t *testing.T) {
	h := newHarness(t, fastRetry(3))
	ctx := context.Background()

	client := testRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var note models.FieldNote
		require.NoError(t, json.NewDecoder(r.Body).Decode(&note))
		note.ID = "srv-77"
		_ = json.NewEncoder(w).Encode(note)
	}))
	RegisterNoteHandlers(h.coord, client, h.kv, testLogger())

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	localID := models.NewLocalNoteID()
	note := models.FieldNote{ID: localID, ParcelKey: "p1", Text: "offline", CreatedAt: base, UpdatedAt: base}
	require.NoError(t, h.kv.UpsertNote(ctx, &note))

	_, err := h.queue.Enqueue(ctx, models.OpNoteCreate, note, 1)
	require.NoError(t, err)

	waitFor(t, func() bool { return h.queue.Len() == 0 }, "create never completed")

	promoted, err := h.kv.NoteByID(ctx, "srv-77")
	require.NoError(t, err)
	require.NotNil(t, promoted, "server copy mirrored under the permanent id")
	assert.Equal(t, "offline", promoted.Text)

	stale, err := h.kv.NoteByID(ctx, localID)
	require.NoError(t, err)
	assert.Nil(t, stale, "local-id copy removed after promotion")
}

func TestNoteDeleteSkipsServerForLocalOnlyNotes(t *testing.T) {
	h := newHarness(t, fastRetry(3))
	ctx := context.Background()

	var serverCalls atomic.Int32
	client := testRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	RegisterNoteHandlers(h.coord, client, h.kv, testLogger())

	localID := models.NewLocalNoteID()
	note := models.FieldNote{ID: localID, ParcelKey: "p1", Text: "never synced"}
	require.NoError(t, h.kv.UpsertNote(ctx, &note))

	_, err := h.queue.Enqueue(ctx, models.OpNoteDelete,
		models.NoteDeletePayload{ParcelKey: "p1", NoteID: localID}, 1)
	require.NoError(t, err)

	waitFor(t, func() bool { return h.queue.Len() == 0 }, "delete never completed")

	assert.Equal(t, int32(0), serverCalls.Load(), "server never saw this note")
	gone, err := h.kv.NoteByID(ctx, localID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestNoteDeleteRoundTripsServer(t *testing.T) {
	h := newHarness(t, fastRetry(3))
	ctx := context.Background()

	var deletedPath atomic.Value
	client := testRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deletedPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	RegisterNoteHandlers(h.coord, client, h.kv, testLogger())

	note := models.FieldNote{ID: "srv-5", ParcelKey: "p1", Text: "synced"}
	require.NoError(t, h.kv.UpsertNote(ctx, &note))

	_, err := h.queue.Enqueue(ctx, models.OpNoteDelete,
		models.NoteDeletePayload{ParcelKey: "p1", NoteID: "srv-5"}, 1)
	require.NoError(t, err)

	waitFor(t, func() bool { return h.queue.Len() == 0 }, "delete never completed")
	assert.Equal(t, "/fieldnotes/p1/notes/srv-5", deletedPath.Load())
}

func TestMalformedPayloadFailsWithoutServerCall(t *testing.T) {
	h := newHarness(t, fastRetry(1))
	ctx := context.Background()

	var serverCalls atomic.Int32
	client := testRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverCalls.Add(1)
	}))
	RegisterNoteHandlers(h.coord, client, h.kv, testLogger())

	id, err := h.queue.Enqueue(ctx, models.OpNoteCreate, json.RawMessage(`{broken`), 1)
	require.NoError(t, err)

	waitFor(t, func() bool {
		op := h.queue.Get(id)
		return op != nil && op.Status == models.StatusFailed
	}, "malformed payload never failed")

	assert.Equal(t, int32(0), serverCalls.Load())
	op := h.queue.Get(id)
	require.NotEmpty(t, op.Errors)
	assert.Contains(t, op.Errors[0], "decode note payload")
}

func TestParcelSyncHandlerRunsReconciliation(t *testing.T) {
	h := newHarness(t, fastRetry(3))
	ctx := context.Background()

	client := testRemoteClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	// The fake RemoteAPI backs SyncParcel; the HTTP client is unused here.
	RegisterNoteHandlers(h.coord, client, h.kv, testLogger())

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	h.remote.fetchFn = func(ctx context.Context, parcelKey string) ([]models.FieldNote, error) {
		return []models.FieldNote{
			{ID: "srv-1", ParcelKey: parcelKey, Text: "from server", CreatedAt: base, UpdatedAt: base},
		}, nil
	}

	_, err := h.queue.Enqueue(ctx, models.OpParcelSync, models.ParcelSyncPayload{ParcelKey: "p3"}, 1)
	require.NoError(t, err)

	waitFor(t, func() bool { return h.queue.Len() == 0 }, "parcel sync never completed")

	notes, err := h.kv.NotesByParcel(ctx, "p3")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "from server", notes[0].Text)
}
