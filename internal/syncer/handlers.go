package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldsync/internal/models"
	"fieldsync/internal/remote"
	"fieldsync/internal/store"

	"github.com/rs/zerolog"
)

// RegisterNoteHandlers wires the standard handlers for the built-in
// operation types. A note create or update pushes the note to the server and
// mirrors the server's copy locally; a delete removes both sides; a
// parcel_sync runs the full reconciliation.
func RegisterNoteHandlers(c *Coordinator, client *remote.Client, notes store.NoteStore, logger *zerolog.Logger) {
	upsert := noteUpsertHandler(client, notes, logger)
	c.RegisterHandler(models.OpNoteCreate, upsert)
	c.RegisterHandler(models.OpNoteUpdate, upsert)
	c.RegisterHandler(models.OpNoteDelete, noteDeleteHandler(client, notes, logger))
	c.RegisterHandler(models.OpParcelSync, parcelSyncHandler(c))
}

// noteUpsertHandler pushes a note and reconciles ids: a note created offline
// carries a local_ id, and the server's response holds the permanent one.
func noteUpsertHandler(client *remote.Client, notes store.NoteStore, logger *zerolog.Logger) Handler {
	return func(ctx context.Context, op *models.QueuedOperation) Result {
		var note models.FieldNote
		if err := json.Unmarshal(op.Payload, &note); err != nil {
			return Result{Err: fmt.Sprintf("decode note payload: %v", err)}
		}
		if note.ParcelKey == "" {
			return Result{Err: "note payload missing parcel_key"}
		}

		saved, err := client.PushNote(ctx, note)
		if err != nil {
			return Result{Err: err.Error()}
		}
		if saved.ID == "" {
			saved = note
		}

		if saved.ID != note.ID {
			if err := notes.DeleteNote(ctx, note.ID); err != nil {
				logger.Error().Err(err).Str("note_id", note.ID).Msg("drop local-id note")
			}
		}
		if err := notes.UpsertNote(ctx, &saved); err != nil {
			logger.Error().Err(err).Str("note_id", saved.ID).Msg("mirror server note")
		}

		data, _ := json.Marshal(saved)
		return Result{Success: true, Data: data}
	}
}

func noteDeleteHandler(client *remote.Client, notes store.NoteStore, logger *zerolog.Logger) Handler {
	return func(ctx context.Context, op *models.QueuedOperation) Result {
		var payload models.NoteDeletePayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return Result{Err: fmt.Sprintf("decode delete payload: %v", err)}
		}
		if payload.NoteID == "" {
			return Result{Err: "delete payload missing note_id"}
		}

		// Notes that only ever existed locally are deleted without a round
		// trip; the server has never seen them.
		if !models.IsLocalNoteID(payload.NoteID) {
			if err := client.DeleteNote(ctx, payload.ParcelKey, payload.NoteID); err != nil {
				return Result{Err: err.Error()}
			}
		}
		if err := notes.DeleteNote(ctx, payload.NoteID); err != nil {
			logger.Error().Err(err).Str("note_id", payload.NoteID).Msg("delete local note")
		}
		return Result{Success: true}
	}
}

func parcelSyncHandler(c *Coordinator) Handler {
	return func(ctx context.Context, op *models.QueuedOperation) Result {
		var payload models.ParcelSyncPayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return Result{Err: fmt.Sprintf("decode parcel sync payload: %v", err)}
		}
		if payload.ParcelKey == "" {
			return Result{Err: "parcel sync payload missing parcel_key"}
		}
		if err := c.SyncParcel(ctx, payload.ParcelKey); err != nil {
			return Result{Err: err.Error()}
		}
		return Result{Success: true}
	}
}
