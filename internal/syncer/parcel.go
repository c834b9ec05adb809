package syncer

import (
	"context"
	"fmt"

	"fieldsync/internal/conflict"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/notify"
	"fieldsync/internal/store"
)

// SyncParcel reconciles local state for one parcel with the server. It posts
// the last-known sync token, fetches the full server-side note set, merges
// each note that diverges from the local copy and persists the new token.
// On failure a parcel_sync operation is queued so the reconciliation is
// retried with the standard backoff machinery.
func (c *Coordinator) SyncParcel(ctx context.Context, parcelKey string) error {
	var token string
	if raw, err := c.kv.Get(ctx, store.TokenKey(parcelKey)); err != nil {
		c.logger.Warn().Err(err).Str("parcel_key", parcelKey).Msg("read sync token, requesting full state")
	} else if raw != nil {
		token = string(raw)
	}

	newToken, err := c.remote.SyncParcel(ctx, parcelKey, token)
	if err != nil {
		c.reportSyncFailure(ctx, parcelKey, err)
		return err
	}

	remoteNotes, err := c.remote.FetchNotes(ctx, parcelKey)
	if err != nil {
		c.reportSyncFailure(ctx, parcelKey, err)
		return err
	}

	settings := c.MergeSettings()
	merged := make([]models.FieldNote, 0, len(remoteNotes))
	conflicts := 0
	for _, remoteNote := range remoteNotes {
		local, err := c.notes.NoteByID(ctx, remoteNote.ID)
		if err != nil {
			c.logger.Error().Err(err).Str("note_id", remoteNote.ID).Msg("read local note")
			local = nil
		}
		if local != nil && !local.Equal(remoteNote) {
			conflicts++
			metrics.IncConflict(string(settings.Default))
			merged = append(merged, conflict.MergeNotes(*local, remoteNote, settings))
			continue
		}
		merged = append(merged, remoteNote)
	}

	// Notes created offline still carry local ids; their create operations
	// are queued and the server has never seen them. Keep them through the
	// replace so the pending operation can promote them later.
	locals, err := c.notes.NotesByParcel(ctx, parcelKey)
	if err != nil {
		c.logger.Error().Err(err).Str("parcel_key", parcelKey).Msg("list local notes")
	} else {
		for _, n := range locals {
			if models.IsLocalNoteID(n.ID) {
				merged = append(merged, n)
			}
		}
	}

	if err := c.notes.ReplaceParcelNotes(ctx, parcelKey, merged); err != nil {
		c.reportSyncFailure(ctx, parcelKey, err)
		return fmt.Errorf("replace notes for parcel %q: %w", parcelKey, err)
	}

	if err := c.kv.Set(ctx, store.TokenKey(parcelKey), []byte(newToken)); err != nil {
		// Next sync re-sends the old token and receives full state again.
		c.logger.Error().Err(err).Str("parcel_key", parcelKey).Msg("persist sync token")
	}

	if conflicts > 0 {
		c.publish(notify.EventConflictDetected, notify.Payload{
			ParcelKey: parcelKey,
			Title:     "Conflicts resolved during sync",
			Body:      fmt.Sprintf("%d notes merged", conflicts),
		})
	}

	c.logger.Info().
		Str("parcel_key", parcelKey).
		Int("notes", len(merged)).
		Int("conflicts", conflicts).
		Msg("parcel synchronized")
	return nil
}

// reportSyncFailure emits a conflict notification and queues a parcel_sync
// operation, unless one for this parcel is already active. The dedupe keeps
// a failing handler-initiated sync from enqueueing copies of itself.
func (c *Coordinator) reportSyncFailure(ctx context.Context, parcelKey string, cause error) {
	c.publish(notify.EventConflictDetected, notify.Payload{
		ParcelKey: parcelKey,
		Title:     "Parcel sync failed",
		Body:      cause.Error(),
	})

	for _, op := range c.queue.All() {
		if op.Type == models.OpParcelSync &&
			op.Status != models.StatusFailed &&
			models.ParcelKeyFromPayload(op.Payload) == parcelKey {
			return
		}
	}

	if _, err := c.queue.Enqueue(ctx, models.OpParcelSync, models.ParcelSyncPayload{ParcelKey: parcelKey}, 1); err != nil {
		c.logger.Error().Err(err).Str("parcel_key", parcelKey).Msg("queue parcel sync")
	}
}
