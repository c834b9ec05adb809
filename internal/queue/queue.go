// Package queue owns the durable, ordered collection of pending mutations.
// Every mutation goes through this API and is followed by a full persist, so
// the only window where an update can be lost is a crash between the two.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/notify"
	"fieldsync/internal/store"

	"github.com/rs/zerolog"
)

// TimerCanceler cancels a pending backoff timer for an operation id. Manual
// retry or removal must cancel the timer so a stale callback cannot
// re-process the operation.
type TimerCanceler interface {
	Cancel(opID string) bool
}

// OperationQueue is the persisted FIFO-with-priority queue of pending
// mutations. Operations are ordered by (priority desc, createdAt asc).
type OperationQueue struct {
	mu                sync.Mutex
	ops               []*models.QueuedOperation
	defaultMaxRetries int

	kv       store.KV
	bus      *notify.Bus
	canceler TimerCanceler
	logger   *zerolog.Logger
}

// New rehydrates the queue from durable storage. A load failure degrades to
// an empty queue rather than failing construction. Operations persisted
// mid-flight (in_progress, retrying) are reset to pending: neither the
// in-flight attempt nor the backoff timer survives a restart.
func New(kv store.KV, bus *notify.Bus, canceler TimerCanceler, defaultMaxRetries int, logger *zerolog.Logger) *OperationQueue {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = 5
	}
	q := &OperationQueue{
		defaultMaxRetries: defaultMaxRetries,
		kv:                kv,
		bus:               bus,
		canceler:          canceler,
		logger:            logger,
	}
	q.load()
	return q
}

func (q *OperationQueue) load() {
	raw, err := q.kv.Get(context.Background(), store.KeyQueue)
	if err != nil {
		q.logger.Error().Err(err).Msg("load queue from storage, starting empty")
		return
	}
	if len(raw) == 0 {
		return
	}

	var ops []*models.QueuedOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		q.logger.Error().Err(err).Msg("decode persisted queue, starting empty")
		return
	}

	kept := ops[:0]
	for _, op := range ops {
		switch op.Status {
		case models.StatusCompleted:
			// Completed entries are removed on completion; a persisted one
			// is leftover state and gets dropped on load.
			continue
		case models.StatusInProgress, models.StatusRetrying:
			op.Status = models.StatusPending
		}
		kept = append(kept, op)
	}

	q.ops = kept
	q.sortLocked()
	metrics.SetQueueDepth(len(q.ops))
	q.logger.Info().Int("operations", len(q.ops)).Msg("queue rehydrated")
}

// Enqueue creates a pending operation, persists the queue and reports the
// new id. Subscribers of queue_updated (the coordinator among them) decide
// whether to start a processing attempt.
func (q *OperationQueue) Enqueue(ctx context.Context, opType string, payload any, priority int) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	q.mu.Lock()
	op := models.NewQueuedOperation(opType, raw, priority, q.defaultMaxRetries)
	q.ops = append(q.ops, op)
	q.sortLocked()
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.publishUpdated(op)
	return op.ID, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// Get returns a copy of the operation, or nil when unknown. No side effects.
func (q *OperationQueue) Get(id string) *models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if op := q.findLocked(id); op != nil {
		return op.Clone()
	}
	return nil
}

// Remove deletes an operation by id, cancelling any pending backoff timer.
// Removing an id that is already gone is a no-op returning false.
func (q *OperationQueue) Remove(ctx context.Context, id string) bool {
	if q.canceler != nil {
		q.canceler.Cancel(id)
	}

	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	op := q.ops[idx]
	q.ops = append(q.ops[:idx], q.ops[idx+1:]...)
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.publishUpdated(op)
	return true
}

// Retry resets a failed or retrying operation back to pending with a fresh
// retry budget. Any scheduled backoff timer is cancelled.
func (q *OperationQueue) Retry(ctx context.Context, id string) bool {
	if q.canceler != nil {
		q.canceler.Cancel(id)
	}

	q.mu.Lock()
	op := q.findLocked(id)
	if op == nil || (op.Status != models.StatusFailed && op.Status != models.StatusRetrying) {
		q.mu.Unlock()
		return false
	}
	q.resetLocked(op)
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.publishUpdated(op)
	return true
}

// RetryAll resets every failed or retrying operation and returns the count.
func (q *OperationQueue) RetryAll(ctx context.Context) int {
	q.mu.Lock()
	var reset []*models.QueuedOperation
	for _, op := range q.ops {
		if op.Status == models.StatusFailed || op.Status == models.StatusRetrying {
			if q.canceler != nil {
				q.canceler.Cancel(op.ID)
			}
			q.resetLocked(op)
			reset = append(reset, op)
		}
	}
	if len(reset) > 0 {
		q.persistLocked(ctx)
	}
	q.mu.Unlock()

	for _, op := range reset {
		q.publishUpdated(op)
	}
	return len(reset)
}

func (q *OperationQueue) resetLocked(op *models.QueuedOperation) {
	op.Status = models.StatusPending
	op.RetryCount = 0
	op.UpdatedAt = nowUTC()
}

// ClearCompleted removes completed entries. Completed operations are removed
// as they finish, so this is defensive cleanup.
func (q *OperationQueue) ClearCompleted(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.ops[:0]
	removed := 0
	for _, op := range q.ops {
		if op.Status == models.StatusCompleted {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	if removed > 0 {
		q.ops = kept
		q.persistLocked(ctx)
	}
	return removed
}

// Pending returns an ordered snapshot of pending operations. The coordinator
// iterates this snapshot and applies results back through the queue API, so
// the backing slice is never mutated mid-pass.
func (q *OperationQueue) Pending() []*models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*models.QueuedOperation
	for _, op := range q.ops {
		if op.Status == models.StatusPending {
			pending = append(pending, op.Clone())
		}
	}
	return pending
}

// All returns a snapshot of every queued operation in queue order.
func (q *OperationQueue) All() []*models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := make([]*models.QueuedOperation, len(q.ops))
	for i, op := range q.ops {
		ops[i] = op.Clone()
	}
	return ops
}

// Failed returns a snapshot of terminally failed operations.
func (q *OperationQueue) Failed() []*models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var failed []*models.QueuedOperation
	for _, op := range q.ops {
		if op.Status == models.StatusFailed {
			failed = append(failed, op.Clone())
		}
	}
	return failed
}

// Len returns the number of operations currently held.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// SetStatus transitions an operation's lifecycle state.
func (q *OperationQueue) SetStatus(ctx context.Context, id string, status models.OperationStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(id)
	if op == nil {
		return fmt.Errorf("operation %q not found", id)
	}
	op.Status = status
	op.UpdatedAt = nowUTC()
	q.persistLocked(ctx)
	return nil
}

// RecordFailure appends the error to the operation's diagnostic log and
// either consumes one retry (status retrying) or, when the budget is
// exhausted, marks the operation terminally failed. Returns a copy of the
// updated operation.
func (q *OperationQueue) RecordFailure(ctx context.Context, id string, errMsg string) (*models.QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(id)
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", id)
	}

	op.Errors = append(op.Errors, errMsg)
	if op.RetryCount < op.MaxRetries {
		op.RetryCount++
		op.Status = models.StatusRetrying
	} else {
		op.Status = models.StatusFailed
	}
	op.UpdatedAt = nowUTC()
	q.persistLocked(ctx)
	return op.Clone(), nil
}

// FailTerminally marks an operation failed without consuming retries, used
// for fatal, non-retryable errors such as a missing handler.
func (q *OperationQueue) FailTerminally(ctx context.Context, id string, errMsg string) (*models.QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(id)
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", id)
	}

	op.Errors = append(op.Errors, errMsg)
	op.Status = models.StatusFailed
	op.UpdatedAt = nowUTC()
	q.persistLocked(ctx)
	return op.Clone(), nil
}

// SetDefaultMaxRetries changes the retry budget stamped onto future
// operations. Already queued operations keep their budget.
func (q *OperationQueue) SetDefaultMaxRetries(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.defaultMaxRetries = n
	q.mu.Unlock()
}

func (q *OperationQueue) findLocked(id string) *models.QueuedOperation {
	if idx := q.indexLocked(id); idx >= 0 {
		return q.ops[idx]
	}
	return nil
}

func (q *OperationQueue) indexLocked(id string) int {
	for i, op := range q.ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (q *OperationQueue) sortLocked() {
	sort.SliceStable(q.ops, func(i, j int) bool {
		if q.ops[i].Priority != q.ops[j].Priority {
			return q.ops[i].Priority > q.ops[j].Priority
		}
		return q.ops[i].CreatedAt.Before(q.ops[j].CreatedAt)
	})
}

// persistLocked writes the full queue to storage. Completed entries are
// never persisted. A storage failure is logged and the in-memory state
// remains the source of truth for this run.
func (q *OperationQueue) persistLocked(ctx context.Context) {
	persistable := make([]*models.QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.Status != models.StatusCompleted {
			persistable = append(persistable, op)
		}
	}

	raw, err := json.Marshal(persistable)
	if err != nil {
		q.logger.Error().Err(err).Msg("encode queue for persistence")
		return
	}
	if err := q.kv.Set(ctx, store.KeyQueue, raw); err != nil {
		q.logger.Error().Err(err).Msg("persist queue")
	}
	metrics.SetQueueDepth(len(q.ops))
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (q *OperationQueue) publishUpdated(op *models.QueuedOperation) {
	if q.bus == nil {
		return
	}
	_ = q.bus.PublishJSON(notify.EventQueueUpdated, notify.Payload{
		OperationID:   op.ID,
		OperationType: op.Type,
		ParcelKey:     models.ParcelKeyFromPayload(op.Payload),
		Title:         "Sync queue updated",
	})
}
