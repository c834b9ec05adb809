// Package syncer drives the operation queue: it decides when to process,
// dispatches operations to registered handlers, reconciles server responses
// through the conflict resolver and reacts to periodic and network triggers.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/netmon"
	"fieldsync/internal/notify"
	"fieldsync/internal/queue"
	"fieldsync/internal/scheduler"
	"fieldsync/internal/store"

	"github.com/rs/zerolog"
)

// Result is what a handler reports back for one operation attempt.
type Result struct {
	Success bool
	Data    json.RawMessage
	Err     string
}

// Handler submits one operation's payload to the remote service. Returning
// Success removes the operation; anything else consumes a retry.
type Handler func(ctx context.Context, op *models.QueuedOperation) Result

// RemoteAPI is the parcel-sync surface of the remote collaborator.
type RemoteAPI interface {
	SyncParcel(ctx context.Context, parcelKey, lastUpdate string) (string, error)
	FetchNotes(ctx context.Context, parcelKey string) ([]models.FieldNote, error)
}

// Coordinator owns the processing loop. At most one full queue pass runs at
// a time; within a pass operations are processed sequentially to preserve
// per-parcel ordering and avoid duplicate remote submissions.
type Coordinator struct {
	queue   *queue.OperationQueue
	kv      store.KV
	notes   store.NoteStore
	remote  RemoteAPI
	monitor *netmon.Monitor
	bus     *notify.Bus
	sched   *scheduler.RetryScheduler
	logger  *zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	processing atomic.Bool

	settingsMu sync.RWMutex
	retry      models.RetryStrategy
	merge      models.MergeSettings

	autoMu   sync.Mutex
	autoStop chan struct{}

	wg sync.WaitGroup
}

// New wires a coordinator. Merge settings persisted by a previous run take
// precedence over the provided defaults. The coordinator subscribes to
// queue updates so an enqueue while online starts a processing attempt.
func New(
	q *queue.OperationQueue,
	kv store.KV,
	notes store.NoteStore,
	remote RemoteAPI,
	monitor *netmon.Monitor,
	bus *notify.Bus,
	sched *scheduler.RetryScheduler,
	retry models.RetryStrategy,
	merge models.MergeSettings,
	logger *zerolog.Logger,
) *Coordinator {
	c := &Coordinator{
		queue:    q,
		kv:       kv,
		notes:    notes,
		remote:   remote,
		monitor:  monitor,
		bus:      bus,
		sched:    sched,
		logger:   logger,
		handlers: make(map[string]Handler),
		retry:    retry,
		merge:    merge,
	}
	c.loadMergeSettings()
	q.SetDefaultMaxRetries(retry.MaxRetries)

	bus.Subscribe(notify.EventQueueUpdated, func(*notify.Event) error {
		if c.monitor.Online() {
			go c.ProcessQueue(context.Background())
		}
		return nil
	})

	return c
}

// Start launches the network-transition listener: a reconnect with a
// non-empty queue immediately starts a processing pass.
func (c *Coordinator) Start(ctx context.Context) {
	transitions := c.monitor.Subscribe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case online := <-transitions:
				if online && c.queue.Len() > 0 {
					c.ProcessQueue(ctx)
				}
			}
		}
	}()
}

// Stop halts auto-sync and cancels every pending retry timer. Queue state
// stays durable, so nothing is lost across a restart.
func (c *Coordinator) Stop() {
	c.StopAutoSync()
	c.sched.CancelAll()
}

// Wait blocks until the network listener has exited. Call after the Start
// context is cancelled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// RegisterHandler associates an operation type with its handler. An
// operation whose type has no handler fails terminally, without retries.
func (c *Coordinator) RegisterHandler(opType string, handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[opType] = handler
}

func (c *Coordinator) handler(opType string) (Handler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	h, ok := c.handlers[opType]
	return h, ok
}

// ProcessQueue runs full passes over pending operations until none remain.
// It is a no-op when a pass is already running, the device is offline or
// nothing is pending. Failures never propagate to the caller; outcomes are
// observable through queue state and notifications.
func (c *Coordinator) ProcessQueue(ctx context.Context) {
	for {
		if !c.processing.CompareAndSwap(false, true) {
			return
		}
		c.runPass(ctx)
		c.processing.Store(false)

		// A retry timer may have re-marked an operation pending between the
		// pass's final snapshot and the flag release; its trigger was dropped
		// by the CAS above, so pick the work up here.
		if ctx.Err() != nil || !c.monitor.Online() || len(c.queue.Pending()) == 0 {
			return
		}
	}
}

func (c *Coordinator) runPass(ctx context.Context) {
	if !c.monitor.Online() {
		return
	}
	pending := c.queue.Pending()
	if len(pending) == 0 {
		return
	}

	c.publish(notify.EventSyncStarted, notify.Payload{
		Title: "Sync started",
		Body:  fmt.Sprintf("%d operations queued", len(pending)),
	})

	attempted := make(map[string]struct{})
drain:
	for {
		for _, op := range pending {
			if ctx.Err() != nil || !c.monitor.Online() {
				break drain
			}
			c.processOperation(ctx, op)
			attempted[op.ID] = struct{}{}
		}
		// Retry timers with short delays may have re-marked operations
		// pending while this pass ran; drain them in the same pass.
		pending = c.queue.Pending()
		if len(pending) == 0 {
			break
		}
	}

	// Completed operations are removed from the queue, so anything attempted
	// and still present did not make it this pass.
	var succeeded, failed int
	for id := range attempted {
		if c.queue.Get(id) == nil {
			succeeded++
		} else {
			failed++
		}
	}

	if failed == 0 {
		metrics.IncSyncPass("completed")
		c.publish(notify.EventSyncCompleted, notify.Payload{
			Title:     "Sync completed",
			Body:      fmt.Sprintf("%d operations synchronized", succeeded),
			Succeeded: succeeded,
		})
	} else {
		metrics.IncSyncPass("partial")
		c.publish(notify.EventSyncPartiallyFailed, notify.Payload{
			Title:     "Sync partially failed",
			Body:      fmt.Sprintf("%d synchronized, %d pending retry or failed", succeeded, failed),
			Succeeded: succeeded,
			Failed:    failed,
		})
	}
}

// processOperation runs a single attempt and applies the outcome back
// through the queue's mutation API. Returns true when the operation
// completed and was removed.
func (c *Coordinator) processOperation(ctx context.Context, op *models.QueuedOperation) bool {
	handler, ok := c.handler(op.Type)
	if !ok {
		c.failTerminally(ctx, op, fmt.Sprintf("no handler registered for type %q", op.Type))
		return false
	}

	if err := c.queue.SetStatus(ctx, op.ID, models.StatusInProgress); err != nil {
		// Removed by a duplicate trigger between snapshot and now.
		return false
	}

	res := invoke(ctx, handler, op)
	if res.Success {
		c.queue.Remove(ctx, op.ID)
		metrics.IncOperation("completed")
		return true
	}

	errMsg := res.Err
	if errMsg == "" {
		errMsg = "handler reported failure"
	}

	updated, err := c.queue.RecordFailure(ctx, op.ID, errMsg)
	if err != nil {
		c.logger.Error().Err(err).Str("operation_id", op.ID).Msg("record failure")
		return false
	}

	if updated.Status == models.StatusRetrying {
		metrics.IncOperation("retrying")
		metrics.IncRetry()
		delay := c.backoff().NextDelay(updated.RetryCount)
		opID := updated.ID
		c.sched.Schedule(opID, delay, func() { c.onRetryTimer(opID) })
		c.logger.Warn().
			Str("operation_id", opID).
			Int("retry_count", updated.RetryCount).
			Dur("delay", delay).
			Str("error", errMsg).
			Msg("operation failed, retry scheduled")
		return false
	}

	metrics.IncOperation("failed")
	c.publish(notify.EventOperationFailed, notify.Payload{
		OperationID:   updated.ID,
		OperationType: updated.Type,
		ParcelKey:     models.ParcelKeyFromPayload(updated.Payload),
		Title:         "Operation failed permanently",
		Body:          errMsg,
	})
	return false
}

// invoke shields the loop from a panicking handler: a panic is an ordinary
// failure subject to the standard retry policy.
func invoke(ctx context.Context, handler Handler, op *models.QueuedOperation) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Sprintf("handler panic: %v", r)}
		}
	}()
	return handler(ctx, op)
}

func (c *Coordinator) failTerminally(ctx context.Context, op *models.QueuedOperation, msg string) {
	updated, err := c.queue.FailTerminally(ctx, op.ID, msg)
	if err != nil {
		c.logger.Error().Err(err).Str("operation_id", op.ID).Msg("mark failed")
		return
	}
	metrics.IncOperation("failed")
	c.publish(notify.EventOperationFailed, notify.Payload{
		OperationID:   updated.ID,
		OperationType: updated.Type,
		ParcelKey:     models.ParcelKeyFromPayload(updated.Payload),
		Title:         "Operation failed permanently",
		Body:          msg,
	})
}

// onRetryTimer fires when an operation's backoff delay elapses. Offline, the
// operation is left pending in durable storage for the next trigger rather
// than dropped.
func (c *Coordinator) onRetryTimer(opID string) {
	op := c.queue.Get(opID)
	if op == nil || op.Status != models.StatusRetrying {
		return
	}
	if err := c.queue.SetStatus(context.Background(), opID, models.StatusPending); err != nil {
		return
	}
	if c.monitor.Online() {
		go c.ProcessQueue(context.Background())
	}
}

// StartAutoSync launches the periodic trigger. No-op when already running.
func (c *Coordinator) StartAutoSync(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	if c.autoStop != nil {
		return
	}
	stop := make(chan struct{})
	c.autoStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if c.monitor.Online() {
					c.ProcessQueue(context.Background())
				}
			}
		}
	}()
	c.logger.Info().Dur("interval", interval).Msg("auto-sync started")
}

// StopAutoSync stops the periodic trigger.
func (c *Coordinator) StopAutoSync() {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	if c.autoStop != nil {
		close(c.autoStop)
		c.autoStop = nil
	}
}

func (c *Coordinator) publish(eventType string, payload notify.Payload) {
	if err := c.bus.PublishJSON(eventType, payload); err != nil {
		c.logger.Warn().Err(err).Str("event", eventType).Msg("publish notification")
	}
}
