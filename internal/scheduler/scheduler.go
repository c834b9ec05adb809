package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetryScheduler tracks one pending backoff timer per operation id.
// Scheduling for an id that already has a pending timer replaces it, and a
// manual retry or removal cancels it, so a stale timer can never re-process
// an operation that was reset or removed in the meantime.
type RetryScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger *zerolog.Logger
}

func NewRetryScheduler(logger *zerolog.Logger) *RetryScheduler {
	return &RetryScheduler{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// Schedule runs fn after delay, keyed by operation id. Any timer already
// pending for the same id is cancelled first.
func (s *RetryScheduler) Schedule(opID string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[opID]; ok {
		prev.Stop()
	}

	s.timers[opID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, opID)
		s.mu.Unlock()
		fn()
	})
	s.logger.Debug().Str("operation_id", opID).Dur("delay", delay).Msg("retry scheduled")
}

// Cancel stops the pending timer for an operation. Returns false when no
// timer was pending.
func (s *RetryScheduler) Cancel(opID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[opID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, opID)
	return true
}

// CancelAll stops every pending timer. Called on shutdown.
func (s *RetryScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Len returns the number of pending timers.
func (s *RetryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
