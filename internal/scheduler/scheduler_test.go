package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestScheduleFires(t *testing.T) {
	s := NewRetryScheduler(testLogger())
	fired := make(chan struct{})

	s.Schedule("op-1", 5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if s.Len() != 0 {
		t.Fatalf("fired timer must be removed, len=%d", s.Len())
	}
}

func TestCancelStopsTimer(t *testing.T) {
	s := NewRetryScheduler(testLogger())
	var fired atomic.Bool

	s.Schedule("op-1", 20*time.Millisecond, func() { fired.Store(true) })
	if !s.Cancel("op-1") {
		t.Fatal("Cancel must report a pending timer")
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled timer fired")
	}
	if s.Cancel("op-1") {
		t.Fatal("second Cancel must report no timer")
	}
}

func TestScheduleReplacesPendingTimer(t *testing.T) {
	s := NewRetryScheduler(testLogger())
	var first, second atomic.Bool

	s.Schedule("op-1", 10*time.Millisecond, func() { first.Store(true) })
	s.Schedule("op-1", 10*time.Millisecond, func() { second.Store(true) })

	time.Sleep(50 * time.Millisecond)
	if first.Load() {
		t.Fatal("replaced timer fired")
	}
	if !second.Load() {
		t.Fatal("replacement timer never fired")
	}
}

func TestCancelAll(t *testing.T) {
	s := NewRetryScheduler(testLogger())
	var count atomic.Int32

	for _, id := range []string{"a", "b", "c"} {
		s.Schedule(id, 20*time.Millisecond, func() { count.Add(1) })
	}
	s.CancelAll()

	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Fatalf("%d cancelled timers fired", got)
	}
	if s.Len() != 0 {
		t.Fatalf("len after CancelAll: %d", s.Len())
	}
}
