package scheduler

import (
	"math"
	"time"
)

// RetryPolicy defines capped exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NextDelay returns the delay for a given attempt (1-based):
// min(BaseDelay * 2^(attempt-1), MaxDelay), with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = time.Second
	}

	delay := float64(r.BaseDelay) * math.Pow(2, float64(attempt-1))
	if r.MaxDelay > 0 && delay >= float64(r.MaxDelay) {
		return r.MaxDelay
	}
	d := time.Duration(delay)
	if d <= 0 {
		// Overflow from a huge attempt number with no cap configured.
		d = r.BaseDelay
	}
	return d
}
