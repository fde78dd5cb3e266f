package zoom

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window admission gate shared by every outbound
// provider call in the process. The provider quota is account-wide, so one
// limiter instance guards the whole process, not one per integration.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
}

// NewRateLimiter creates a limiter admitting at most limit calls per trailing
// window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &RateLimiter{limit: limit, window: window}
}

// Admit blocks until the call may proceed under the quota, or until ctx is
// done. The call timestamp is recorded once admission is granted.
func (r *RateLimiter) Admit(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.prune(now)
		if len(r.calls) < r.limit {
			r.calls = append(r.calls, now)
			r.mu.Unlock()
			return nil
		}
		wait := r.calls[0].Add(r.window).Sub(now)
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// window has slid; re-check under the lock
		}
	}
}

// InFlight returns the number of calls recorded inside the current window.
func (r *RateLimiter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(time.Now())
	return len(r.calls)
}

// prune drops timestamps older than the window. Caller holds mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.calls) && !r.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.calls = append(r.calls[:0], r.calls[i:]...)
	}
}
