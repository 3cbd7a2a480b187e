package mailstrom

import (
	"context"
	"sync"
	"time"
)

// RateLimiter bounds total throughput with a sliding window: at most
// maxRequests timestamps may fall within the trailing windowSize. Acquire
// blocks until room exists. Safe for concurrent use; the prune-check-append
// sequence runs under the mutex as a single atomic step, and the lock is
// never held across a wait.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	windowSize  time.Duration
	stamps      []time.Time
}

// NewRateLimiter creates a sliding-window rate limiter.
func NewRateLimiter(maxRequests int, windowSize time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		windowSize:  windowSize,
	}
}

// Acquire waits until the window has room, then records the request. The
// window may gain additional expirations during a wait, so each wakeup
// re-evaluates from scratch.
func (rl *RateLimiter) Acquire(ctx context.Context) {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.prune(now)

		if len(rl.stamps) < rl.maxRequests {
			rl.stamps = append(rl.stamps, now)
			rl.mu.Unlock()
			return
		}

		wait := rl.stamps[0].Add(rl.windowSize).Sub(now)
		rl.mu.Unlock()

		sleepCtx(ctx, wait)
		if ctx.Err() != nil {
			return
		}
	}
}

// prune drops timestamps older than now-windowSize. Caller holds the mutex.
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rl.windowSize)
	i := 0
	for i < len(rl.stamps) && !rl.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.stamps = append(rl.stamps[:0], rl.stamps[i:]...)
	}
}

// Reset clears all recorded timestamps.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.stamps = rl.stamps[:0]
}

// CurrentCount reports the post-prune window occupancy. Intended for
// observability, not for control decisions by callers.
func (rl *RateLimiter) CurrentCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune(time.Now())
	return len(rl.stamps)
}

// MaxRequests returns the configured window capacity.
func (rl *RateLimiter) MaxRequests() int {
	return rl.maxRequests
}
