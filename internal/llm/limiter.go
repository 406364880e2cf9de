// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between permitted calls. One instance
// is shared by every worker in a batch: the upstream API limits the account,
// not the connection, so pacing must be process-wide.
//
// The timestamp of the last permitted call is the single piece of shared
// mutable state; it is guarded by a mutex so concurrent workers cannot
// burst past the configured rate.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter returns a Limiter with the given minimum interval. A zero or
// negative interval disables pacing.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until the caller may proceed, honoring ctx cancellation.
// The reservation is taken before sleeping so concurrent callers queue
// behind each other instead of all waking at once.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	next := l.last.Add(l.interval)
	if next.Before(now) {
		next = now
	}
	l.last = next
	l.mu.Unlock()

	if wait := next.Sub(now); wait > 0 {
		return l.sleep(ctx, wait)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
