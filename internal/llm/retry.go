// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// retryBaseDelay controls the base duration for exponential backoff.
// Tests override this to avoid real sleeps.
var retryBaseDelay = 2 * time.Second

const defaultMaxAttempts = 5

// Policy describes how completion calls are retried. Backoff maps a
// zero-based attempt number to a delay before the next attempt; Retryable
// decides whether an error class is worth another attempt.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// DefaultPolicy retries rate limits and transient failures up to
// maxAttempts times with exponential backoff and jitter. When maxAttempts
// is 0 the default (5) is used.
func DefaultPolicy(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     expBackoffJitter,
		Retryable:   retryable,
	}
}

// expBackoffJitter doubles the base delay each attempt and adds up to 25%
// random jitter so concurrent workers do not retry in lockstep.
func expBackoffJitter(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * retryBaseDelay
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// Do runs fn under the policy, sleeping between attempts and honoring ctx
// cancellation. After the final failed attempt the error is wrapped with
// ErrRetriesExhausted so callers can distinguish exhaustion from a fatal
// first-attempt error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Backoff(attempt - 1)):
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !p.Retryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}
