package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pdiddy/trial-search/pkg/types"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	retryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

// failNTimesBackend fails the first N calls with err, then succeeds.
type failNTimesBackend struct {
	failures int
	err      error
	calls    int
}

func (f *failNTimesBackend) Complete(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

// --- retry policy ---

func TestDoRetriesTransientFailures(t *testing.T) {
	backend := &failNTimesBackend{failures: 2, err: &TransientError{StatusCode: 503}}
	client := NewClient(backend, types.AIConfig{MaxAttempts: 5})

	out, err := client.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "ok" || backend.calls != 3 {
		t.Errorf("out = %q, calls = %d", out, backend.calls)
	}
}

func TestDoRetriesRateLimits(t *testing.T) {
	backend := &failNTimesBackend{failures: 1, err: &RateLimitError{Body: "rate_limit_error"}}
	client := NewClient(backend, types.AIConfig{MaxAttempts: 3})

	if _, err := client.Complete(context.Background(), "prompt"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if backend.calls != 2 {
		t.Errorf("calls = %d, want 2", backend.calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	backend := &failNTimesBackend{failures: 100, err: &TransientError{StatusCode: 502}}
	client := NewClient(backend, types.AIConfig{MaxAttempts: 3})

	_, err := client.Complete(context.Background(), "prompt")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Errorf("exhaustion error does not wrap the last failure: %v", err)
	}
	if backend.calls != 3 {
		t.Errorf("calls = %d, want 3", backend.calls)
	}
}

func TestDoStopsOnFatalError(t *testing.T) {
	backend := &failNTimesBackend{failures: 100, err: &AuthError{StatusCode: 401, Body: "invalid x-api-key"}}
	client := NewClient(backend, types.AIConfig{MaxAttempts: 5})

	_, err := client.Complete(context.Background(), "prompt")
	if backend.calls != 1 {
		t.Errorf("calls = %d, want 1 (auth errors must not be retried)", backend.calls)
	}
	if !IsFatal(err) {
		t.Errorf("err = %v, want fatal", err)
	}
}

func TestDoStopsOnAPIError(t *testing.T) {
	backend := &failNTimesBackend{failures: 100, err: &APIError{StatusCode: 400, Body: "invalid_request_error"}}
	client := NewClient(backend, types.AIConfig{MaxAttempts: 5})

	_, err := client.Complete(context.Background(), "prompt")
	if backend.calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx errors must not be retried)", backend.calls)
	}
	if IsFatal(err) {
		t.Errorf("err = %v, want non-fatal", err)
	}
}

func TestDoStopsOnUnusableResponse(t *testing.T) {
	// A decode failure or empty reply is deterministic: repeating the same
	// request burns quota without a chance of success.
	backend := &failNTimesBackend{failures: 100, err: &ResponseFormatError{Err: errors.New("no text content")}}
	client := NewClient(backend, types.AIConfig{MaxAttempts: 5})

	_, err := client.Complete(context.Background(), "prompt")
	if backend.calls != 1 {
		t.Errorf("calls = %d, want 1 (unusable responses must not be retried)", backend.calls)
	}
	if IsFatal(err) {
		t.Errorf("err = %v, want non-fatal", err)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &failNTimesBackend{failures: 0}
	client := NewClient(backend, types.AIConfig{})

	fn := func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	}
	if _, err := Do(ctx, client.policy, fn); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- retryable classification ---

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &RateLimitError{}, true},
		{"transient 503", &TransientError{StatusCode: 503}, true},
		{"auth 401", &AuthError{StatusCode: 401}, false},
		{"api 400", &APIError{StatusCode: 400}, false},
		{"unusable response body", &ResponseFormatError{Err: errors.New("no text content")}, false},
		{"context canceled", context.Canceled, false},
		{"unknown network error", fmt.Errorf("connection reset"), true},
		{"wrapped rate limit", fmt.Errorf("calling model API: %w", &RateLimitError{}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(&AuthError{StatusCode: 403}) {
		t.Error("AuthError not fatal")
	}
	if !IsFatal(fmt.Errorf("model call: %w", &AuthError{StatusCode: 401})) {
		t.Error("wrapped AuthError not fatal")
	}
	if IsFatal(&RateLimitError{}) || IsFatal(&TransientError{}) || IsFatal(nil) {
		t.Error("non-auth errors reported fatal")
	}
}

// --- limiter ---

// fakeClock drives a Limiter without real sleeps.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func testLimiter(interval time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiter(interval)
	l.now = clock.now
	l.sleep = clock.sleep
	return l, clock
}

func TestLimiterPacesCalls(t *testing.T) {
	l, clock := testLimiter(time.Second)

	// First call proceeds immediately.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("first call slept: %v", clock.slept)
	}

	// Second call waits out the interval.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != time.Second {
		t.Errorf("slept = %v, want [1s]", clock.slept)
	}
}

func TestLimiterQueuesSuccessiveCallers(t *testing.T) {
	l, clock := testLimiter(time.Second)

	// Each call reserves the slot after the previous one, so N calls land
	// one interval apart regardless of how fast they arrive.
	for i := 0; i < 4; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(clock.slept) != 3 {
		t.Fatalf("slept %d times, want 3: %v", len(clock.slept), clock.slept)
	}
	for i, d := range clock.slept {
		if d != time.Second {
			t.Errorf("sleep[%d] = %v, want 1s", i, d)
		}
	}
}

func TestLimiterDisabled(t *testing.T) {
	var nilLimiter *Limiter
	if err := nilLimiter.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter: %v", err)
	}

	l, clock := testLimiter(0)
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(clock.slept) != 0 {
		t.Errorf("disabled limiter slept: %v", clock.slept)
	}
}

func TestLimiterCancellation(t *testing.T) {
	l := NewLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	// Take the first slot so the next Wait must sleep.
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- backoff ---

func TestExpBackoffJitterGrows(t *testing.T) {
	for attempt := 0; attempt < 4; attempt++ {
		d := expBackoffJitter(attempt)
		base := time.Duration(1<<attempt) * retryBaseDelay
		if d < base || d > base+base/4 {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, base, base+base/4)
		}
	}
}
