// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"

	"github.com/pdiddy/trial-search/pkg/types"
)

// Client is a Backend with pacing and retries layered on. All workers in a
// batch share one Client so the limiter sees every request.
type Client struct {
	backend Backend
	limiter *Limiter
	policy  Policy
}

// NewClient wraps backend with the shared limiter and retry policy derived
// from cfg.
func NewClient(backend Backend, cfg types.AIConfig) *Client {
	return &Client{
		backend: backend,
		limiter: NewLimiter(cfg.MinRequestInterval),
		policy:  DefaultPolicy(cfg.MaxAttempts),
	}
}

// Complete paces the request through the shared limiter, calls the backend,
// and retries retryable failures under the client's policy. Every attempt,
// including retries, waits its turn on the limiter.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return c.backend.Complete(ctx, prompt)
	})
}
