// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrRetriesExhausted marks a completion that failed after every permitted
// attempt. The wrapped chain still carries the last underlying error.
var ErrRetriesExhausted = errors.New("retries exhausted")

// AuthError reports an authentication or authorization rejection (HTTP 401
// or 403). It is never retried: the batch cannot make progress with bad
// credentials, so callers abort on it.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("model API authentication failed (HTTP %d): %s", e.StatusCode, e.Body)
}

// RateLimitError reports an HTTP 429 from the model API. Retryable.
type RateLimitError struct {
	Body string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("model API rate limited: %s", e.Body)
}

// TransientError reports a server-side failure (HTTP 5xx) or an overloaded
// response. Retryable.
type TransientError struct {
	StatusCode int
	Body       string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("model API transient failure (HTTP %d): %s", e.StatusCode, e.Body)
}

// APIError reports a non-retryable client error (4xx other than 429, 401,
// 403), typically a malformed request. Propagates immediately.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API rejected request (HTTP %d): %s", e.StatusCode, e.Body)
}

// ResponseFormatError reports an HTTP 200 whose body the client could not
// use: a decode failure or a reply with no text blocks. Retrying the same
// request deterministically produces the same failure, so it is final.
type ResponseFormatError struct {
	Err error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("model API response unusable: %v", e.Err)
}

func (e *ResponseFormatError) Unwrap() error { return e.Err }

// IsFatal reports whether err should terminate the whole batch rather than
// fail a single trial.
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// retryable reports whether err belongs to a class worth retrying: rate
// limits, server-side failures, and network errors. Auth and request
// errors are final, as are malformed response bodies.
func retryable(err error) bool {
	var (
		rateErr  *RateLimitError
		transErr *TransientError
		authErr  *AuthError
		apiErr   *APIError
		respErr  *ResponseFormatError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.As(err, &authErr), errors.As(err, &apiErr), errors.As(err, &respErr):
		return false
	case errors.As(err, &rateErr), errors.As(err, &transErr):
		return true
	}
	// Network-level failures (connection reset, timeout) arrive as plain
	// transport errors.
	return true
}
