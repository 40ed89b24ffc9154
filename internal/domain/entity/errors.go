package entity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested record was not found
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
// Validation errors are a data problem, not a transient one: they never
// consume retry budget.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NetworkError wraps a transport-level failure (timeout, DNS, connection
// refused) while calling an upstream endpoint. Retryable.
type NetworkError struct {
	Endpoint Endpoint
	Err      error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Endpoint, e.Err)
}

// Unwrap exposes the underlying transport error for errors.Is/As checks.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPServerError represents a 5xx response from an upstream endpoint.
// The upstream is presumed temporarily unhealthy. Retryable.
type HTTPServerError struct {
	Endpoint   Endpoint
	StatusCode int
}

// Error implements the error interface.
func (e *HTTPServerError) Error() string {
	return fmt.Sprintf("%s: upstream server error: HTTP %d", e.Endpoint, e.StatusCode)
}

// HTTPClientError represents a 4xx response other than 429. These indicate
// a request or auth problem on our side; retrying cannot fix them.
type HTTPClientError struct {
	Endpoint   Endpoint
	StatusCode int
}

// Error implements the error interface.
func (e *HTTPClientError) Error() string {
	return fmt.Sprintf("%s: upstream rejected request: HTTP %d", e.Endpoint, e.StatusCode)
}

// RateLimitError represents a throttled response (HTTP 429, or 503 carrying
// a Retry-After hint). Retryable; when HasHint is set, RetryAfter carries
// the server-requested minimum wait.
type RateLimitError struct {
	Endpoint   Endpoint
	StatusCode int
	RetryAfter time.Duration
	HasHint    bool
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.HasHint {
		return fmt.Sprintf("%s: rate limited: HTTP %d (retry after %s)", e.Endpoint, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited: HTTP %d", e.Endpoint, e.StatusCode)
}

// Hint returns the server-suggested wait and whether one was present.
func (e *RateLimitError) Hint() (time.Duration, bool) {
	return e.RetryAfter, e.HasHint
}

// CircuitOpenError is returned when the circuit breaker for an endpoint is
// open and the call was rejected before any network I/O. RetryAfter is the
// time remaining until a recovery trial becomes possible.
type CircuitOpenError struct {
	Endpoint   Endpoint
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open, call rejected (retry after %s)", e.Endpoint, e.RetryAfter)
}

// Retryable reports whether another attempt against the upstream can
// possibly succeed. Network failures, upstream 5xx and rate limiting are
// transient; client errors, validation failures and open circuits are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var (
		netErr    *NetworkError
		serverErr *HTTPServerError
		rateErr   *RateLimitError
	)
	return errors.As(err, &netErr) || errors.As(err, &serverErr) || errors.As(err, &rateErr)
}

// CorruptRecordError reports a persisted record that failed decoding or
// validation. Components treat it as a cache miss or fresh state rather
// than crashing, but it is surfaced in logs as a typed error.
type CorruptRecordError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt state record %q: %v", e.Key, e.Err)
}

// Unwrap exposes the underlying decode or validation error.
func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}
