package entity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		message  string
		expected string
	}{
		{
			name:     "simple validation error",
			field:    "payload",
			message:  "payload is empty",
			expected: "validation error on field 'payload': payload is empty",
		},
		{
			name:     "required field error",
			field:    "endpoint",
			message:  "name is required",
			expected: "validation error on field 'endpoint': name is required",
		},
		{
			name:     "empty field name",
			field:    "",
			message:  "test message",
			expected: "validation error on field '': test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &ValidationError{
				Field:   tt.field,
				Message: tt.message,
			}

			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &NetworkError{Endpoint: "weather", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "weather")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNetworkError_AsThroughWrapping(t *testing.T) {
	inner := &NetworkError{Endpoint: "music", Err: errors.New("dial tcp: timeout")}
	wrapped := fmt.Errorf("attempt 2 failed: %w", inner)

	var netErr *NetworkError
	assert.True(t, errors.As(wrapped, &netErr))
	assert.Equal(t, Endpoint("music"), netErr.Endpoint)
}

func TestHTTPServerError_Error(t *testing.T) {
	err := &HTTPServerError{Endpoint: "weather", StatusCode: 503}
	assert.Equal(t, "weather: upstream server error: HTTP 503", err.Error())
}

func TestHTTPClientError_Error(t *testing.T) {
	err := &HTTPClientError{Endpoint: "sleep", StatusCode: 401}
	assert.Equal(t, "sleep: upstream rejected request: HTTP 401", err.Error())
}

func TestRateLimitError_Hint(t *testing.T) {
	tests := []struct {
		name     string
		err      *RateLimitError
		wantHint time.Duration
		wantOK   bool
	}{
		{
			name:     "with hint",
			err:      &RateLimitError{Endpoint: "music", StatusCode: 429, RetryAfter: 42 * time.Second, HasHint: true},
			wantHint: 42 * time.Second,
			wantOK:   true,
		},
		{
			name:     "without hint",
			err:      &RateLimitError{Endpoint: "music", StatusCode: 429},
			wantHint: 0,
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint, ok := tt.err.Hint()
			assert.Equal(t, tt.wantHint, hint)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestRateLimitError_ErrorIncludesHint(t *testing.T) {
	withHint := &RateLimitError{Endpoint: "music", StatusCode: 429, RetryAfter: 10 * time.Second, HasHint: true}
	assert.Contains(t, withHint.Error(), "retry after 10s")

	withoutHint := &RateLimitError{Endpoint: "music", StatusCode: 429}
	assert.NotContains(t, withoutHint.Error(), "retry after")
}

func TestCircuitOpenError_Error(t *testing.T) {
	err := &CircuitOpenError{Endpoint: "weather", RetryAfter: 5 * time.Minute}
	assert.Contains(t, err.Error(), "circuit open")
	assert.Contains(t, err.Error(), "5m0s")
}

func TestCorruptRecordError_Unwrap(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	err := &CorruptRecordError{Key: "circuit/weather", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "circuit/weather")
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "nil error",
			err:       nil,
			retryable: false,
		},
		{
			name:      "network error",
			err:       &NetworkError{Endpoint: "weather", Err: errors.New("connection refused")},
			retryable: true,
		},
		{
			name:      "server error",
			err:       &HTTPServerError{Endpoint: "weather", StatusCode: 503},
			retryable: true,
		},
		{
			name:      "rate limited",
			err:       &RateLimitError{Endpoint: "music", StatusCode: 429},
			retryable: true,
		},
		{
			name:      "client error",
			err:       &HTTPClientError{Endpoint: "geocode", StatusCode: 404},
			retryable: false,
		},
		{
			name:      "validation error",
			err:       &ValidationError{Field: "payload", Message: "missing field"},
			retryable: false,
		},
		{
			name:      "circuit open",
			err:       &CircuitOpenError{Endpoint: "weather", RetryAfter: time.Minute},
			retryable: false,
		},
		{
			name:      "context canceled",
			err:       context.Canceled,
			retryable: false,
		},
		{
			name:      "context deadline exceeded wrapping network error",
			err:       fmt.Errorf("%w: %v", context.DeadlineExceeded, "gave up"),
			retryable: false,
		},
		{
			name:      "wrapped server error",
			err:       fmt.Errorf("attempt 2: %w", &HTTPServerError{Endpoint: "sleep", StatusCode: 500}),
			retryable: true,
		},
		{
			name:      "generic error",
			err:       errors.New("some error"),
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}
