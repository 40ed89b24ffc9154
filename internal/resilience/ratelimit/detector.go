// Package ratelimit classifies upstream HTTP responses into the shared
// error taxonomy and extracts server-requested backoff hints.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulseboard/internal/domain/entity"
)

// Detector maps HTTP status codes to typed errors. It recognizes
// throttling responses and pulls out the Retry-After hint when the
// server provides a usable one.
type Detector struct {
	// handle503 treats 503 responses carrying a valid Retry-After header
	// as throttling instead of a plain server error.
	handle503 bool
}

// NewDetector returns a Detector. With handle503 set, a 503 response
// with a parsable Retry-After header counts as rate limiting.
func NewDetector(handle503 bool) *Detector {
	return &Detector{handle503: handle503}
}

// Classify maps a response status to the error taxonomy, returning nil
// for success statuses. retryAfter is the raw Retry-After header value,
// empty when absent.
func (d *Detector) Classify(endpoint entity.Endpoint, statusCode int, retryAfter string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		hint, ok := ParseRetryAfter(retryAfter)
		return &entity.RateLimitError{
			Endpoint:   endpoint,
			StatusCode: statusCode,
			RetryAfter: hint,
			HasHint:    ok,
		}
	case statusCode == http.StatusServiceUnavailable && d.handle503:
		if hint, ok := ParseRetryAfter(retryAfter); ok {
			return &entity.RateLimitError{
				Endpoint:   endpoint,
				StatusCode: statusCode,
				RetryAfter: hint,
				HasHint:    true,
			}
		}
		return &entity.HTTPServerError{Endpoint: endpoint, StatusCode: statusCode}
	case statusCode >= 500 && statusCode < 600:
		return &entity.HTTPServerError{Endpoint: endpoint, StatusCode: statusCode}
	default:
		return &entity.HTTPClientError{Endpoint: endpoint, StatusCode: statusCode}
	}
}

// FromResponse classifies an *http.Response directly.
func (d *Detector) FromResponse(endpoint entity.Endpoint, resp *http.Response) error {
	return d.Classify(endpoint, resp.StatusCode, resp.Header.Get("Retry-After"))
}

// ParseRetryAfter reads a Retry-After header value as whole seconds.
// Only a bare non-negative integer is accepted; HTTP dates and anything
// malformed yield no hint, leaving the caller on its computed backoff.
func ParseRetryAfter(value string) (time.Duration, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(trimmed)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
