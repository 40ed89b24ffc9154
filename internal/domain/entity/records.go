package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// CircuitState represents the state of an endpoint's circuit breaker.
type CircuitState int

const (
	// CircuitClosed indicates normal operation: calls proceed and failures
	// are counted.
	CircuitClosed CircuitState = iota

	// CircuitOpen indicates the endpoint is presumed down: calls fail fast
	// with CircuitOpenError and no network I/O is attempted.
	CircuitOpen

	// CircuitHalfOpen indicates the recovery window has elapsed and a single
	// trial call is permitted.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON persists the state as its string form so durable records stay
// readable and stable across re-orderings of the constants.
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the string form written by MarshalJSON.
func (s *CircuitState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "closed":
		*s = CircuitClosed
	case "open":
		*s = CircuitOpen
	case "half-open":
		*s = CircuitHalfOpen
	default:
		return fmt.Errorf("unknown circuit state %q", name)
	}
	return nil
}

// CircuitRecord is the durable circuit-breaker state for one endpoint.
// It is shared by independent job invocations through the state store and
// mutated only by the circuit registry.
type CircuitRecord struct {
	Endpoint      Endpoint     `json:"endpoint"`
	State         CircuitState `json:"state"`
	FailureCount  int          `json:"failure_count"`
	LastFailureAt time.Time    `json:"last_failure_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Validate checks structural consistency of a deserialized record.
func (r *CircuitRecord) Validate() error {
	if err := r.Endpoint.Validate(); err != nil {
		return err
	}
	if r.FailureCount < 0 {
		return &ValidationError{Field: "failure_count", Message: "must be non-negative"}
	}
	switch r.State {
	case CircuitClosed, CircuitOpen, CircuitHalfOpen:
	default:
		return &ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %d", r.State)}
	}
	// A non-closed circuit always carries its last failure time.
	if r.State != CircuitClosed && r.LastFailureAt.IsZero() {
		return &ValidationError{Field: "last_failure_at", Message: "required when circuit is not closed"}
	}
	return nil
}

// CacheEntry is a durable TTL-bound copy of a successful payload.
type CacheEntry struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	StoredAt   time.Time       `json:"stored_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// TTL returns the entry's time-to-live as a duration.
func (e *CacheEntry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Expired reports whether the entry has outlived its TTL at the given time.
// An entry expires exactly when now - stored_at >= ttl.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL()
}

// Age returns how old the entry's payload is at the given time.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Validate checks structural validity: a non-empty key, a non-empty JSON
// payload, a real timestamp, and a positive TTL. Entries failing this check
// are treated as corrupt and evicted on read.
func (e *CacheEntry) Validate() error {
	if e.Key == "" {
		return &ValidationError{Field: "key", Message: "key is required"}
	}
	if len(e.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "payload is empty"}
	}
	if !json.Valid(e.Payload) {
		return &ValidationError{Field: "payload", Message: "payload is not valid JSON"}
	}
	if e.StoredAt.IsZero() {
		return &ValidationError{Field: "stored_at", Message: "timestamp is required"}
	}
	if e.TTLSeconds <= 0 {
		return &ValidationError{Field: "ttl_seconds", Message: "must be positive"}
	}
	return nil
}

// FallbackRecord is the durable last-known-good payload for one endpoint.
// Exactly one exists per endpoint; it is overwritten on every successful
// fetch and never expired by time.
type FallbackRecord struct {
	Endpoint Endpoint        `json:"endpoint"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"stored_at"`
}

// Age returns how old the record's payload is at the given time, so
// consumers can signal "last known good, N hours old".
func (r *FallbackRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.StoredAt)
}

// Validate checks structural validity of a deserialized record.
func (r *FallbackRecord) Validate() error {
	if err := r.Endpoint.Validate(); err != nil {
		return err
	}
	if len(r.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "payload is empty"}
	}
	if !json.Valid(r.Payload) {
		return &ValidationError{Field: "payload", Message: "payload is not valid JSON"}
	}
	if r.StoredAt.IsZero() {
		return &ValidationError{Field: "stored_at", Message: "timestamp is required"}
	}
	return nil
}

// contentHashLength is the length of a hex-encoded SHA-256 digest.
const contentHashLength = 64

// ChangeRecord stores the content hash of the payload most recently handed
// to a downstream consumer, one per logical artifact. Unchanged payloads
// let the consumer skip regeneration entirely.
type ChangeRecord struct {
	Key         string    `json:"key"`
	ContentHash string    `json:"content_hash"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Validate checks structural validity of a deserialized record.
func (r *ChangeRecord) Validate() error {
	if r.Key == "" {
		return &ValidationError{Field: "key", Message: "key is required"}
	}
	if len(r.ContentHash) != contentHashLength {
		return &ValidationError{
			Field:   "content_hash",
			Message: fmt.Sprintf("must be %d hex characters", contentHashLength),
		}
	}
	return nil
}

// HealthCheckResult is the outcome of a single preflight probe. It is
// ephemeral and advisory: a passing probe does not guarantee the subsequent
// real fetch succeeds.
type HealthCheckResult struct {
	Endpoint   Endpoint      `json:"endpoint"`
	OK         bool          `json:"ok"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
}
