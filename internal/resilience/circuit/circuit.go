// Package circuit tracks per-endpoint failure state in the durable
// state store, so separate process invocations share one view of
// upstream health. Once consecutive failures cross the threshold an
// endpoint is blocked outright until the recovery timeout lets a single
// trial call through.
package circuit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/statestore"
	"pulseboard/pkg/clock"
)

const (
	keyPrefix   = "circuit/"
	casAttempts = 5
)

// Config holds the thresholds shared by every circuit in the registry.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens a
	// circuit.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit rejects calls before a
	// half-open trial is allowed.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the standard circuit thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  300 * time.Second,
	}
}

// Decision is the outcome of a pre-call check.
type Decision struct {
	State   entity.CircuitState
	Allowed bool

	// RetryAfter is how long the caller should wait before checking
	// again. Only set when the call is blocked.
	RetryAfter time.Duration
}

// Registry persists one CircuitRecord per endpoint. All updates go
// through compare-and-swap loops, so concurrent processes racing to
// record failures never lose an increment.
type Registry struct {
	store statestore.Store
	cfg   Config
	clock clock.Clock
}

// NewRegistry returns a Registry backed by store. A nil clk falls back
// to the system clock.
func NewRegistry(store statestore.Store, cfg Config, clk clock.Clock) *Registry {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Registry{store: store, cfg: cfg, clock: clk}
}

// Check must be called before any attempt. It reports whether the
// endpoint may be called, and moves an expired open circuit to
// half-open, claiming the single trial for this caller.
func (r *Registry) Check(ctx context.Context, endpoint entity.Endpoint) (Decision, error) {
	key := recordKey(endpoint)
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, version, err := r.load(ctx, endpoint)
		if err != nil {
			return Decision{}, err
		}
		now := r.clock.Now()

		switch rec.State {
		case entity.CircuitOpen:
			remaining := r.cfg.RecoveryTimeout - now.Sub(rec.LastFailureAt)
			if remaining > 0 {
				return Decision{State: entity.CircuitOpen, RetryAfter: remaining}, nil
			}
			rec.State = entity.CircuitHalfOpen
			rec.UpdatedAt = now
			if err := r.swap(ctx, key, rec, version); err != nil {
				if errors.Is(err, statestore.ErrVersionConflict) {
					continue
				}
				return Decision{}, err
			}
			slog.Warn("circuit half-open, allowing trial",
				slog.String("endpoint", endpoint.String()))
			return Decision{State: entity.CircuitHalfOpen, Allowed: true}, nil

		case entity.CircuitHalfOpen:
			sinceClaim := now.Sub(rec.UpdatedAt)
			if sinceClaim < r.cfg.RecoveryTimeout {
				// Another caller holds the trial.
				return Decision{
					State:      entity.CircuitHalfOpen,
					RetryAfter: r.cfg.RecoveryTimeout - sinceClaim,
				}, nil
			}
			// The trial holder never reported back, likely killed.
			rec.UpdatedAt = now
			if err := r.swap(ctx, key, rec, version); err != nil {
				if errors.Is(err, statestore.ErrVersionConflict) {
					continue
				}
				return Decision{}, err
			}
			slog.Warn("circuit trial abandoned, allowing another",
				slog.String("endpoint", endpoint.String()))
			return Decision{State: entity.CircuitHalfOpen, Allowed: true}, nil

		default:
			return Decision{State: entity.CircuitClosed, Allowed: true}, nil
		}
	}
	return Decision{}, fmt.Errorf("circuit: check %s: contention: %w",
		endpoint, statestore.ErrVersionConflict)
}

// RecordFailure counts a failed attempt. Crossing the threshold opens
// the circuit; a failed half-open trial reopens it with the timer
// restarted. Failures reported while the circuit is already open are
// dropped so late reports cannot extend the block window.
func (r *Registry) RecordFailure(ctx context.Context, endpoint entity.Endpoint) error {
	key := recordKey(endpoint)
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, version, err := r.load(ctx, endpoint)
		if err != nil {
			return err
		}
		now := r.clock.Now()

		switch rec.State {
		case entity.CircuitOpen:
			return nil
		case entity.CircuitHalfOpen:
			rec.State = entity.CircuitOpen
			rec.LastFailureAt = now
		default:
			rec.FailureCount++
			rec.LastFailureAt = now
			if rec.FailureCount >= r.cfg.FailureThreshold {
				rec.State = entity.CircuitOpen
			}
		}
		rec.Endpoint = endpoint
		rec.UpdatedAt = now

		err = r.swap(ctx, key, rec, version)
		if errors.Is(err, statestore.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		if rec.State == entity.CircuitOpen {
			slog.Warn("circuit opened",
				slog.String("endpoint", endpoint.String()),
				slog.Int("failure_count", rec.FailureCount),
				slog.Duration("recovery_timeout", r.cfg.RecoveryTimeout))
		}
		return nil
	}
	return fmt.Errorf("circuit: record failure %s: contention: %w",
		endpoint, statestore.ErrVersionConflict)
}

// RecordSuccess clears failure history. A successful half-open trial
// closes the circuit; successes reported while the circuit is open are
// ignored, since only the trial may close it.
func (r *Registry) RecordSuccess(ctx context.Context, endpoint entity.Endpoint) error {
	key := recordKey(endpoint)
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, version, err := r.load(ctx, endpoint)
		if err != nil {
			return err
		}

		closedTrial := false
		switch rec.State {
		case entity.CircuitOpen:
			slog.Debug("success reported while circuit open, ignoring",
				slog.String("endpoint", endpoint.String()))
			return nil
		case entity.CircuitHalfOpen:
			rec.State = entity.CircuitClosed
			rec.FailureCount = 0
			closedTrial = true
		default:
			if rec.FailureCount == 0 {
				return nil
			}
			rec.FailureCount = 0
		}
		rec.Endpoint = endpoint
		rec.UpdatedAt = r.clock.Now()

		err = r.swap(ctx, key, rec, version)
		if errors.Is(err, statestore.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		if closedTrial {
			slog.Info("circuit closed after successful trial",
				slog.String("endpoint", endpoint.String()))
		}
		return nil
	}
	return fmt.Errorf("circuit: record success %s: contention: %w",
		endpoint, statestore.ErrVersionConflict)
}

// Snapshot returns the stored record without changing state.
func (r *Registry) Snapshot(ctx context.Context, endpoint entity.Endpoint) (entity.CircuitRecord, error) {
	rec, _, err := r.load(ctx, endpoint)
	return rec, err
}

// All returns the record of every endpoint with circuit history.
func (r *Registry) All(ctx context.Context) ([]entity.CircuitRecord, error) {
	keys, err := r.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("circuit: list: %w", err)
	}
	records := make([]entity.CircuitRecord, 0, len(keys))
	for _, key := range keys {
		endpoint := entity.Endpoint(strings.TrimPrefix(key, keyPrefix))
		rec, _, err := r.load(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Reset wipes an endpoint's circuit history, closing it immediately.
func (r *Registry) Reset(ctx context.Context, endpoint entity.Endpoint) error {
	if err := r.store.Delete(ctx, recordKey(endpoint)); err != nil {
		return fmt.Errorf("circuit: reset %s: %w", endpoint, err)
	}
	slog.Info("circuit reset", slog.String("endpoint", endpoint.String()))
	return nil
}

// load reads and validates the record under the endpoint's key. Corrupt
// records are deleted and replaced with a fresh closed one, so a bad
// write cannot wedge an endpoint forever.
func (r *Registry) load(ctx context.Context, endpoint entity.Endpoint) (entity.CircuitRecord, int64, error) {
	key := recordKey(endpoint)
	rec, err := r.store.Get(ctx, key)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		return freshRecord(endpoint), 0, nil
	case errors.Is(err, statestore.ErrCorrupt):
		r.discardCorrupt(ctx, key, err)
		return freshRecord(endpoint), 0, nil
	case err != nil:
		return entity.CircuitRecord{}, 0, fmt.Errorf("circuit: load %s: %w", endpoint, err)
	}

	var record entity.CircuitRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		r.discardCorrupt(ctx, key, &entity.CorruptRecordError{Key: key, Err: err})
		return freshRecord(endpoint), 0, nil
	}
	if err := record.Validate(); err != nil {
		r.discardCorrupt(ctx, key, &entity.CorruptRecordError{Key: key, Err: err})
		return freshRecord(endpoint), 0, nil
	}
	return record, rec.Version, nil
}

func (r *Registry) swap(ctx context.Context, key string, record entity.CircuitRecord, version int64) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("circuit: encode %s: %w", record.Endpoint, err)
	}
	return r.store.CompareAndSwap(ctx, key, value, version)
}

func (r *Registry) discardCorrupt(ctx context.Context, key string, err error) {
	slog.Warn("discarding corrupt circuit record",
		slog.String("key", key),
		slog.Any("error", err))
	if delErr := r.store.Delete(ctx, key); delErr != nil {
		slog.Error("deleting corrupt circuit record failed",
			slog.String("key", key),
			slog.Any("error", delErr))
	}
}

func freshRecord(endpoint entity.Endpoint) entity.CircuitRecord {
	return entity.CircuitRecord{Endpoint: endpoint, State: entity.CircuitClosed}
}

func recordKey(endpoint entity.Endpoint) string {
	return statestore.Key("circuit", endpoint.String())
}
