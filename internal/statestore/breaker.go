package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// GuardedStore wraps a remote backend with a circuit breaker so that a
// dead Redis or Postgres cannot stall every fetch. Contract errors such
// as ErrNotFound and ErrVersionConflict never count as failures.
type GuardedStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedStore wraps inner. The name shows up in logs when the
// breaker changes state.
func NewGuardedStore(inner Store, name string) *GuardedStore {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrVersionConflict) ||
				errors.Is(err, ErrCorrupt)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("state store breaker changed state",
				slog.String("store", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &GuardedStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *GuardedStore) Get(ctx context.Context, key string) (Record, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		rec, err := s.inner.Get(ctx, key)
		return rec, err
	})
	if err != nil {
		return Record{}, breakerErr("get", key, err)
	}
	return result.(Record), nil
}

func (s *GuardedStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.Put(ctx, key, value)
	})
	return breakerErr("put", key, err)
}

func (s *GuardedStore) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.CompareAndSwap(ctx, key, value, version)
	})
	return breakerErr("cas", key, err)
}

func (s *GuardedStore) Delete(ctx context.Context, key string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.Delete(ctx, key)
	})
	return breakerErr("delete", key, err)
}

func (s *GuardedStore) List(ctx context.Context, prefix string) ([]string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		keys, err := s.inner.List(ctx, prefix)
		return keys, err
	})
	if err != nil {
		return nil, breakerErr("list", prefix, err)
	}
	return result.([]string), nil
}

// State reports the breaker state for health endpoints.
func (s *GuardedStore) State() gobreaker.State {
	return s.breaker.State()
}

// IsOpen reports whether calls are currently rejected.
func (s *GuardedStore) IsOpen() bool {
	return s.breaker.State() == gobreaker.StateOpen
}

// breakerErr marks breaker rejections as backend unavailability and
// passes every other error through untouched, so contract sentinels keep
// matching with errors.Is.
func breakerErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("statestore: %s %q: backend unavailable: %w", op, key, err)
	}
	return err
}
