package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/statestore"
	"pulseboard/pkg/clock"
)

const fallbackPrefix = "fallback/"

// FallbackStore keeps the last known good payload per endpoint. Records
// never expire; their age is reported alongside the payload so consumers
// can label degraded data ("last known good, 2 hours old").
type FallbackStore struct {
	store statestore.Store
	clock clock.Clock
}

// NewFallbackStore returns a fallback store over store. A nil clk falls
// back to the system clock.
func NewFallbackStore(store statestore.Store, clk clock.Clock) *FallbackStore {
	if clk == nil {
		clk = clock.System()
	}
	return &FallbackStore{store: store, clock: clk}
}

// Get returns the endpoint's last known good payload and its age. The
// second return is false when no usable record exists. Unreadable
// records are deleted so they cannot shadow the next successful fetch.
func (f *FallbackStore) Get(ctx context.Context, endpoint entity.Endpoint) (Hit, bool) {
	key := fallbackPrefix + endpoint.String()
	rec, err := f.store.Get(ctx, key)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		return Hit{}, false
	case errors.Is(err, statestore.ErrCorrupt):
		f.discard(ctx, key, err)
		return Hit{}, false
	case err != nil:
		slog.Warn("fallback read failed",
			slog.String("endpoint", endpoint.String()),
			slog.Any("error", err))
		return Hit{}, false
	}

	var record entity.FallbackRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		f.discard(ctx, key, &entity.CorruptRecordError{Key: key, Err: err})
		return Hit{}, false
	}
	if err := record.Validate(); err != nil {
		f.discard(ctx, key, &entity.CorruptRecordError{Key: key, Err: err})
		return Hit{}, false
	}
	return Hit{
		Payload:  record.Payload,
		StoredAt: record.StoredAt,
		Age:      record.Age(f.clock.Now()),
	}, true
}

// Put replaces the endpoint's last known good payload. Only payloads
// that already passed response validation belong here.
func (f *FallbackStore) Put(ctx context.Context, endpoint entity.Endpoint, payload []byte) error {
	record := entity.FallbackRecord{
		Endpoint: endpoint,
		Payload:  json.RawMessage(payload),
		StoredAt: f.clock.Now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("fallback: refusing to store %s: %w", endpoint, err)
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("fallback: encode %s: %w", endpoint, err)
	}
	if err := f.store.Put(ctx, fallbackPrefix+endpoint.String(), value); err != nil {
		return fmt.Errorf("fallback: store %s: %w", endpoint, err)
	}
	return nil
}

func (f *FallbackStore) discard(ctx context.Context, key string, err error) {
	slog.Warn("discarding unreadable fallback record",
		slog.String("key", key),
		slog.Any("error", err))
	if err := f.store.Delete(ctx, key); err != nil {
		slog.Error("deleting fallback record failed",
			slog.String("key", key),
			slog.Any("error", err))
	}
}
