package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/statestore"
	"pulseboard/pkg/clock"
)

const changePrefix = "change/"

// ChangeDetector compares payload content hashes across invocations so
// downstream rendering can be skipped when an upstream returns the same
// data again. Detection and commit are separate steps: callers check
// ShouldRegenerate first and Commit only after the regeneration
// actually succeeded, so a crash in between repeats the work instead of
// losing it.
type ChangeDetector struct {
	store statestore.Store
	clock clock.Clock
}

// NewChangeDetector returns a detector over store. A nil clk falls back
// to the system clock.
func NewChangeDetector(store statestore.Store, clk clock.Clock) *ChangeDetector {
	if clk == nil {
		clk = clock.System()
	}
	return &ChangeDetector{store: store, clock: clk}
}

// ShouldRegenerate reports whether payload differs from the content
// last committed under key. The first sighting of a key reports true.
// Unreadable change records are discarded and treated as a first
// sighting.
func (d *ChangeDetector) ShouldRegenerate(ctx context.Context, key string, payload []byte) (bool, error) {
	sum, err := CanonicalHash(payload)
	if err != nil {
		return false, fmt.Errorf("change: hash %q: %w", key, err)
	}

	storeKey := changePrefix + key
	rec, err := d.store.Get(ctx, storeKey)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		return true, nil
	case errors.Is(err, statestore.ErrCorrupt):
		d.discard(ctx, storeKey, err)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("change: load %q: %w", key, err)
	}

	var record entity.ChangeRecord
	if err := json.Unmarshal(rec.Value, &record); err != nil {
		d.discard(ctx, storeKey, &entity.CorruptRecordError{Key: storeKey, Err: err})
		return true, nil
	}
	if err := record.Validate(); err != nil {
		d.discard(ctx, storeKey, &entity.CorruptRecordError{Key: storeKey, Err: err})
		return true, nil
	}
	return record.ContentHash != sum, nil
}

// Commit records payload's hash under key. Call it after the downstream
// consumer has successfully processed the payload.
func (d *ChangeDetector) Commit(ctx context.Context, key string, payload []byte) error {
	sum, err := CanonicalHash(payload)
	if err != nil {
		return fmt.Errorf("change: hash %q: %w", key, err)
	}
	record := entity.ChangeRecord{
		Key:         key,
		ContentHash: sum,
		RecordedAt:  d.clock.Now().UTC(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("change: encode %q: %w", key, err)
	}
	if err := d.store.Put(ctx, changePrefix+key, value); err != nil {
		return fmt.Errorf("change: store %q: %w", key, err)
	}
	return nil
}

func (d *ChangeDetector) discard(ctx context.Context, key string, err error) {
	slog.Warn("discarding unreadable change record",
		slog.String("key", key),
		slog.Any("error", err))
	if err := d.store.Delete(ctx, key); err != nil {
		slog.Error("deleting change record failed",
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// CanonicalHash returns the hex SHA-256 of payload's canonical JSON
// form. Payloads are decoded and re-encoded before hashing: the
// encoder writes object keys in sorted order, so key order and
// whitespace differences do not register as content changes.
func CanonicalHash(payload []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("payload is not valid JSON: %w", err)
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
