// Package statestore persists the small versioned records that the
// resilience layer needs to survive process restarts: circuit breaker
// state, cached responses, fallback snapshots and content hashes.
//
// Every backend implements the same optimistic concurrency contract. A
// record carries a monotonically increasing version, Put overwrites
// unconditionally, and CompareAndSwap succeeds only when the caller holds
// the latest version, so concurrent read-modify-write loops never lose
// updates.
package statestore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no record exists under the key.
	ErrNotFound = errors.New("statestore: key not found")

	// ErrVersionConflict is returned by CompareAndSwap when the stored
	// version differs from the expected one. Callers re-read and retry.
	ErrVersionConflict = errors.New("statestore: version conflict")

	// ErrCorrupt is returned when a record exists but cannot be decoded.
	// Callers usually delete the key and start over.
	ErrCorrupt = errors.New("statestore: corrupt record")
)

// Record is a versioned value read from a Store.
type Record struct {
	// Value is the stored document. Backends treat it as opaque bytes but
	// expect valid JSON so that JSON-native backends can hold it.
	Value []byte

	// Version increases by one on every successful write. It is never
	// zero for an existing record.
	Version int64
}

// Store is a durable key-value store with optimistic concurrency.
//
// Keys are slash-separated paths such as "circuit/weather" or
// "fallback/geocode".
type Store interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Put writes value under key, creating the record or overwriting it
	// and bumping its version.
	Put(ctx context.Context, key string, value []byte) error

	// CompareAndSwap writes value only if the stored version equals
	// version. A version of zero means the record must not exist yet.
	// Returns ErrVersionConflict when the precondition fails.
	CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error

	// Delete removes the record under key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys that start with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Key joins path segments into a store key.
func Key(segments ...string) string {
	return strings.Join(segments, "/")
}
