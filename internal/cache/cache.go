// Package cache layers response caching over the durable state store: a
// TTL-bound response cache, a never-expiring fallback store for last
// known good payloads, and a content hash gate that lets jobs skip
// regeneration when nothing changed.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/statestore"
	"pulseboard/pkg/clock"
)

const (
	cachePrefix      = "cache/"
	defaultFrontSize = 256
)

// ValidateFunc checks a cached payload before it is served. A non-nil
// error marks the entry corrupt, and corrupt entries are deleted on
// read.
type ValidateFunc func(payload []byte) error

// Hit is a successful lookup. Age is measured from the entry's stored
// timestamp so consumers can label how stale the data is.
type Hit struct {
	Payload  []byte
	StoredAt time.Time
	Age      time.Duration
}

// ResponseCache stores validated upstream payloads with a TTL. Entries
// live in the durable store, with a small in-process LRU in front to
// spare repeated reads within one invocation.
type ResponseCache struct {
	store statestore.Store
	front *lru.Cache[string, entity.CacheEntry]
	clock clock.Clock
}

// NewResponseCache returns a cache over store. A nil clk falls back to
// the system clock.
func NewResponseCache(store statestore.Store, clk clock.Clock) (*ResponseCache, error) {
	if clk == nil {
		clk = clock.System()
	}
	front, err := lru.New[string, entity.CacheEntry](defaultFrontSize)
	if err != nil {
		return nil, fmt.Errorf("cache: create front: %w", err)
	}
	return &ResponseCache{store: store, front: front, clock: clk}, nil
}

// Get returns the entry under key when it is present, unexpired and
// valid. Expired and invalid entries are deleted on the way out. Store
// failures surface as misses, so a broken backend degrades a fetch
// instead of failing it.
func (c *ResponseCache) Get(ctx context.Context, key string, validate ValidateFunc) (Hit, bool) {
	normalized := entity.NormalizeCacheKey(key)
	storeKey := cachePrefix + normalized
	now := c.clock.Now()

	entry, ok := c.lookup(ctx, storeKey)
	if !ok {
		return Hit{}, false
	}

	if entry.Expired(now) {
		slog.Debug("cache entry expired",
			slog.String("key", normalized),
			slog.Duration("age", entry.Age(now)))
		c.evict(ctx, storeKey)
		return Hit{}, false
	}
	if err := entry.Validate(); err != nil {
		c.evictInvalid(ctx, storeKey, err)
		return Hit{}, false
	}
	if validate != nil {
		if err := validate(entry.Payload); err != nil {
			c.evictInvalid(ctx, storeKey, err)
			return Hit{}, false
		}
	}
	return Hit{Payload: entry.Payload, StoredAt: entry.StoredAt, Age: entry.Age(now)}, true
}

// Put stores payload under key for ttl. Callers validate payloads
// before storing; the cache only checks entry shape.
func (c *ResponseCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	normalized := entity.NormalizeCacheKey(key)
	entry := entity.CacheEntry{
		Key:        normalized,
		Payload:    json.RawMessage(payload),
		StoredAt:   c.clock.Now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("cache: refusing to store %q: %w", normalized, err)
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", normalized, err)
	}
	storeKey := cachePrefix + normalized
	if err := c.store.Put(ctx, storeKey, value); err != nil {
		return fmt.Errorf("cache: store %q: %w", normalized, err)
	}
	c.front.Add(storeKey, entry)
	return nil
}

// Invalidate removes the entry under key.
func (c *ResponseCache) Invalidate(ctx context.Context, key string) error {
	normalized := entity.NormalizeCacheKey(key)
	storeKey := cachePrefix + normalized
	c.front.Remove(storeKey)
	if err := c.store.Delete(ctx, storeKey); err != nil {
		return fmt.Errorf("cache: invalidate %q: %w", normalized, err)
	}
	return nil
}

// Keys lists every cached key, without payloads.
func (c *ResponseCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.store.List(ctx, cachePrefix)
	if err != nil {
		return nil, fmt.Errorf("cache: list: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, cachePrefix))
	}
	return out, nil
}

func (c *ResponseCache) lookup(ctx context.Context, storeKey string) (entity.CacheEntry, bool) {
	if entry, ok := c.front.Get(storeKey); ok {
		return entry, true
	}
	rec, err := c.store.Get(ctx, storeKey)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		return entity.CacheEntry{}, false
	case errors.Is(err, statestore.ErrCorrupt):
		c.evictInvalid(ctx, storeKey, err)
		return entity.CacheEntry{}, false
	case err != nil:
		slog.Warn("cache read failed, treating as miss",
			slog.String("key", storeKey),
			slog.Any("error", err))
		return entity.CacheEntry{}, false
	}

	var entry entity.CacheEntry
	if err := json.Unmarshal(rec.Value, &entry); err != nil {
		c.evictInvalid(ctx, storeKey, &entity.CorruptRecordError{Key: storeKey, Err: err})
		return entity.CacheEntry{}, false
	}
	c.front.Add(storeKey, entry)
	return entry, true
}

func (c *ResponseCache) evict(ctx context.Context, storeKey string) {
	c.front.Remove(storeKey)
	if err := c.store.Delete(ctx, storeKey); err != nil {
		slog.Error("evicting cache entry failed",
			slog.String("key", storeKey),
			slog.Any("error", err))
	}
}

func (c *ResponseCache) evictInvalid(ctx context.Context, storeKey string, err error) {
	slog.Warn("discarding invalid cache entry",
		slog.String("key", storeKey),
		slog.Any("error", err))
	c.evict(ctx, storeKey)
}
