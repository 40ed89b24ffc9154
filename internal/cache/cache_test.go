package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"pulseboard/internal/statestore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultStore wraps a working store and fails every call once armed.
type faultStore struct {
	statestore.Store
	err error
}

func (s *faultStore) Get(ctx context.Context, key string) (statestore.Record, error) {
	if s.err != nil {
		return statestore.Record{}, s.err
	}
	return s.Store.Get(ctx, key)
}

func (s *faultStore) Put(ctx context.Context, key string, value []byte) error {
	if s.err != nil {
		return s.err
	}
	return s.Store.Put(ctx, key, value)
}

func newTestCache(t *testing.T) (*ResponseCache, *statestore.MemoryStore, *fakeClock) {
	t.Helper()
	store := statestore.NewMemoryStore()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c, err := NewResponseCache(store, clk)
	if err != nil {
		t.Fatalf("NewResponseCache: %v", err)
	}
	return c, store, clk
}

func TestResponseCache_MissWhenAbsent(t *testing.T) {
	c, _, _ := newTestCache(t)

	if _, ok := c.Get(context.Background(), "weather:berlin", nil); ok {
		t.Error("expected miss for absent key, got hit")
	}
}

func TestResponseCache_PutThenGet(t *testing.T) {
	c, _, clk := newTestCache(t)
	ctx := context.Background()
	payload := []byte(`{"temperature_c":21.5}`)

	if err := c.Put(ctx, "weather:berlin", payload, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clk.advance(10 * time.Minute)

	hit, ok := c.Get(ctx, "weather:berlin", nil)
	if !ok {
		t.Fatal("expected hit, got miss")
	}
	if string(hit.Payload) != string(payload) {
		t.Errorf("expected payload %s, got %s", payload, hit.Payload)
	}
	if hit.Age != 10*time.Minute {
		t.Errorf("expected age 10m, got %v", hit.Age)
	}
}

func TestResponseCache_ExpiresAtTTLBoundary(t *testing.T) {
	c, store, clk := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "weather:berlin", []byte(`{"temperature_c":21.5}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	clk.advance(time.Hour - time.Second)
	if _, ok := c.Get(ctx, "weather:berlin", nil); !ok {
		t.Error("expected hit just inside TTL, got miss")
	}

	clk.advance(time.Second)
	if _, ok := c.Get(ctx, "weather:berlin", nil); ok {
		t.Error("expected miss exactly at TTL, got hit")
	}

	// Expired entries are deleted, not just skipped.
	if _, err := store.Get(ctx, "cache/weather:berlin"); !errors.Is(err, statestore.ErrNotFound) {
		t.Errorf("expected expired entry deleted from store, got %v", err)
	}
}

func TestResponseCache_ValidatorRejectionEvicts(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "weather:berlin", []byte(`{"temperature_c":null}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reject := func(payload []byte) error { return fmt.Errorf("temperature_c is required") }
	if _, ok := c.Get(ctx, "weather:berlin", reject); ok {
		t.Error("expected miss for invalid payload, got hit")
	}
	if _, err := store.Get(ctx, "cache/weather:berlin"); !errors.Is(err, statestore.ErrNotFound) {
		t.Errorf("expected invalid entry deleted from store, got %v", err)
	}
}

func TestResponseCache_CorruptEntryEvicts(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	if err := store.Put(ctx, "cache/weather:berlin", []byte(`{"key":12`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := c.Get(ctx, "weather:berlin", nil); ok {
		t.Error("expected miss for corrupt entry, got hit")
	}
	if _, err := store.Get(ctx, "cache/weather:berlin"); !errors.Is(err, statestore.ErrNotFound) {
		t.Errorf("expected corrupt entry deleted from store, got %v", err)
	}
}

func TestResponseCache_NormalizesKeys(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "  Berlin,  DE ", []byte(`{"lat":52.52}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get(ctx, "berlin, de", nil); !ok {
		t.Error("expected differently formatted key to hit the same entry")
	}
}

func TestResponseCache_StoreFailureIsMiss(t *testing.T) {
	inner := statestore.NewMemoryStore()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	fault := &faultStore{Store: inner}
	c, err := NewResponseCache(fault, clk)
	if err != nil {
		t.Fatalf("NewResponseCache: %v", err)
	}
	ctx := context.Background()

	fault.err = errors.New("backend down")
	if _, ok := c.Get(ctx, "weather:berlin", nil); ok {
		t.Error("expected store failure to read as miss")
	}
	if err := c.Put(ctx, "weather:berlin", []byte(`{}`), time.Hour); err == nil {
		t.Error("expected Put to surface the store failure")
	}
}

func TestResponseCache_FrontServesRepeatReads(t *testing.T) {
	inner := statestore.NewMemoryStore()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	fault := &faultStore{Store: inner}
	c, err := NewResponseCache(fault, clk)
	if err != nil {
		t.Fatalf("NewResponseCache: %v", err)
	}
	ctx := context.Background()

	if err := c.Put(ctx, "weather:berlin", []byte(`{"temperature_c":21.5}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// With the backend failing, the in-process front still serves
	// the entry it saw written.
	fault.err = errors.New("backend down")
	if _, ok := c.Get(ctx, "weather:berlin", nil); !ok {
		t.Error("expected front to serve the entry while the backend is down")
	}
}

func TestResponseCache_RejectsUnusableEntries(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload []byte
		ttl     time.Duration
	}{
		{name: "empty payload", payload: nil, ttl: time.Hour},
		{name: "non-JSON payload", payload: []byte("plain text"), ttl: time.Hour},
		{name: "zero ttl", payload: []byte(`{}`), ttl: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Put(ctx, "weather:berlin", tt.payload, tt.ttl); err == nil {
				t.Error("expected Put to reject entry, got nil error")
			}
		})
	}
}

func TestResponseCache_InvalidateRemovesEntry(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "weather:berlin", []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Invalidate(ctx, "weather:berlin"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	if _, ok := c.Get(ctx, "weather:berlin", nil); ok {
		t.Error("expected miss after invalidation, got hit")
	}
	if _, err := store.Get(ctx, "cache/weather:berlin"); !errors.Is(err, statestore.ErrNotFound) {
		t.Errorf("expected entry removed from store, got %v", err)
	}
}

func TestResponseCache_KeysListsEntries(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	for _, key := range []string{"weather:berlin", "geocode:berlin, de"} {
		if err := c.Put(ctx, key, []byte(`{}`), time.Hour); err != nil {
			t.Fatalf("Put %q: %v", key, err)
		}
	}

	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"geocode:berlin, de", "weather:berlin"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("expected keys %v, got %v", want, keys)
	}
}
