package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Get(ctx, "circuit/missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		store := newStore(t)
		if err := store.Put(ctx, "circuit/weather", []byte(`{"state":"open"}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		rec, err := store.Get(ctx, "circuit/weather")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got, want := string(rec.Value), `{"state":"open"}`; got != want {
			t.Errorf("Get() value = %s, want %s", got, want)
		}
		if rec.Version != 1 {
			t.Errorf("Get() version = %d, want 1", rec.Version)
		}
	})

	t.Run("put bumps version", func(t *testing.T) {
		store := newStore(t)
		for i := 1; i <= 3; i++ {
			if err := store.Put(ctx, "circuit/weather", []byte(`{"n":1}`)); err != nil {
				t.Fatalf("Put() #%d error = %v", i, err)
			}
		}
		rec, err := store.Get(ctx, "circuit/weather")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rec.Version != 3 {
			t.Errorf("version after three puts = %d, want 3", rec.Version)
		}
	})

	t.Run("cas with version zero creates", func(t *testing.T) {
		store := newStore(t)
		if err := store.CompareAndSwap(ctx, "circuit/geocode", []byte(`{"n":1}`), 0); err != nil {
			t.Fatalf("CompareAndSwap() error = %v", err)
		}
		rec, err := store.Get(ctx, "circuit/geocode")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rec.Version != 1 {
			t.Errorf("version after create = %d, want 1", rec.Version)
		}
	})

	t.Run("cas with version zero rejects existing", func(t *testing.T) {
		store := newStore(t)
		if err := store.Put(ctx, "circuit/geocode", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		err := store.CompareAndSwap(ctx, "circuit/geocode", []byte(`{"n":2}`), 0)
		if !errors.Is(err, ErrVersionConflict) {
			t.Errorf("CompareAndSwap() error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("cas swaps matching version", func(t *testing.T) {
		store := newStore(t)
		if err := store.Put(ctx, "circuit/music", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.CompareAndSwap(ctx, "circuit/music", []byte(`{"n":2}`), 1); err != nil {
			t.Fatalf("CompareAndSwap() error = %v", err)
		}
		rec, err := store.Get(ctx, "circuit/music")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got, want := string(rec.Value), `{"n":2}`; got != want {
			t.Errorf("value after swap = %s, want %s", got, want)
		}
		if rec.Version != 2 {
			t.Errorf("version after swap = %d, want 2", rec.Version)
		}
	})

	t.Run("cas rejects stale version", func(t *testing.T) {
		store := newStore(t)
		if err := store.Put(ctx, "circuit/music", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Put(ctx, "circuit/music", []byte(`{"n":2}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		err := store.CompareAndSwap(ctx, "circuit/music", []byte(`{"n":9}`), 1)
		if !errors.Is(err, ErrVersionConflict) {
			t.Errorf("CompareAndSwap() error = %v, want ErrVersionConflict", err)
		}
		rec, err := store.Get(ctx, "circuit/music")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got, want := string(rec.Value), `{"n":2}`; got != want {
			t.Errorf("value after rejected swap = %s, want %s", got, want)
		}
	})

	t.Run("cas rejects absent key with nonzero version", func(t *testing.T) {
		store := newStore(t)
		err := store.CompareAndSwap(ctx, "circuit/absent", []byte(`{"n":1}`), 3)
		if !errors.Is(err, ErrVersionConflict) {
			t.Errorf("CompareAndSwap() error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("delete removes record", func(t *testing.T) {
		store := newStore(t)
		if err := store.Put(ctx, "cache/weather", []byte(`{"n":1}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Delete(ctx, "cache/weather"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Get(ctx, "cache/weather"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete absent key is not an error", func(t *testing.T) {
		store := newStore(t)
		if err := store.Delete(ctx, "cache/never-existed"); err != nil {
			t.Errorf("Delete() error = %v, want nil", err)
		}
	})

	t.Run("list filters by prefix and sorts", func(t *testing.T) {
		store := newStore(t)
		for _, key := range []string{"circuit/weather", "fallback/weather", "circuit/geocode"} {
			if err := store.Put(ctx, key, []byte(`{}`)); err != nil {
				t.Fatalf("Put(%s) error = %v", key, err)
			}
		}
		keys, err := store.List(ctx, "circuit/")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"circuit/geocode", "circuit/weather"}
		if !reflect.DeepEqual(keys, want) {
			t.Errorf("List(circuit/) = %v, want %v", keys, want)
		}

		all, err := store.List(ctx, "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 3 {
			t.Errorf("List(\"\") returned %d keys, want 3", len(all))
		}
	})

	t.Run("concurrent cas never loses updates", func(t *testing.T) {
		store := newStore(t)
		const key = "change/counter"
		const workers = 12

		if err := store.Put(ctx, key, []byte(`{"n":0}`)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					rec, err := store.Get(ctx, key)
					if err != nil {
						t.Errorf("Get() error = %v", err)
						return
					}
					var doc struct {
						N int `json:"n"`
					}
					if err := json.Unmarshal(rec.Value, &doc); err != nil {
						t.Errorf("Unmarshal() error = %v", err)
						return
					}
					next := fmt.Sprintf(`{"n":%d}`, doc.N+1)
					err = store.CompareAndSwap(ctx, key, []byte(next), rec.Version)
					if err == nil {
						return
					}
					if !errors.Is(err, ErrVersionConflict) {
						t.Errorf("CompareAndSwap() error = %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		rec, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		var doc struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(rec.Value, &doc); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if doc.N != workers {
			t.Errorf("counter = %d, want %d", doc.N, workers)
		}
	})
}
