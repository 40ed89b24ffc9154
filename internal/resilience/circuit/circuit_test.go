package circuit

import (
	"context"
	"sync"
	"testing"
	"time"

	"pulseboard/internal/domain/entity"
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

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *statestore.MemoryStore) {
	t.Helper()
	store := statestore.NewMemoryStore()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewRegistry(store, DefaultConfig(), clk), clk, store
}

func failTimes(t *testing.T, reg *Registry, endpoint entity.Endpoint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := reg.RecordFailure(context.Background(), endpoint); err != nil {
			t.Fatalf("RecordFailure() #%d error = %v", i+1, err)
		}
	}
}

func TestCheck_FreshEndpointIsAllowed(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	decision, err := reg.Check(context.Background(), "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Check() allowed = false, want true")
	}
	if decision.State != entity.CircuitClosed {
		t.Errorf("Check() state = %v, want closed", decision.State)
	}
}

func TestRecordFailure_OpensAtThreshold(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 2)
	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("Check() after 2 failures allowed = false, want true")
	}

	failTimes(t, reg, "weather", 1)
	decision, err = reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Allowed {
		t.Errorf("Check() after 3 failures allowed = true, want blocked")
	}
	if decision.State != entity.CircuitOpen {
		t.Errorf("Check() state = %v, want open", decision.State)
	}
	if decision.RetryAfter != 300*time.Second {
		t.Errorf("Check() retry after = %v, want 300s", decision.RetryAfter)
	}
}

func TestCheck_BlockedReportsRemainingWait(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)

	failTimes(t, reg, "weather", 3)
	clk.advance(100 * time.Second)

	decision, err := reg.Check(context.Background(), "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Allowed {
		t.Fatalf("Check() allowed = true, want blocked")
	}
	if decision.RetryAfter != 200*time.Second {
		t.Errorf("Check() retry after = %v, want 200s", decision.RetryAfter)
	}
}

func TestCheck_HalfOpenAfterTimeoutAllowsSingleTrial(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 3)
	clk.advance(300 * time.Second)

	first, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !first.Allowed || first.State != entity.CircuitHalfOpen {
		t.Fatalf("Check() = %+v, want allowed half-open trial", first)
	}

	// The trial is claimed; a second caller must wait.
	second, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if second.Allowed {
		t.Errorf("second Check() allowed = true, want blocked while trial runs")
	}
	if second.State != entity.CircuitHalfOpen {
		t.Errorf("second Check() state = %v, want half-open", second.State)
	}
}

func TestRecordSuccess_ClosesHalfOpenCircuit(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 3)
	clk.advance(300 * time.Second)
	if _, err := reg.Check(ctx, "weather"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if err := reg.RecordSuccess(ctx, "weather"); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	rec, err := reg.Snapshot(ctx, "weather")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rec.State != entity.CircuitClosed {
		t.Errorf("state after trial success = %v, want closed", rec.State)
	}
	if rec.FailureCount != 0 {
		t.Errorf("failure count after trial success = %d, want 0", rec.FailureCount)
	}

	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Check() after recovery allowed = false, want true")
	}
}

func TestRecordFailure_ReopensHalfOpenCircuitWithFreshTimer(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 3)
	clk.advance(300 * time.Second)
	if _, err := reg.Check(ctx, "weather"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	// Trial fails: open again, full timeout from now.
	failTimes(t, reg, "weather", 1)

	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Allowed {
		t.Fatalf("Check() after failed trial allowed = true, want blocked")
	}
	if decision.RetryAfter != 300*time.Second {
		t.Errorf("Check() retry after = %v, want full 300s", decision.RetryAfter)
	}

	rec, err := reg.Snapshot(ctx, "weather")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rec.FailureCount != 3 {
		t.Errorf("failure count after failed trial = %d, want unchanged 3", rec.FailureCount)
	}
}

func TestRecordSuccess_ResetsFailureCount(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 2)
	if err := reg.RecordSuccess(ctx, "weather"); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	rec, err := reg.Snapshot(ctx, "weather")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rec.FailureCount != 0 {
		t.Errorf("failure count after success = %d, want 0", rec.FailureCount)
	}

	// Two more failures start from zero and stay under the threshold.
	failTimes(t, reg, "weather", 2)
	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Check() allowed = false, want true below threshold")
	}
}

func TestRecordFailure_WhileOpenDoesNotExtendTimer(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 3)
	clk.advance(100 * time.Second)

	// A straggler attempt reports a failure after opening.
	failTimes(t, reg, "weather", 1)

	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.RetryAfter != 200*time.Second {
		t.Errorf("Check() retry after = %v, want 200s (timer untouched)", decision.RetryAfter)
	}
}

func TestRecordSuccess_WhileOpenIsIgnored(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 3)
	clk.advance(10 * time.Second)

	if err := reg.RecordSuccess(ctx, "weather"); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Allowed {
		t.Errorf("Check() allowed = true, want still blocked")
	}
}

func TestRegistry_StateSharedAcrossInstances(t *testing.T) {
	store := statestore.NewMemoryStore()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	first := NewRegistry(store, DefaultConfig(), clk)
	failTimes(t, first, "weather", 3)

	// A separate instance over the same store sees the open circuit.
	second := NewRegistry(store, DefaultConfig(), clk)
	decision, err := second.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Allowed {
		t.Errorf("Check() from second instance allowed = true, want blocked")
	}
}

func TestCheck_AbandonedTrialIsReclaimed(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 3)
	clk.advance(300 * time.Second)
	if _, err := reg.Check(ctx, "weather"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	// The trial holder dies without reporting. After another full
	// timeout the trial becomes claimable again.
	clk.advance(300 * time.Second)
	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.Allowed || decision.State != entity.CircuitHalfOpen {
		t.Errorf("Check() = %+v, want reclaimed half-open trial", decision)
	}
}

func TestRegistry_CorruptRecordHealsToClosed(t *testing.T) {
	reg, _, store := newTestRegistry(t)
	ctx := context.Background()

	if err := store.Put(ctx, "circuit/weather", []byte(`{"state":"no-such-state"`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Check() with corrupt record allowed = false, want true")
	}

	// The broken record is gone, so the next failure starts from zero.
	if _, err := store.Get(ctx, "circuit/weather"); err == nil {
		t.Errorf("corrupt record still present, want deleted")
	}
}

func TestRecordFailure_ConcurrentIncrementsAreNotLost(t *testing.T) {
	store := statestore.NewMemoryStore()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{FailureThreshold: 100, RecoveryTimeout: 300 * time.Second}
	reg := NewRegistry(store, cfg, clk)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.RecordFailure(ctx, "weather"); err != nil {
				t.Errorf("RecordFailure() error = %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := reg.Snapshot(ctx, "weather")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rec.FailureCount != workers {
		t.Errorf("failure count = %d, want %d", rec.FailureCount, workers)
	}
}

func TestReset_ClosesCircuit(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 3)
	if err := reg.Reset(ctx, "weather"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	decision, err := reg.Check(ctx, "weather")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Check() after reset allowed = false, want true")
	}
}

func TestAll_ListsEveryTrackedEndpoint(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	failTimes(t, reg, "weather", 1)
	failTimes(t, reg, "geocode", 3)

	records, err := reg.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("All() returned %d records, want 2", len(records))
	}
	// Keys list sorted, so geocode comes first.
	if records[0].Endpoint != "geocode" || records[0].State != entity.CircuitOpen {
		t.Errorf("records[0] = %+v, want open geocode", records[0])
	}
	if records[1].Endpoint != "weather" || records[1].FailureCount != 1 {
		t.Errorf("records[1] = %+v, want weather with one failure", records[1])
	}
}
