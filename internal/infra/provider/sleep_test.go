package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/infra/provider"
)

// fixedClock pins Now to a known instant so date windows are assertable.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func TestSleepSource_FetchOnce_Success(t *testing.T) {
	var gotAuth, gotStart, gotEnd string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotStart = r.URL.Query().Get("start_date")
		gotEnd = r.URL.Query().Get("end_date")
		body := `{"data":[{"day":"2025-06-01","score":82}]}`
		if _, err := w.Write([]byte(body)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	clk := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	source := provider.NewSleepSource(newTestClient(server), server.URL, "secret-token", clk)

	payload, err := source.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("FetchOnce() error = %v", err)
	}

	if len(payload) == 0 {
		t.Fatal("payload is empty")
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
	}
	if gotStart != "2025-05-31" {
		t.Errorf("start_date = %q, want %q", gotStart, "2025-05-31")
	}
	if gotEnd != "2025-06-01" {
		t.Errorf("end_date = %q, want %q", gotEnd, "2025-06-01")
	}
}

func TestSleepSource_FetchOnce_EmptyDataIsValid(t *testing.T) {
	// The device may simply not have synced yet today.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"data":[]}`)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	source := provider.NewSleepSource(newTestClient(server), server.URL, "secret-token", nil)

	if _, err := source.FetchOnce(context.Background()); err != nil {
		t.Fatalf("FetchOnce() error = %v, want nil for empty data", err)
	}
}

func TestSleepSource_FetchOnce_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not JSON", body: `Service Temporarily Unavailable`},
		{name: "missing data envelope", body: `{"sleep":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte(tt.body)); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
			}))
			defer server.Close()

			source := provider.NewSleepSource(newTestClient(server), server.URL, "secret-token", nil)

			_, err := source.FetchOnce(context.Background())

			var validationErr *entity.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestSleepSource_FetchOnce_UnauthorizedIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	source := provider.NewSleepSource(newTestClient(server), server.URL, "expired-token", nil)

	_, err := source.FetchOnce(context.Background())

	var clientErr *entity.HTTPClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("error = %v, want HTTPClientError", err)
	}
	if entity.Retryable(err) {
		t.Error("Retryable() = true for expired token, want false")
	}
}

func TestSleepSource_CacheKey_ScopedToDay(t *testing.T) {
	today := &fixedClock{now: time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)}
	tomorrow := &fixedClock{now: time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC)}

	a := provider.NewSleepSource(nil, "http://example.com", "t", today)
	b := provider.NewSleepSource(nil, "http://example.com", "t", tomorrow)

	if a.CacheKey() != "sleep:2025-06-01" {
		t.Errorf("CacheKey() = %q, want %q", a.CacheKey(), "sleep:2025-06-01")
	}
	if a.CacheKey() == b.CacheKey() {
		t.Error("CacheKey() identical across midnight, want date-scoped keys")
	}
}
