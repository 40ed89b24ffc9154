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
	"pulseboard/internal/resilience/ratelimit"
)

func TestClient_Get_Success(t *testing.T) {
	var gotUserAgent, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"ok":true}`)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := provider.NewClient(server.Client(), nil, nil, "")

	body, err := client.Get(context.Background(), entity.EndpointWeather, server.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q, want %q", string(body), `{"ok":true}`)
	}
	if gotUserAgent != "PulseboardBot/1.0" {
		t.Errorf("User-Agent = %q, want %q", gotUserAgent, "PulseboardBot/1.0")
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want %q", gotAccept, "application/json")
	}
}

func TestClient_Get_ExtraHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if _, err := w.Write([]byte(`{}`)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := provider.NewClient(server.Client(), nil, nil, "")
	header := http.Header{}
	header.Set("Authorization", "Bearer token-123")

	if _, err := client.Get(context.Background(), entity.EndpointSleep, server.URL, header); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if gotAuth != "Bearer token-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer token-123")
	}
}

func TestClient_Get_ClassifiesStatuses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var serverErr *entity.HTTPServerError
				if !errors.As(err, &serverErr) {
					t.Fatalf("error = %v, want HTTPServerError", err)
				}
				if serverErr.StatusCode != http.StatusInternalServerError {
					t.Errorf("StatusCode = %d, want %d", serverErr.StatusCode, http.StatusInternalServerError)
				}
			},
		},
		{
			name:   "client error",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var clientErr *entity.HTTPClientError
				if !errors.As(err, &clientErr) {
					t.Fatalf("error = %v, want HTTPClientError", err)
				}
			},
		},
		{
			name:       "rate limited with hint",
			status:     http.StatusTooManyRequests,
			retryAfter: "30",
			check: func(t *testing.T, err error) {
				var rateErr *entity.RateLimitError
				if !errors.As(err, &rateErr) {
					t.Fatalf("error = %v, want RateLimitError", err)
				}
				hint, ok := rateErr.Hint()
				if !ok {
					t.Fatal("Hint() ok = false, want true")
				}
				if hint != 30*time.Second {
					t.Errorf("hint = %v, want %v", hint, 30*time.Second)
				}
			},
		},
		{
			name:   "rate limited without hint",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				var rateErr *entity.RateLimitError
				if !errors.As(err, &rateErr) {
					t.Fatalf("error = %v, want RateLimitError", err)
				}
				if _, ok := rateErr.Hint(); ok {
					t.Error("Hint() ok = true, want false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := provider.NewClient(server.Client(), nil, nil, "")

			_, err := client.Get(context.Background(), entity.EndpointWeather, server.URL, nil)
			if err == nil {
				t.Fatal("Get() error = nil, want typed error")
			}
			tt.check(t, err)
		})
	}
}

func TestClient_Get_503WithHintAsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	detector := ratelimit.NewDetector(true)
	client := provider.NewClient(server.Client(), nil, detector, "")

	_, err := client.Get(context.Background(), entity.EndpointMusic, server.URL, nil)

	var rateErr *entity.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rateErr.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want %v", rateErr.RetryAfter, 12*time.Second)
	}
}

func TestClient_Get_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := provider.NewClient(&http.Client{Timeout: time.Second}, nil, nil, "")

	_, err := client.Get(context.Background(), entity.EndpointWeather, url, nil)

	var netErr *entity.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want NetworkError", err)
	}
	if !entity.Retryable(err) {
		t.Error("Retryable() = false, want true")
	}
}

func TestClient_Get_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	client := provider.NewClient(server.Client(), nil, nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, entity.EndpointWeather, server.URL, nil)
	if err == nil {
		t.Fatal("Get() error = nil, want context canceled error")
	}
	if entity.Retryable(err) {
		t.Error("Retryable() = true for canceled context, want false")
	}
}

func TestClient_Get_CustomUserAgent(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		if _, err := w.Write([]byte(`{}`)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := provider.NewClient(server.Client(), nil, nil, "dashboard-staging/2.1")

	if _, err := client.Get(context.Background(), entity.EndpointWeather, server.URL, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if gotUserAgent != "dashboard-staging/2.1" {
		t.Errorf("User-Agent = %q, want %q", gotUserAgent, "dashboard-staging/2.1")
	}
}

func TestPacer_Wait_RespectsContext(t *testing.T) {
	// Drain the single-token burst so the next Wait has to block.
	pacer := provider.NewPacer(0.001, 1)
	if err := pacer.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := pacer.Wait(ctx); err == nil {
		t.Fatal("Wait() error = nil, want context error")
	}
}
