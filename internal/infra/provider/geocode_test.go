package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/infra/provider"
)

func TestGeocodeSource_FetchOnce_Success(t *testing.T) {
	var gotQuery, gotFormat string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		body := `[{"lat":"52.5170365","lon":"13.3888599","display_name":"Berlin, Deutschland"}]`
		if _, err := w.Write([]byte(body)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	source := provider.NewGeocodeSource(newTestClient(server), server.URL, "Berlin, DE")

	payload, err := source.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("FetchOnce() error = %v", err)
	}

	if len(payload) == 0 {
		t.Fatal("payload is empty")
	}
	if gotQuery != "Berlin, DE" {
		t.Errorf("q = %q, want %q", gotQuery, "Berlin, DE")
	}
	if gotFormat != "jsonv2" {
		t.Errorf("format = %q, want %q", gotFormat, "jsonv2")
	}
}

func TestGeocodeSource_FetchOnce_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not JSON", body: `Bandwidth limit exceeded`},
		{name: "no matches", body: `[]`},
		{name: "unparsable latitude", body: `[{"lat":"north","lon":"13.38"}]`},
		{name: "unparsable longitude", body: `[{"lat":"52.51","lon":""}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte(tt.body)); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
			}))
			defer server.Close()

			source := provider.NewGeocodeSource(newTestClient(server), server.URL, "Nowhere")

			_, err := source.FetchOnce(context.Background())

			var validationErr *entity.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestGeocodeSource_FetchOnce_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	source := provider.NewGeocodeSource(newTestClient(server), server.URL, "Berlin")

	_, err := source.FetchOnce(context.Background())

	var rateErr *entity.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if !rateErr.HasHint {
		t.Error("HasHint = false, want true")
	}
}

func TestGeocodeSource_CacheKey_CarriesQuery(t *testing.T) {
	source := provider.NewGeocodeSource(nil, "http://example.com", "Berlin, DE")
	if source.CacheKey() != "geocode:Berlin, DE" {
		t.Errorf("CacheKey() = %q, want %q", source.CacheKey(), "geocode:Berlin, DE")
	}
	if source.Endpoint() != entity.EndpointGeocode {
		t.Errorf("Endpoint() = %q, want %q", source.Endpoint(), entity.EndpointGeocode)
	}
}
