package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pulseboard/internal/domain/entity"
	"pulseboard/internal/observability/metrics"
	"pulseboard/internal/resilience/ratelimit"
)

const (
	// maxBodySize caps upstream response bodies at 10MB.
	maxBodySize = 10 * 1024 * 1024

	// defaultUserAgent identifies us to upstream APIs. Some providers
	// (notably public geocoders) reject anonymous clients.
	defaultUserAgent = "PulseboardBot/1.0"

	// defaultTimeout bounds a single upstream request end to end.
	defaultTimeout = 10 * time.Second
)

// Client is the HTTP machinery shared by the sources: paced GET requests
// with capped reads, every outcome classified into the typed error
// taxonomy so callers can feed it straight into a retry policy.
type Client struct {
	http      *http.Client
	pacer     *Pacer
	detector  *ratelimit.Detector
	userAgent string
}

// NewClient creates a Client. A nil httpClient gets a 10 second timeout,
// a nil pacer disables pacing, a nil detector classifies 503 as a plain
// server error, and an empty userAgent falls back to the default.
func NewClient(httpClient *http.Client, pacer *Pacer, detector *ratelimit.Detector, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if detector == nil {
		detector = ratelimit.NewDetector(false)
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		http:      httpClient,
		pacer:     pacer,
		detector:  detector,
		userAgent: userAgent,
	}
}

// Get performs one upstream request and returns the raw body. Transport
// failures come back as NetworkError, non-2xx statuses as whatever the
// detector assigns. The extra header values are added on top of the
// standard ones, which is how sources attach auth.
func (c *Client) Get(ctx context.Context, endpoint entity.Endpoint, url string, header http.Header) ([]byte, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pacing request to %s: %w", endpoint, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", endpoint, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordUpstreamRequest(endpoint.String(), "error", duration)
		return nil, &entity.NetworkError{Endpoint: endpoint, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	metrics.RecordUpstreamRequest(endpoint.String(), strconv.Itoa(resp.StatusCode), duration)

	if err := c.detector.FromResponse(endpoint, resp); err != nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		var rateErr *entity.RateLimitError
		if errors.As(err, &rateErr) {
			metrics.RecordRateLimited(endpoint.String(), rateErr.HasHint)
			slog.Warn("upstream rate limited",
				"endpoint", endpoint.String(),
				"status", resp.StatusCode,
				"hinted", rateErr.HasHint)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &entity.NetworkError{Endpoint: endpoint, Err: fmt.Errorf("reading response body: %w", err)}
	}
	return body, nil
}
