package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"pulseboard/internal/domain/entity"
	"pulseboard/pkg/clock"
)

// dateLayout is the calendar-date format the wearable API expects.
const dateLayout = "2006-01-02"

// SleepSource pulls daily sleep summaries from a wearable vendor's API.
// Requests carry a bearer token and a one-day window ending today.
type SleepSource struct {
	client  *Client
	baseURL string
	token   string
	clock   clock.Clock
}

// NewSleepSource creates a SleepSource. A nil clk uses the system clock.
func NewSleepSource(client *Client, baseURL, token string, clk clock.Clock) *SleepSource {
	if clk == nil {
		clk = clock.System()
	}
	return &SleepSource{
		client:  client,
		baseURL: baseURL,
		token:   token,
		clock:   clk,
	}
}

// Endpoint implements Source.
func (s *SleepSource) Endpoint() entity.Endpoint {
	return entity.EndpointSleep
}

// CacheKey is scoped to today's date. Tomorrow's run must not serve
// today's scores out of the cache regardless of TTL.
func (s *SleepSource) CacheKey() string {
	return "sleep:" + s.clock.Now().UTC().Format(dateLayout)
}

// ProbeURL implements Source.
func (s *SleepSource) ProbeURL() string {
	return s.requestURL()
}

// FetchOnce implements Source.
func (s *SleepSource) FetchOnce(ctx context.Context) ([]byte, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	body, err := s.client.Get(ctx, entity.EndpointSleep, s.requestURL(), header)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Validate implements Source.
func (s *SleepSource) Validate(payload []byte) error {
	return validateSleep(payload)
}

func (s *SleepSource) requestURL() string {
	now := s.clock.Now().UTC()
	params := url.Values{}
	params.Set("start_date", now.AddDate(0, 0, -1).Format(dateLayout))
	params.Set("end_date", now.Format(dateLayout))
	return s.baseURL + "/v2/usercollection/daily_sleep?" + params.Encode()
}

// validateSleep checks for the data envelope. An empty array is fine, it
// just means the device has not synced yet today.
func validateSleep(body []byte) error {
	var payload struct {
		Data *[]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &entity.ValidationError{Field: "body", Message: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if payload.Data == nil {
		return &entity.ValidationError{Field: "data", Message: "missing data envelope"}
	}
	return nil
}
