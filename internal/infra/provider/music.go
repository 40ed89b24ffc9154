package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"pulseboard/internal/domain/entity"
)

// MusicSource pulls a user's recent listening history from an
// audioscrobbler compatible API.
type MusicSource struct {
	client  *Client
	baseURL string
	user    string
	apiKey  string
}

// NewMusicSource creates a MusicSource for one user's scrobbles.
func NewMusicSource(client *Client, baseURL, user, apiKey string) *MusicSource {
	return &MusicSource{
		client:  client,
		baseURL: baseURL,
		user:    user,
		apiKey:  apiKey,
	}
}

// Endpoint implements Source.
func (s *MusicSource) Endpoint() entity.Endpoint {
	return entity.EndpointMusic
}

// CacheKey implements Source.
func (s *MusicSource) CacheKey() string {
	return "music:" + s.user
}

// ProbeURL implements Source.
func (s *MusicSource) ProbeURL() string {
	return s.requestURL()
}

// FetchOnce implements Source.
func (s *MusicSource) FetchOnce(ctx context.Context) ([]byte, error) {
	body, err := s.client.Get(ctx, entity.EndpointMusic, s.requestURL(), nil)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Validate implements Source.
func (s *MusicSource) Validate(payload []byte) error {
	return validateMusic(payload)
}

func (s *MusicSource) requestURL() string {
	params := url.Values{}
	params.Set("method", "user.getrecenttracks")
	params.Set("user", s.user)
	params.Set("api_key", s.apiKey)
	params.Set("format", "json")
	params.Set("limit", "20")
	return s.baseURL + "/2.0/?" + params.Encode()
}

// validateMusic checks for the recenttracks envelope. The API reports
// some failures as an error object inside a 200 response, so that shape
// is rejected here rather than by status classification.
func validateMusic(body []byte) error {
	var payload struct {
		Error        int    `json:"error"`
		Message      string `json:"message"`
		RecentTracks *struct {
			Track []json.RawMessage `json:"track"`
		} `json:"recenttracks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &entity.ValidationError{Field: "body", Message: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if payload.Error != 0 {
		return &entity.ValidationError{Field: "error", Message: fmt.Sprintf("api error %d: %s", payload.Error, payload.Message)}
	}
	if payload.RecentTracks == nil {
		return &entity.ValidationError{Field: "recenttracks", Message: "missing recenttracks envelope"}
	}
	return nil
}
