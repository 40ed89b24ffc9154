package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"pulseboard/internal/domain/entity"
)

// defaultActivityLimit caps how many feed entries land in the payload.
const defaultActivityLimit = 20

// ActivitySource pulls a developer's public activity feed (Atom) and
// normalizes it to JSON. Feeds are the one non-JSON upstream, so the raw
// body is transformed before it reaches the cache and change detection,
// both of which require valid JSON.
type ActivitySource struct {
	client  *Client
	baseURL string
	user    string
	limit   int
	parser  *gofeed.Parser
}

// activityItem is one normalized feed entry.
type activityItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at,omitempty"`
}

// NewActivitySource creates an ActivitySource for one user's feed. A
// limit of zero or less falls back to the default.
func NewActivitySource(client *Client, baseURL, user string, limit int) *ActivitySource {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	return &ActivitySource{
		client:  client,
		baseURL: baseURL,
		user:    user,
		limit:   limit,
		parser:  gofeed.NewParser(),
	}
}

// Endpoint implements Source.
func (s *ActivitySource) Endpoint() entity.Endpoint {
	return entity.EndpointActivity
}

// CacheKey implements Source.
func (s *ActivitySource) CacheKey() string {
	return "activity:" + s.user
}

// ProbeURL implements Source.
func (s *ActivitySource) ProbeURL() string {
	return s.requestURL()
}

// FetchOnce implements Source.
func (s *ActivitySource) FetchOnce(ctx context.Context) ([]byte, error) {
	body, err := s.client.Get(ctx, entity.EndpointActivity, s.requestURL(), nil)
	if err != nil {
		return nil, err
	}

	feed, err := s.parser.ParseString(string(body))
	if err != nil {
		return nil, &entity.ValidationError{Field: "feed", Message: fmt.Sprintf("unparsable feed: %v", err)}
	}

	items := make([]activityItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(items) >= s.limit {
			break
		}
		if item.Title == "" || item.Link == "" {
			continue
		}
		entry := activityItem{Title: item.Title, URL: item.Link}
		if ts := publishedAt(item); !ts.IsZero() {
			entry.PublishedAt = ts.UTC().Format(time.RFC3339)
		}
		items = append(items, entry)
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encoding activity payload: %w", err)
	}
	return payload, nil
}

// Validate implements Source. The payload here is our own normalized
// item array, not the upstream Atom document.
func (s *ActivitySource) Validate(payload []byte) error {
	var items []activityItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return &entity.ValidationError{Field: "items", Message: fmt.Sprintf("not an activity item array: %v", err)}
	}
	return nil
}

func (s *ActivitySource) requestURL() string {
	return s.baseURL + "/" + s.user + ".atom"
}

// publishedAt prefers the published timestamp and falls back to updated,
// which is all some Atom feeds carry.
func publishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}
