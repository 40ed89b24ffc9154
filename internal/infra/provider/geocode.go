package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"pulseboard/internal/domain/entity"
)

// GeocodeSource resolves a place name to coordinates through a Nominatim
// compatible search API. Geocoding results are near-immutable, which is
// why the fetch pipeline gives this endpoint a much longer cache TTL.
type GeocodeSource struct {
	client  *Client
	baseURL string
	query   string
}

// NewGeocodeSource creates a GeocodeSource for a fixed place query.
func NewGeocodeSource(client *Client, baseURL, query string) *GeocodeSource {
	return &GeocodeSource{
		client:  client,
		baseURL: baseURL,
		query:   query,
	}
}

// Endpoint implements Source.
func (s *GeocodeSource) Endpoint() entity.Endpoint {
	return entity.EndpointGeocode
}

// CacheKey carries the raw query. The cache layer normalizes casing and
// whitespace, so "Berlin, DE" and "berlin, de" share an entry.
func (s *GeocodeSource) CacheKey() string {
	return "geocode:" + s.query
}

// ProbeURL implements Source.
func (s *GeocodeSource) ProbeURL() string {
	return s.requestURL()
}

// FetchOnce implements Source.
func (s *GeocodeSource) FetchOnce(ctx context.Context) ([]byte, error) {
	body, err := s.client.Get(ctx, entity.EndpointGeocode, s.requestURL(), nil)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Validate implements Source.
func (s *GeocodeSource) Validate(payload []byte) error {
	return validateGeocode(payload)
}

func (s *GeocodeSource) requestURL() string {
	params := url.Values{}
	params.Set("q", s.query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	return s.baseURL + "/search?" + params.Encode()
}

// validateGeocode checks the search returned at least one match with
// parsable coordinates. Nominatim encodes lat and lon as strings.
func validateGeocode(body []byte) error {
	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return &entity.ValidationError{Field: "body", Message: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if len(results) == 0 {
		return &entity.ValidationError{Field: "results", Message: "no matches for query"}
	}
	if _, err := strconv.ParseFloat(results[0].Lat, 64); err != nil {
		return &entity.ValidationError{Field: "lat", Message: fmt.Sprintf("not a coordinate: %q", results[0].Lat)}
	}
	if _, err := strconv.ParseFloat(results[0].Lon, 64); err != nil {
		return &entity.ValidationError{Field: "lon", Message: fmt.Sprintf("not a coordinate: %q", results[0].Lon)}
	}
	return nil
}
