package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"pulseboard/internal/domain/entity"
)

// currentFields are the observation fields requested from the forecast
// API and required in its response.
const currentFields = "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m"

// WeatherSource pulls current conditions from an Open-Meteo compatible
// forecast API. No API key; the request carries only coordinates.
type WeatherSource struct {
	client    *Client
	baseURL   string
	latitude  float64
	longitude float64
}

// NewWeatherSource creates a WeatherSource for a fixed coordinate pair.
func NewWeatherSource(client *Client, baseURL string, latitude, longitude float64) *WeatherSource {
	return &WeatherSource{
		client:    client,
		baseURL:   baseURL,
		latitude:  latitude,
		longitude: longitude,
	}
}

// Endpoint implements Source.
func (s *WeatherSource) Endpoint() entity.Endpoint {
	return entity.EndpointWeather
}

// CacheKey ties cached responses to the coordinates, so dashboards for
// different locations never share entries.
func (s *WeatherSource) CacheKey() string {
	return fmt.Sprintf("weather:%.4f,%.4f", s.latitude, s.longitude)
}

// ProbeURL implements Source.
func (s *WeatherSource) ProbeURL() string {
	return s.requestURL()
}

// FetchOnce implements Source.
func (s *WeatherSource) FetchOnce(ctx context.Context) ([]byte, error) {
	body, err := s.client.Get(ctx, entity.EndpointWeather, s.requestURL(), nil)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Validate implements Source.
func (s *WeatherSource) Validate(payload []byte) error {
	return validateWeather(payload)
}

func (s *WeatherSource) requestURL() string {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(s.latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(s.longitude, 'f', 4, 64))
	params.Set("current", currentFields)
	return s.baseURL + "/v1/forecast?" + params.Encode()
}

// validateWeather checks that the response carries the current-conditions
// block dashboards render from.
func validateWeather(body []byte) error {
	var payload struct {
		Current map[string]any `json:"current"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &entity.ValidationError{Field: "body", Message: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if len(payload.Current) == 0 {
		return &entity.ValidationError{Field: "current", Message: "missing current conditions block"}
	}
	if _, ok := payload.Current["temperature_2m"]; !ok {
		return &entity.ValidationError{Field: "current.temperature_2m", Message: "missing temperature"}
	}
	return nil
}
