package entity

import (
	"strings"
	"testing"
)

func TestEndpoint_Validate(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		wantErr  bool
	}{
		{
			name:     "simple name",
			endpoint: "weather",
			wantErr:  false,
		},
		{
			name:     "name with underscore and digits",
			endpoint: "sleep_v2",
			wantErr:  false,
		},
		{
			name:     "name with hyphen",
			endpoint: "dev-activity",
			wantErr:  false,
		},
		{
			name:     "empty name",
			endpoint: "",
			wantErr:  true,
		},
		{
			name:     "uppercase rejected",
			endpoint: "Weather",
			wantErr:  true,
		},
		{
			name:     "leading hyphen rejected",
			endpoint: "-weather",
			wantErr:  true,
		},
		{
			name:     "slash rejected",
			endpoint: "weather/berlin",
			wantErr:  true,
		},
		{
			name:     "spaces rejected",
			endpoint: "weather berlin",
			wantErr:  true,
		},
		{
			name:     "too long",
			endpoint: Endpoint(strings.Repeat("a", 65)),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.endpoint.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
