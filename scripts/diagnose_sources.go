// Standalone diagnostic for configured upstream sources. It probes each
// source's real request URL and reports reachability, latency, redirects,
// and payload shape, without touching the state store or the caches.
//
// Usage:
//
//	go run scripts/diagnose_sources.go
//
// Reads the sources file named by PULSE_SOURCES_FILE (default
// configs/sources.yaml) and writes source_diagnostic_report.json next to
// the console summary.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"pulseboard/internal/config"
	"pulseboard/internal/infra/provider"
)

// SourceDiagnostic represents the diagnostic result for a single source.
type SourceDiagnostic struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Status        string `json:"status"` // "OK", "HTTP_ERROR", "PARSE_ERROR", "EMPTY", "TIMEOUT", "REDIRECT"
	HTTPCode      int    `json:"http_code"`
	PayloadKind   string `json:"payload_kind"` // "JSON", "FEED", "UNKNOWN"
	SecretEnv     string `json:"secret_env,omitempty"`
	SecretSet     bool   `json:"secret_set"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	ResponseTime  int64  `json:"response_time_ms"`
	ContentLength int64  `json:"content_length"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

type target struct {
	name      string
	url       string
	secretEnv string
	secretSet bool
}

func main() {
	path := os.Getenv("PULSE_SOURCES_FILE")
	if path == "" {
		path = "configs/sources.yaml"
		log.Println("PULSE_SOURCES_FILE not set, using configs/sources.yaml")
	}

	sources, err := config.LoadSources(path)
	if err != nil {
		log.Fatalf("Failed to load sources file: %v", err)
	}

	targets := collectTargets(sources)
	log.Printf("Diagnosing %d sources...\n", len(targets))

	diagnostics := make([]SourceDiagnostic, 0, len(targets))
	for i, t := range targets {
		log.Printf("[%d/%d] Diagnosing: %s", i+1, len(targets), t.name)
		diag := diagnoseSource(t, 30*time.Second)
		diagnostics = append(diagnostics, diag)

		// Rate limiting to be nice to servers
		time.Sleep(500 * time.Millisecond)
	}

	printSummary(diagnostics)
	writeJSONReport(diagnostics)
}

// collectTargets builds the real request URL for every configured source.
// Unlike the worker, missing secrets are recorded instead of fatal: a
// probe with an empty credential still tells you whether the host answers.
func collectTargets(sources *config.SourcesFile) []target {
	cfg := provider.Config{
		UserAgent:            sources.Defaults.UserAgent,
		RequestsPerSecond:    sources.Defaults.RequestsPerSecond,
		Burst:                sources.Defaults.Burst,
		Handle503AsRateLimit: sources.Defaults.Treat503AsRateLimit,
	}

	secretEnvs := make(map[string]string)
	if s := sources.Sources.Weather; s != nil {
		cfg.Weather = provider.WeatherConfig{BaseURL: s.BaseURL, Latitude: s.Latitude, Longitude: s.Longitude}
	}
	if s := sources.Sources.Geocode; s != nil {
		cfg.Geocode = provider.GeocodeConfig{BaseURL: s.BaseURL, Query: s.Query}
	}
	if s := sources.Sources.Music; s != nil {
		cfg.Music = provider.MusicConfig{BaseURL: s.BaseURL, User: s.User, APIKey: os.Getenv(s.APIKeyEnv)}
		secretEnvs["music"] = s.APIKeyEnv
	}
	if s := sources.Sources.Sleep; s != nil {
		cfg.Sleep = provider.SleepConfig{BaseURL: s.BaseURL, Token: os.Getenv(s.TokenEnv)}
		secretEnvs["sleep"] = s.TokenEnv
	}
	if s := sources.Sources.Activity; s != nil {
		cfg.Activity = provider.ActivityConfig{BaseURL: s.BaseURL, User: s.User, Limit: s.Limit}
	}

	factory := provider.NewFactory(cfg, nil, nil)
	built := factory.Build()

	targets := make([]target, 0, len(built))
	for _, endpoint := range sources.Endpoints() {
		source, ok := built[endpoint]
		if !ok {
			continue
		}
		name := endpoint.String()
		secretEnv := secretEnvs[name]
		targets = append(targets, target{
			name:      name,
			url:       source.ProbeURL(),
			secretEnv: secretEnv,
			secretSet: secretEnv != "" && os.Getenv(secretEnv) != "",
		})
	}
	return targets
}

func diagnoseSource(t target, timeout time.Duration) SourceDiagnostic {
	diag := SourceDiagnostic{
		Name:      t.name,
		URL:       t.url,
		SecretEnv: t.secretEnv,
		SecretSet: t.secretSet,
	}

	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", t.url, nil)
	if err != nil {
		diag.Status = "REQUEST_ERROR"
		diag.ErrorMessage = err.Error()
		return diag
	}

	req.Header.Set("User-Agent", "Pulseboard-Diagnostic/1.0")
	req.Header.Set("Accept", "application/json, application/atom+xml;q=0.9, application/xml;q=0.8")

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	diag.ResponseTime = time.Since(startTime).Milliseconds()

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			diag.Status = "TIMEOUT"
			diag.ErrorMessage = fmt.Sprintf("Request timeout after %v", timeout)
		} else {
			diag.Status = "HTTP_ERROR"
			diag.ErrorMessage = err.Error()
		}
		return diag
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	diag.HTTPCode = resp.StatusCode
	diag.ContentLength = resp.ContentLength

	if resp.Request.URL.String() != t.url {
		diag.RedirectURL = resp.Request.URL.String()
		diag.Status = "REDIRECT"
	}

	if resp.StatusCode != 200 {
		diag.Status = "HTTP_ERROR"
		diag.ErrorMessage = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status)
		if t.secretEnv != "" && !t.secretSet && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			diag.ErrorMessage += fmt.Sprintf(" (secret %s is not set)", t.secretEnv)
		}
		return diag
	}

	body, err := readBody(resp)
	if err != nil {
		diag.Status = "READ_ERROR"
		diag.ErrorMessage = err.Error()
		return diag
	}

	if len(bytes.TrimSpace(body)) == 0 {
		diag.Status = "EMPTY"
		diag.ErrorMessage = "Response body is empty"
		return diag
	}

	kind, parseErr := classifyPayload(body)
	diag.PayloadKind = kind
	if parseErr != nil {
		diag.Status = "PARSE_ERROR"
		diag.ErrorMessage = parseErr.Error()
		return diag
	}

	if diag.Status != "REDIRECT" {
		diag.Status = "OK"
	}
	return diag
}

func readBody(resp *http.Response) ([]byte, error) {
	// 10MB cap, same bound the pipeline's client enforces.
	const maxBody = 10 << 20
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// classifyPayload distinguishes the payload shapes the pipeline knows how
// to consume: JSON documents and XML feeds.
func classifyPayload(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)

	if trimmed[0] == '{' || trimmed[0] == '[' {
		if json.Valid(trimmed) {
			return "JSON", nil
		}
		return "UNKNOWN", fmt.Errorf("payload starts like JSON but does not parse")
	}

	if trimmed[0] == '<' {
		if bytes.Contains(trimmed, []byte("<feed")) || bytes.Contains(trimmed, []byte("<rss")) {
			return "FEED", nil
		}
		return "UNKNOWN", fmt.Errorf("payload is XML but neither an Atom nor an RSS feed")
	}

	preview := string(trimmed)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return "UNKNOWN", fmt.Errorf("failed to classify payload. Content preview: %s", preview)
}

func printSummary(diagnostics []SourceDiagnostic) {
	statusCount := make(map[string]int)
	var okCount, errorCount int
	for _, d := range diagnostics {
		statusCount[d.Status]++
		if d.Status == "OK" || d.Status == "REDIRECT" {
			okCount++
		} else {
			errorCount++
		}
	}

	log.Println("===============================================")
	log.Printf("SUMMARY: working %d / broken %d (of %d)", okCount, errorCount, len(diagnostics))
	for status, count := range statusCount {
		log.Printf("  %s: %d", status, count)
	}
	log.Println("===============================================")

	for _, d := range diagnostics {
		if d.Status == "OK" || d.Status == "REDIRECT" {
			log.Printf("%s: %s kind=%s http=%d %dms", d.Name, d.Status, d.PayloadKind, d.HTTPCode, d.ResponseTime)
			if d.RedirectURL != "" {
				log.Printf("  redirected to: %s", d.RedirectURL)
			}
		} else {
			log.Printf("%s: %s %s", d.Name, d.Status, d.ErrorMessage)
		}
	}
}

func writeJSONReport(diagnostics []SourceDiagnostic) {
	data, err := json.MarshalIndent(diagnostics, "", "  ")
	if err != nil {
		log.Printf("Failed to encode JSON report: %v", err)
		return
	}
	if err := os.WriteFile("source_diagnostic_report.json", data, 0o644); err != nil {
		log.Printf("Failed to write JSON report: %v", err)
		return
	}
	log.Println("JSON report written to source_diagnostic_report.json")
}
