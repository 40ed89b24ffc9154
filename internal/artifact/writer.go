// Package artifact renders fetch results into the JSON documents that
// downstream consumers read. Each endpoint maps to one file under the
// output directory; writes go through a temp file and an atomic rename
// so readers never observe a half-written document, and a change
// detector skips the rewrite when the upstream payload has not changed
// since the last committed write.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pulseboard/internal/cache"
	"pulseboard/internal/domain/entity"
	"pulseboard/internal/observability/logging"
	"pulseboard/internal/observability/metrics"
	"pulseboard/pkg/clock"
)

// Document is the envelope written for each artifact. Payload carries
// the upstream JSON exactly as fetched; the surrounding fields tell the
// consumer how the data was obtained and how old it is.
type Document struct {
	Status     string          `json:"status"`
	FetchedAt  time.Time       `json:"fetched_at"`
	AgeSeconds int64           `json:"age_seconds"`
	Payload    json.RawMessage `json:"payload"`
}

// Stats summarizes one batch of artifact writes.
type Stats struct {
	Written int
	Skipped int
	Failed  int
}

// Writer persists rendered documents under a root directory. A nil
// detector disables change gating and every result with a payload is
// written.
type Writer struct {
	dir      string
	detector *cache.ChangeDetector
	clock    clock.Clock
}

// NewWriter creates the output directory if needed and returns a writer
// backed by it. A nil clk falls back to the system clock.
func NewWriter(dir string, detector *cache.ChangeDetector, clk clock.Clock) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("artifact: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", dir, err)
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Writer{dir: dir, detector: detector, clock: clk}, nil
}

// Write renders result to <dir>/<key>.json. It returns false when the
// file was left alone: either the result carries no payload, or the
// canonical payload matches the last committed write. Results without a
// payload never overwrite an existing document, so consumers keep
// reading the last rendered data through an outage.
func (w *Writer) Write(ctx context.Context, key string, result entity.FetchResult) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !result.HasPayload() {
		return false, nil
	}

	if skip := w.shouldSkip(ctx, key, result.Payload); skip {
		return false, nil
	}

	now := w.clock.Now().UTC()
	doc := Document{
		Status:     result.Status.String(),
		FetchedAt:  now.Add(-result.Age),
		AgeSeconds: int64(result.Age / time.Second),
		Payload:    result.Payload,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("artifact: encode %q: %w", key, err)
	}

	path := w.Path(key)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return false, fmt.Errorf("artifact: write %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("artifact: commit %q: %w", key, err)
	}

	if w.detector != nil {
		// A failed hash commit only means the next run rewrites the
		// same document, so it does not fail the write itself.
		if err := w.detector.Commit(ctx, key, result.Payload); err != nil {
			slog.Warn("recording artifact content hash failed",
				slog.String("artifact", key),
				slog.Any("error", err))
		}
	}
	return true, nil
}

// WriteAll renders a batch of results, one artifact per endpoint.
// Failures are logged and counted; one artifact's failure never blocks
// the others.
func (w *Writer) WriteAll(ctx context.Context, results []entity.FetchResult) Stats {
	logger := logging.FromContext(ctx)

	var stats Stats
	for _, result := range results {
		written, err := w.Write(ctx, result.Endpoint.String(), result)
		switch {
		case err != nil:
			stats.Failed++
			logger.Error("writing artifact failed",
				slog.String("endpoint", result.Endpoint.String()),
				slog.Any("error", err))
		case written:
			stats.Written++
		default:
			stats.Skipped++
		}
	}

	logger.Info("artifacts written",
		slog.Int("written", stats.Written),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed))
	return stats
}

// Path returns the file the document for key lives at.
func (w *Writer) Path(key string) string {
	return filepath.Join(w.dir, sanitizeKey(key)+".json")
}

// shouldSkip consults the change detector. Detector errors fail open:
// an unreadable change store must not stop artifact production.
func (w *Writer) shouldSkip(ctx context.Context, key string, payload []byte) bool {
	if w.detector == nil {
		return false
	}
	regenerate, err := w.detector.ShouldRegenerate(ctx, key, payload)
	if err != nil {
		slog.Warn("change detection failed, rewriting artifact",
			slog.String("artifact", key),
			slog.Any("error", err))
		return false
	}
	metrics.RecordChangeDetection(regenerate)
	if regenerate {
		return false
	}
	// A committed hash with no file on disk means the output directory
	// was cleaned out from under us. Regenerate regardless.
	if _, err := os.Stat(w.Path(key)); errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return true
}

func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, "..", "_")
	if key == "" {
		return "artifact"
	}
	return key
}
