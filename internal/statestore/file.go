package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxSegmentLength  = 100
	lockRetryInterval = 25 * time.Millisecond
	lockStaleAfter    = 10 * time.Second
	lockWaitLimit     = 5 * time.Second
)

// fileEnvelope is the on-disk representation of a record. The original
// key travels inside the file because file names are sanitized.
type fileEnvelope struct {
	Key       string          `json:"key"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Value     json.RawMessage `json:"value"`
}

// FileStore keeps each record in its own JSON file under a root
// directory. Writes go through a temp file and an atomic rename, and a
// per-key lock file guards read-modify-write against other processes
// sharing the directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the root directory if needed and returns a store
// backed by it.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("statestore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("statestore: read %q: %w", key, err)
	}
	env, err := decodeFileEnvelope(key, data)
	if err != nil {
		return Record{}, err
	}
	return Record{Value: env.Value, Version: env.Version}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	version := int64(0)
	if data, err := os.ReadFile(s.path(key)); err == nil {
		if env, decodeErr := decodeFileEnvelope(key, data); decodeErr == nil {
			version = env.Version
		}
	}
	return s.write(key, value, version+1)
}

func (s *FileStore) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := os.ReadFile(s.path(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if version != 0 {
			return ErrVersionConflict
		}
	case err != nil:
		return fmt.Errorf("statestore: read %q: %w", key, err)
	default:
		env, decodeErr := decodeFileEnvelope(key, data)
		if decodeErr != nil {
			return decodeErr
		}
		if env.Version != version {
			return ErrVersionConflict
		}
	}
	return s.write(key, value, version+1)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("statestore: delete %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			// The entry may have been deleted mid-walk.
			return nil
		}
		env, err := decodeFileEnvelope(d.Name(), data)
		if err != nil {
			// Unreadable entries stay invisible until repaired.
			return nil
		}
		if strings.HasPrefix(env.Key, prefix) {
			keys = append(keys, env.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("statestore: list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) write(key string, value []byte, version int64) error {
	env := fileEnvelope{
		Key:       key,
		Version:   version,
		UpdatedAt: time.Now().UTC(),
		Value:     json.RawMessage(value),
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: encode %q: %w", key, err)
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("statestore: create %s: %w", filepath.Dir(path), err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("statestore: write %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("statestore: commit %q: %w", key, err)
	}
	return nil
}

// lock takes the cross-process lock for key. The in-process mutex is
// already held, so the loop only contends with other processes sharing
// the directory. Locks older than lockStaleAfter are assumed to belong
// to a dead process and are removed.
func (s *FileStore) lock(ctx context.Context, key string) (func(), error) {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create %s: %w", filepath.Dir(path), err)
	}
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("statestore: lock %q: %w", key, err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("statestore: lock %q: timed out", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// path maps a key onto the directory tree. Segments are sanitized so
// arbitrary cache keys cannot escape the root; when sanitizing changes a
// segment, a short hash of the original keeps distinct keys distinct.
func (s *FileStore) path(key string) string {
	segments := strings.Split(key, "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, s.dir)
	for i, segment := range segments {
		name := sanitizeSegment(segment)
		if i == len(segments)-1 {
			name += ".json"
		}
		parts = append(parts, name)
	}
	return filepath.Join(parts...)
}

func sanitizeSegment(segment string) string {
	var b strings.Builder
	changed := false
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			changed = true
		}
	}
	name := b.String()
	if len(name) > maxSegmentLength {
		name = name[:maxSegmentLength]
		changed = true
	}
	if name == "" || name == "." || name == ".." {
		name = strings.Trim(name, ".")
		changed = true
	}
	if changed {
		h := fnv.New32a()
		_, _ = h.Write([]byte(segment))
		name = fmt.Sprintf("%s-%08x", name, h.Sum32())
	}
	return name
}

func decodeFileEnvelope(key string, data []byte) (fileEnvelope, error) {
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fileEnvelope{}, fmt.Errorf("%w: %q: %v", ErrCorrupt, key, err)
	}
	if env.Version <= 0 {
		return fileEnvelope{}, fmt.Errorf("%w: %q: version %d", ErrCorrupt, key, env.Version)
	}
	return env, nil
}
