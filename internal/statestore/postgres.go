package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps records in a single pulse_state table. Writes are
// version-guarded so the optimistic concurrency contract holds across
// worker replicas sharing one database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a pooled connection through the pgx stdlib driver
// and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("statestore: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statestore: ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the backing table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS pulse_state (
    key        TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    version    BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("statestore: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	const query = `
SELECT value, version
FROM pulse_state
WHERE key = $1`
	var rec Record
	err := s.db.QueryRowContext(ctx, query, key).Scan(&rec.Value, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("statestore: postgres get %q: %w", key, err)
	}
	if rec.Version <= 0 {
		return Record{}, fmt.Errorf("%w: %q: version %d", ErrCorrupt, key, rec.Version)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	const query = `
INSERT INTO pulse_state (key, value, version, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, version = pulse_state.version + 1, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("statestore: postgres put %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error {
	if version == 0 {
		const query = `
INSERT INTO pulse_state (key, value, version, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (key) DO NOTHING`
		result, err := s.db.ExecContext(ctx, query, key, value)
		if err != nil {
			return fmt.Errorf("statestore: postgres cas %q: %w", key, err)
		}
		return swapOutcome(result, key)
	}
	const query = `
UPDATE pulse_state
SET value = $3, version = version + 1, updated_at = NOW()
WHERE key = $1 AND version = $2`
	result, err := s.db.ExecContext(ctx, query, key, version, value)
	if err != nil {
		return fmt.Errorf("statestore: postgres cas %q: %w", key, err)
	}
	return swapOutcome(result, key)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	const query = `
DELETE FROM pulse_state
WHERE key = $1`
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("statestore: postgres delete %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	const query = `
SELECT key
FROM pulse_state
WHERE key LIKE $1 ESCAPE '\'
ORDER BY key`
	rows, err := s.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("statestore: postgres list %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("statestore: postgres list %q: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statestore: postgres list %q: %w", prefix, err)
	}
	return keys, nil
}

func swapOutcome(result sql.Result, key string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("statestore: postgres cas %q: %w", key, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// escapeLike neutralizes LIKE wildcards, since store keys may contain
// underscores.
func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
