package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries (expires_at);
`

// SQLiteBackend persists cache entries in a local SQLite database so warm
// plans and tool results survive process restarts.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// Single writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) (Entry, error) {
	var (
		value              []byte
		cachedAt, expiresAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT value, cached_at, expires_at FROM cache_entries WHERE key = ?`, key)
	if err := row.Scan(&value, &cachedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("cache get: %w", err)
	}
	return Entry{
		Value:     value,
		CachedAt:  time.UnixMilli(cachedAt),
		ExpiresAt: time.UnixMilli(expiresAt),
	}, nil
}

func (s *SQLiteBackend) Set(ctx context.Context, key string, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		   cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, e.Value, e.CachedAt.UnixMilli(), e.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Scan(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("cache scan: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("cache scan row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteExpiredBefore removes every entry whose expiry (plus grace) is older
// than cutoff. Used by the janitor.
func (s *SQLiteBackend) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
