package qacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/qaforge/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists cache entries in a SQLite database inside the cache
// directory. A whole entry is written by a single INSERT OR REPLACE, so
// racing writers converge on one complete row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the cache database under dir.
func NewSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, "qaforge_cache.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS generation_cache (
			key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			candidate_count INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

// Get returns the candidates stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]models.QACandidate, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM generation_cache WHERE key = ?`, key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}

	var candidates []models.QACandidate
	if err := json.Unmarshal([]byte(payload), &candidates); err != nil {
		return nil, &CorruptEntryError{Key: key, Err: err}
	}
	return candidates, nil
}

// Put stores candidates under key, replacing any existing entry.
func (s *SQLiteStore) Put(ctx context.Context, key string, candidates []models.QACandidate) error {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO generation_cache (key, payload, candidate_count, created_at) VALUES (?, ?, ?, ?)`,
		key, string(payload), len(candidates), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Stats reports entry and candidate counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(candidate_count), 0) FROM generation_cache`,
	).Scan(&st.Entries, &st.Candidates)
	if err != nil {
		return Stats{}, fmt.Errorf("query cache stats: %w", err)
	}
	return st, nil
}

// Clear removes all entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM generation_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
