// Package db is the idempotent persistence layer. Writes are
// replace-by-natural-key: re-upserting a row for an existing key overwrites
// it and refreshes the audit timestamp, never duplicating a logical row.
// Read accessors tolerate cold starts, returning empty results when a table
// is absent or unpopulated.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps the embedded sqlite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the sqlite database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	// sqlite allows one writer at a time; a single pooled connection
	// serializes same-key upserts instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates every table if absent. It is called defensively from
// every write path and is a no-op when the schema already exists.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createCoinMetadata,
		createMarketData,
		createPriceHistory,
		createSensorCursors,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// tableExists checks sqlite's catalog so read accessors can degrade to empty
// results before the first write ever ran.
func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}
