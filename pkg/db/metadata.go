package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const createCoinMetadata = `
	CREATE TABLE IF NOT EXISTS coin_metadata (
		id         TEXT PRIMARY KEY,
		symbol     TEXT,
		name       TEXT,
		updated_at TIMESTAMP
	)`

// UpsertCoins replaces coin metadata keyed by id. An empty input is a logged
// no-op.
func (s *Store) UpsertCoins(ctx context.Context, coins []Coin) error {
	if len(coins) == 0 {
		s.logger.Warn("no coin metadata to store")
		return nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin coin metadata upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO coin_metadata (id, symbol, name, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare coin metadata upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range coins {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Symbol, c.Name, now); err != nil {
			return fmt.Errorf("upsert coin %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit coin metadata upsert: %w", err)
	}

	s.logger.Info("stored coin metadata", zap.Int("coins", len(coins)))
	return nil
}

// CountCoins returns the number of known coins; zero when the table is
// absent.
func (s *Store) CountCoins(ctx context.Context) (int, error) {
	ok, err := s.tableExists(ctx, "coin_metadata")
	if err != nil || !ok {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coin_metadata`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count coins: %w", err)
	}
	return n, nil
}
