package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const createPriceHistory = `
	CREATE TABLE IF NOT EXISTS price_history (
		id           TEXT,
		timestamp    TIMESTAMP,
		price        REAL,
		market_cap   REAL,
		total_volume REAL,
		updated_at   TIMESTAMP,
		PRIMARY KEY (id, timestamp)
	)`

// UpsertPricePoints replaces series points keyed by (id, timestamp). An
// empty input is a logged no-op.
func (s *Store) UpsertPricePoints(ctx context.Context, points []PricePoint) error {
	if len(points) == 0 {
		s.logger.Warn("no price history to store")
		return nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin price history upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO price_history
			(id, timestamp, price, market_cap, total_volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare price history upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Timestamp.UTC(), p.Price, p.MarketCap, p.TotalVolume, now,
		); err != nil {
			return fmt.Errorf("upsert price point for %s@%s: %w", p.ID, p.Timestamp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit price history upsert: %w", err)
	}

	s.logger.Info("stored price history", zap.Int("points", len(points)))
	return nil
}

// PriceHistory returns the series for one coin over the trailing window,
// oldest first. A cold store yields an empty slice, never an error.
func (s *Store) PriceHistory(ctx context.Context, coinID string, days int) ([]PricePoint, error) {
	ok, err := s.tableExists(ctx, "price_history")
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("price history table missing, returning empty series", zap.String("coin", coinID))
		return []PricePoint{}, nil
	}
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, price, market_cap, total_volume, updated_at
		FROM price_history
		WHERE id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`, coinID, since)
	if err != nil {
		return nil, fmt.Errorf("query price history for %s: %w", coinID, err)
	}
	defer func() { _ = rows.Close() }()

	out := []PricePoint{}
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.Price, &p.MarketCap, &p.TotalVolume, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
