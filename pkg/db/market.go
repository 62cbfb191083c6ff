package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const createMarketData = `
	CREATE TABLE IF NOT EXISTS market_data (
		id                   TEXT,
		date                 TEXT,
		price                REAL,
		market_cap           REAL,
		total_volume         REAL,
		high_24h             REAL,
		low_24h              REAL,
		price_change_pct_24h REAL,
		updated_at           TIMESTAMP,
		PRIMARY KEY (id, date)
	)`

// UpsertMarketData replaces observations keyed by (id, date). Replayed
// partition runs overwrite the same logical rows. An empty input is a logged
// no-op.
func (s *Store) UpsertMarketData(ctx context.Context, rows []MarketData) error {
	if len(rows) == 0 {
		s.logger.Warn("no market data to store")
		return nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin market data upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO market_data
			(id, date, price, market_cap, total_volume, high_24h, low_24h, price_change_pct_24h, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare market data upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Date, r.Price, r.MarketCap, r.TotalVolume,
			r.High24h, r.Low24h, r.PriceChangePct24h, now,
		); err != nil {
			return fmt.Errorf("upsert market data for %s@%s: %w", r.ID, r.Date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit market data upsert: %w", err)
	}

	s.logger.Info("stored market data", zap.Int("rows", len(rows)))
	return nil
}

// LatestDate returns the most recent observation date, or "" when no
// observations exist yet.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	ok, err := s.tableExists(ctx, "market_data")
	if err != nil || !ok {
		return "", err
	}
	var date sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM market_data`).Scan(&date)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("latest market data date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// TopCoins joins observations with metadata, restricted to the most recent
// date, ordered by market cap descending. Ties break by id ascending so
// report output is reproducible. Absent or empty tables yield an empty
// slice.
func (s *Store) TopCoins(ctx context.Context, limit int) ([]TopCoin, error) {
	for _, table := range []string{"market_data", "coin_metadata"} {
		ok, err := s.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("table missing, returning empty top coins", zap.String("table", table))
			return []TopCoin{}, nil
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, meta.name, m.price, m.market_cap, m.price_change_pct_24h
		FROM market_data m
		JOIN coin_metadata meta ON m.id = meta.id
		WHERE m.date = (SELECT MAX(date) FROM market_data)
		ORDER BY m.market_cap DESC, m.id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top coins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []TopCoin{}
	for rows.Next() {
		var tc TopCoin
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Price, &tc.MarketCap, &tc.PriceChangePct24h); err != nil {
			return nil, fmt.Errorf("scan top coin: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
