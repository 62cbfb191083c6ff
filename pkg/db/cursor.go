package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const createSensorCursors = `
	CREATE TABLE IF NOT EXISTS sensor_cursors (
		sensor       TEXT PRIMARY KEY,
		last_run_key TEXT,
		updated_at   TIMESTAMP
	)`

// GetCursor returns a sensor's durable last_run_key, or "" when the sensor
// has never fired.
func (s *Store) GetCursor(ctx context.Context, sensor string) (string, error) {
	ok, err := s.tableExists(ctx, "sensor_cursors")
	if err != nil || !ok {
		return "", err
	}
	var key string
	err = s.db.QueryRowContext(ctx,
		`SELECT last_run_key FROM sensor_cursors WHERE sensor = ?`, sensor).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor for %s: %w", sensor, err)
	}
	return key, nil
}

// CompareAndSetCursor advances the cursor to next only if it still holds
// expected, reporting whether the swap happened. The check and the write run
// in one transaction so concurrent ticks cannot both win.
func (s *Store) CompareAndSetCursor(ctx context.Context, sensor, expected, next string) (bool, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cursor swap for %s: %w", sensor, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT last_run_key FROM sensor_cursors WHERE sensor = ?`, sensor).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read cursor for %s: %w", sensor, err)
	}
	if current != expected {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sensor_cursors (sensor, last_run_key, updated_at) VALUES (?, ?, ?)`,
		sensor, next, time.Now().UTC(),
	); err != nil {
		return false, fmt.Errorf("write cursor for %s: %w", sensor, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cursor swap for %s: %w", sensor, err)
	}
	return true, nil
}
