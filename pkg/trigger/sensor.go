// Package trigger decides when jobs run: cron schedule definitions evaluated
// by the app's scheduler, and polled sensors that debounce on a durable
// cursor. A sensor's fire decision and cursor advance are one atomic
// check-and-set, so concurrent ticks cannot double-fire.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/partition"
)

// RunRequest asks the app to enqueue one job run.
type RunRequest struct {
	Job    string
	Key    *partition.Key
	RunKey string
	Tags   map[string]string
}

// Sensor is a polled state machine: each tick either yields a run request or
// nothing. Cursor state survives across ticks.
type Sensor interface {
	Name() string
	Interval() time.Duration
	Tick(ctx context.Context, now time.Time) (*RunRequest, error)
}

// CursorStore is the durable cursor the debouncing sensors check-and-set.
// Satisfied by *db.Store.
type CursorStore interface {
	GetCursor(ctx context.Context, sensor string) (string, error)
	CompareAndSetCursor(ctx context.Context, sensor, expected, next string) (bool, error)
}

// debouncer wraps the cursor store with an in-memory fast path shared by
// concurrent ticks of the same process.
type debouncer struct {
	cursors CursorStore
	cache   *xsync.Map[string, string]
}

func newDebouncer(cursors CursorStore) *debouncer {
	return &debouncer{cursors: cursors, cache: xsync.NewMap[string, string]()}
}

// fire advances the sensor's cursor to current and reports whether this tick
// won the advance. Losing ticks, and ticks within the same bucket, fire
// nothing.
func (d *debouncer) fire(ctx context.Context, sensor, current string) (bool, error) {
	if cached, ok := d.cache.Load(sensor); ok && cached == current {
		return false, nil
	}

	last, err := d.cursors.GetCursor(ctx, sensor)
	if err != nil {
		return false, fmt.Errorf("sensor %s cursor read: %w", sensor, err)
	}
	if last == current {
		d.remember(sensor, current)
		return false, nil
	}

	won, err := d.cursors.CompareAndSetCursor(ctx, sensor, last, current)
	if err != nil {
		return false, fmt.Errorf("sensor %s cursor swap: %w", sensor, err)
	}
	if won {
		d.remember(sensor, current)
	}
	return won, nil
}

func (d *debouncer) remember(sensor, current string) {
	d.cache.Compute(sensor, func(string, bool) (string, xsync.ComputeOp) {
		return current, xsync.UpdateOp
	})
}

// DailyDigestSensor fires the analytics job at most once per calendar day.
type DailyDigestSensor struct {
	Job    string
	Logger *zap.Logger

	deb *debouncer
}

// NewDailyDigestSensor builds the daily digest sensor over a durable cursor
// store.
func NewDailyDigestSensor(job string, cursors CursorStore, logger *zap.Logger) *DailyDigestSensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyDigestSensor{Job: job, Logger: logger, deb: newDebouncer(cursors)}
}

func (s *DailyDigestSensor) Name() string            { return "daily_digest" }
func (s *DailyDigestSensor) Interval() time.Duration { return 30 * time.Minute }

func (s *DailyDigestSensor) Tick(ctx context.Context, now time.Time) (*RunRequest, error) {
	day := now.UTC().Format("2006-01-02")
	won, err := s.deb.fire(ctx, s.Name(), day)
	if err != nil || !won {
		return nil, err
	}

	s.Logger.Info("daily digest firing", zap.String("date", day))
	return &RunRequest{
		Job:    s.Job,
		RunKey: day,
		Tags:   map[string]string{"sensor": s.Name(), "reason": "daily_trigger", "date": day},
	}, nil
}

// HourlyRefreshSensor fires the market data job at most once per hour. The
// request carries the daily scheme's start key, which is valid by
// construction, so a fresh deployment never requests a key the scheme does
// not recognize.
type HourlyRefreshSensor struct {
	Job    string
	Scheme partition.Scheme
	Logger *zap.Logger

	deb *debouncer
}

// NewHourlyRefreshSensor builds the hourly refresh sensor.
func NewHourlyRefreshSensor(job string, scheme partition.Scheme, cursors CursorStore, logger *zap.Logger) *HourlyRefreshSensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HourlyRefreshSensor{Job: job, Scheme: scheme, Logger: logger, deb: newDebouncer(cursors)}
}

func (s *HourlyRefreshSensor) Name() string            { return "hourly_refresh" }
func (s *HourlyRefreshSensor) Interval() time.Duration { return 15 * time.Minute }

func (s *HourlyRefreshSensor) Tick(ctx context.Context, now time.Time) (*RunRequest, error) {
	hour := now.UTC().Format("2006-01-02-15")
	won, err := s.deb.fire(ctx, s.Name(), hour)
	if err != nil || !won {
		return nil, err
	}

	key := s.Scheme.StartKey()
	s.Logger.Info("hourly refresh firing",
		zap.String("hour", hour),
		zap.String("partition", key.String()))
	return &RunRequest{
		Job:    s.Job,
		Key:    &key,
		RunKey: hour,
		Tags:   map[string]string{"sensor": s.Name(), "reason": "hourly_update", "hour": hour},
	}, nil
}

// ArtifactLister enumerates recently produced artifacts. Satisfied by
// *report.Renderer.
type ArtifactLister interface {
	RecentArtifacts(window time.Duration) ([]string, error)
}

// ArtifactObserverSensor records recently produced artifacts as a liveness
// signal. It never enqueues a job.
type ArtifactObserverSensor struct {
	Artifacts ArtifactLister
	Window    time.Duration
	Logger    *zap.Logger
}

// NewArtifactObserverSensor builds the passive observer with a 24h window.
func NewArtifactObserverSensor(artifacts ArtifactLister, logger *zap.Logger) *ArtifactObserverSensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactObserverSensor{Artifacts: artifacts, Window: 24 * time.Hour, Logger: logger}
}

func (s *ArtifactObserverSensor) Name() string            { return "artifact_observer" }
func (s *ArtifactObserverSensor) Interval() time.Duration { return time.Hour }

func (s *ArtifactObserverSensor) Tick(_ context.Context, _ time.Time) (*RunRequest, error) {
	recent, err := s.Artifacts.RecentArtifacts(s.Window)
	if err != nil {
		return nil, fmt.Errorf("observe artifacts: %w", err)
	}
	if len(recent) > 0 {
		s.Logger.Info("recent artifacts observed", zap.Strings("files", recent))
	}
	return nil, nil
}
