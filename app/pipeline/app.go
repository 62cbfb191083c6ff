// Package pipeline wires the market data pipeline into a long-running
// service: the materialization graph and its jobs, the cron scheduler, the
// polled sensors and the HTTP control surface.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/assets"
	"github.com/coinflow-io/coinflow/pkg/coingecko"
	"github.com/coinflow-io/coinflow/pkg/config"
	"github.com/coinflow-io/coinflow/pkg/db"
	"github.com/coinflow-io/coinflow/pkg/executor"
	"github.com/coinflow-io/coinflow/pkg/graph"
	"github.com/coinflow-io/coinflow/pkg/logging"
	"github.com/coinflow-io/coinflow/pkg/partition"
	"github.com/coinflow-io/coinflow/pkg/report"
	"github.com/coinflow-io/coinflow/pkg/trigger"
)

// runQueueSize bounds pending trigger requests; sensors debounce upstream so
// the queue only absorbs short bursts.
const runQueueSize = 16

type App struct {
	Config   *config.Config
	Store    *db.Store
	Client   *coingecko.Client
	Renderer *report.Renderer
	Assets   *assets.Assets
	Graph    *graph.Graph
	Runner   *executor.Runner

	// Jobs indexes the registered jobs by name for trigger dispatch and the
	// HTTP run endpoint.
	Jobs map[string]graph.Job

	// Cron evaluates the schedule set; sensors are polled on their own
	// intervals.
	Cron    *cron.Cron
	Sensors []trigger.Sensor

	// Logger is used to log messages, errors, and events during the application's lifecycle and operations.
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server

	requests chan trigger.RunRequest
	lastRuns *xsync.Map[string, *executor.RunResult]
}

// Initialize initializes the application.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg := config.Load()

	store, err := db.Open(cfg.StorePath, logger)
	if err != nil {
		logger.Fatal("Unable to open store", zap.Error(err))
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Unable to initialize store schema", zap.Error(err))
	}

	client := coingecko.New(coingecko.Opts{
		BaseURL:        cfg.APIBaseURL,
		RateLimitDelay: cfg.RateLimitDelay,
		MaxRetries:     cfg.MaxRetries,
		Logger:         logger,
	})
	renderer := report.New(cfg.ArtifactDir, logger)

	assetSet := assets.New(client, store, renderer, logger)
	g := graph.New()
	if err := assetSet.Register(g); err != nil {
		logger.Fatal("Unable to register pipeline nodes", zap.Error(err))
	}
	if err := g.Validate(); err != nil {
		logger.Fatal("Invalid pipeline graph", zap.Error(err))
	}

	jobs := make(map[string]graph.Job)
	for _, job := range assetSet.Jobs() {
		jobs[job.Name] = job
	}

	app := &App{
		Config:   cfg,
		Store:    store,
		Client:   client,
		Renderer: renderer,
		Assets:   assetSet,
		Graph:    g,
		Runner:   executor.New(g, logger),
		Jobs:     jobs,
		Sensors: []trigger.Sensor{
			trigger.NewDailyDigestSensor(assets.JobAnalytics, store, logger),
			trigger.NewHourlyRefreshSensor(assets.JobMarketData, assetSet.Daily, store, logger),
			trigger.NewArtifactObserverSensor(renderer, logger),
		},
		Logger:   logger,
		requests: make(chan trigger.RunRequest, runQueueSize),
		lastRuns: xsync.NewMap[string, *executor.RunResult](),
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger); err != nil {
		return nil, err
	}

	return app, nil
}

// SetupScheduler registers every schedule with the cron evaluator. Specs
// carry their timezone inline via the CRON_TZ prefix.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	a.Cron = cron.New(cron.WithChain(cron.Recover(logger)))

	schedules := trigger.DefaultSchedules(
		assets.JobMetadata,
		assets.JobMarketData,
		assets.JobPriceHistory,
		assets.JobAnalytics,
		assets.JobMonthlyReport,
	)
	for _, sched := range schedules {
		sched := sched
		_, err := a.Cron.AddFunc(sched.CronSpec(), func() {
			a.Enqueue(ctx, trigger.RunRequest{
				Job:  sched.Job,
				Tags: map[string]string{"schedule": sched.Spec},
			})
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Enqueue hands a run request to the dispatch loop. A full queue drops the
// request; schedules and sensors re-fire on their next evaluation.
func (a *App) Enqueue(ctx context.Context, req trigger.RunRequest) {
	select {
	case a.requests <- req:
	case <-ctx.Done():
	default:
		a.Logger.Warn("run queue full, dropping request",
			zap.String("job", req.Job),
			zap.String("runKey", req.RunKey))
	}
}

// dispatch executes queued run requests one at a time. Every job is
// idempotent, so a request that overlaps a just-finished run only replays
// upserts.
func (a *App) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.requests:
			a.runJob(ctx, req.Job, req.Key)
		}
	}
}

// runJob resolves and runs a job, recording its result for the control
// surface. A nil key runs the current partition of partitioned nodes.
func (a *App) runJob(ctx context.Context, name string, key *partition.Key) *executor.RunResult {
	job, ok := a.Jobs[name]
	if !ok {
		a.Logger.Error("unknown job requested", zap.String("job", name))
		return nil
	}

	result, err := a.Runner.RunJob(ctx, job, key)
	if err != nil {
		a.Logger.Error("job run failed",
			zap.String("job", name),
			zap.Error(err))
	}
	if result != nil {
		a.lastRuns.Store(name, result)
	}
	return result
}

// pollSensors drives each sensor on its own interval until the context ends.
func (a *App) pollSensors(ctx context.Context) {
	for _, s := range a.Sensors {
		s := s
		go func() {
			ticker := time.NewTicker(s.Interval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					req, err := s.Tick(ctx, now)
					if err != nil {
						a.Logger.Error("sensor tick failed",
							zap.String("sensor", s.Name()),
							zap.Error(err))
						continue
					}
					if req != nil {
						a.Enqueue(ctx, *req)
					}
				}
			}
		}()
	}
}

// Start starts the application and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	go a.dispatch(ctx)
	a.pollSensors(ctx)
	a.Cron.Start()
	a.Logger.Info("pipeline started",
		zap.String("addr", a.Server.Addr),
		zap.Int("jobs", len(a.Jobs)),
		zap.Int("sensors", len(a.Sensors)))

	<-ctx.Done()
	a.Stop()
}

// Stop stops the scheduler, the server and the store.
func (a *App) Stop() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close store", zap.Error(err))
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
