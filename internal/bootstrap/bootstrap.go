package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/file-converter/internal/config"
	"github.com/kirillkom/file-converter/internal/core/domain"
	"github.com/kirillkom/file-converter/internal/core/ports"
	"github.com/kirillkom/file-converter/internal/core/registry"
	"github.com/kirillkom/file-converter/internal/core/usecase"
	imageconv "github.com/kirillkom/file-converter/internal/infrastructure/converter/image"
	"github.com/kirillkom/file-converter/internal/infrastructure/converter/markup"
	"github.com/kirillkom/file-converter/internal/infrastructure/converter/office"
	"github.com/kirillkom/file-converter/internal/infrastructure/converter/tabular"
	"github.com/kirillkom/file-converter/internal/infrastructure/queue/inproc"
	"github.com/kirillkom/file-converter/internal/infrastructure/queue/nats"
	"github.com/kirillkom/file-converter/internal/infrastructure/repository/memory"
	"github.com/kirillkom/file-converter/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/file-converter/internal/infrastructure/resilience"
	"github.com/kirillkom/file-converter/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/file-converter/internal/observability/metrics"
)

// HealthChecker is probed by readiness endpoints.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type App struct {
	Config config.Config
	Logger *slog.Logger

	Registry *registry.Registry
	Store    ports.ArtifactStore
	Ledger   ports.SessionLedger
	Jobs     ports.JobStore
	Queue    ports.JobQueue
	// InProcessQueue is true when jobs run on this process's worker pool
	// instead of a broker.
	InProcessQueue bool

	ConversionUC *usecase.ConversionUseCase
	JobUC        *usecase.JobUseCase
	Sweeper      *usecase.Sweeper

	Checks map[string]HealthChecker

	closeFns []func()
}

// New wires every component from cfg. recorder may be nil.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.ConversionMetrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app := &App{Config: cfg, Logger: logger, Checks: make(map[string]HealthChecker)}

	var (
		convRecorder  ports.ConversionRecorder
		sweepRecorder ports.SweepRecorder
		execOpts      = []resilience.ExecutorOption{resilience.WithLogger(logger.With("component", "resilience"))}
	)
	if recorder != nil {
		convRecorder = recorder
		sweepRecorder = recorder
		execOpts = append(execOpts, resilience.WithRetryObserver(recorder.ObserveRetry))
	}

	store, err := localfs.New(cfg.StoragePath, localfs.Options{
		Compress:      cfg.StorageCompress,
		MetaCacheSize: cfg.StorageMetaCacheSize,
		Logger:        logger,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	app.Store = store

	quota := domain.Quota{MaxFiles: cfg.SessionMaxFiles, MaxBytes: cfg.SessionMaxBytes}
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closeFns = append(app.closeFns, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			app.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		app.Ledger = postgres.NewSessionLedger(db, cfg.SessionTTL, quota)
		app.Jobs = postgres.NewJobRepository(db)
		app.Checks["postgres"] = dbPing(db)
	} else {
		app.Ledger = memory.NewSessionLedger(cfg.SessionTTL, quota)
		app.Jobs = memory.NewJobStore()
	}

	executor := resilience.NewExecutor(resilience.BackendConfig(cfg.BackendRetryBackoff), execOpts...)
	backends, officeConv, err := buildBackends(cfg, executor, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Checks["office"] = officeConv
	if recorder != nil {
		recorder.TrackGauge("office_queue_depth", "Office conversions waiting for a free listener slot.", func() float64 {
			return float64(officeConv.QueueDepth())
		})
	}

	decls := make([]domain.BackendDeclaration, 0, len(backends))
	for _, b := range backends {
		decls = append(decls, b.Declaration())
	}
	reg, err := buildRegistry(cfg, decls)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Registry = reg

	if cfg.NATSURL != "" {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			QueueGroup: cfg.NATSQueueGroup,
			Workers:    cfg.JobWorkers,
			Executor:   resilience.NewExecutor(resilience.DefaultConfig(), execOpts...),
			Logger:     logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init job queue: %w", err)
		}
		app.closeFns = append(app.closeFns, queue.Close)
		app.Queue = queue
		app.Checks["queue"] = queue
	} else {
		queue := inproc.New(cfg.JobWorkers, cfg.JobQueueSize, logger)
		app.Queue = queue
		app.InProcessQueue = true
		if recorder != nil {
			recorder.TrackGauge("job_queue_depth", "Jobs waiting in the in-process queue.", func() float64 {
				return float64(queue.Depth())
			})
		}
	}

	app.ConversionUC = usecase.NewConversionUseCase(reg, store, app.Ledger, backends, convRecorder, usecase.ConversionConfig{
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxOutputBytes: cfg.MaxOutputBytes,
		BackendTimeouts: map[domain.BackendID]time.Duration{
			domain.BackendOffice:  cfg.OfficeTimeout,
			domain.BackendMarkup:  cfg.MarkupTimeout,
			domain.BackendImage:   cfg.ImageTimeout,
			domain.BackendTabular: cfg.TabularTimeout,
		},
		WorkDir: cfg.WorkDir,
	}, logger)
	app.JobUC = usecase.NewJobUseCase(app.ConversionUC, app.Jobs, app.Queue, logger)
	app.Sweeper = usecase.NewSweeper(store, app.Ledger, app.Jobs, sweepRecorder, usecase.SweeperConfig{
		Interval:     cfg.SweepInterval,
		BatchSize:    cfg.SweepBatchSize,
		JobRetention: cfg.JobRetention,
	}, logger)

	logger.Info("bootstrap_complete",
		"formats", len(reg.Formats()),
		"durable_ledger", cfg.PostgresDSN != "",
		"broker", cfg.NATSURL != "",
	)
	return app, nil
}

// buildBackends constructs the converters. Backends that shell out or call
// a remote listener run behind the retry/breaker guard; the in-process
// image and tabular converters fail deterministically and are not retried.
func buildBackends(cfg config.Config, executor *resilience.Executor, logger *slog.Logger) ([]ports.Converter, *office.Converter, error) {
	client, err := office.NewClient(cfg.OfficeEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("init office client: %w", err)
	}
	officeConv := office.New(client, office.Options{
		MaxInFlight:    cfg.OfficeMaxInFlight,
		MaxOutputBytes: cfg.MaxOutputBytes,
		Timeout:        cfg.OfficeTimeout,
		Logger:         logger,
	})
	markupConv := markup.New(markup.Options{
		Runner:   markup.ExecRunner{Path: cfg.PandocPath},
		MaxPages: cfg.MarkupMaxPages,
		Logger:   logger,
	})
	imageConv := imageconv.New(imageconv.Options{
		Rasterizer: imageconv.FitzRasterizer{},
		MaxPages:   cfg.ImageMaxPages,
		MaxPixels:  int(cfg.ImageMaxPixels),
		Logger:     logger,
	})
	tabularConv := tabular.New(tabular.Options{
		MaxCells: cfg.TabularMaxCells,
		Logger:   logger,
	})

	return []ports.Converter{
		resilience.GuardConverter(officeConv, executor),
		resilience.GuardConverter(markupConv, executor),
		imageConv,
		tabularConv,
	}, officeConv, nil
}

// Declarations lists every backend's static capability declaration.
func Declarations() []domain.BackendDeclaration {
	return []domain.BackendDeclaration{
		office.Declaration(),
		markup.Declaration(),
		imageconv.Declaration(),
		tabular.Declaration(),
	}
}

func buildRegistry(cfg config.Config, decls []domain.BackendDeclaration) (*registry.Registry, error) {
	policy, err := cfg.FormatPolicy()
	if err != nil {
		return nil, fmt.Errorf("load format policy: %w", err)
	}
	known := make(map[domain.BackendID]struct{}, len(decls))
	for _, d := range decls {
		known[d.ID] = struct{}{}
	}
	disabled := make([]domain.BackendID, 0, len(policy.DisabledBackends))
	for _, id := range policy.DisabledBackends {
		if _, ok := known[domain.BackendID(id)]; !ok {
			return nil, fmt.Errorf("format policy disables unknown backend %q", id)
		}
		disabled = append(disabled, domain.BackendID(id))
	}
	reg, err := registry.New(registry.DefaultCatalog(), decls,
		registry.WithAllowedFormats(policy.AllowedFormats),
		registry.WithDisabledBackends(disabled),
	)
	if err != nil {
		return nil, fmt.Errorf("build format registry: %w", err)
	}
	return reg, nil
}

func dbPing(db *sql.DB) HealthChecker {
	return pingFunc(db.PingContext)
}

// StartJobWorkers runs the in-process queue's workers until ctx is done.
// The returned wait blocks until queued and in-flight jobs have finished or
// waitCtx expires. With a broker configured there is nothing to run and wait
// returns at once.
func (a *App) StartJobWorkers(ctx context.Context) (wait func(waitCtx context.Context) error) {
	done := make(chan struct{})
	if !a.InProcessQueue {
		close(done)
	} else {
		go func() {
			defer close(done)
			if err := a.Queue.SubscribeJobs(ctx, a.JobUC.Process); err != nil {
				a.Logger.Error("job_workers_stopped", "error", err)
			}
		}()
	}
	return func(waitCtx context.Context) error {
		select {
		case <-done:
			return nil
		case <-waitCtx.Done():
			return fmt.Errorf("job workers did not drain: %w", waitCtx.Err())
		}
	}
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
