package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/file-converter/internal/bootstrap"
	"github.com/kirillkom/file-converter/internal/config"
	"github.com/kirillkom/file-converter/internal/core/domain"
	"github.com/kirillkom/file-converter/internal/observability/logging"
	"github.com/kirillkom/file-converter/internal/observability/metrics"
)

const service = "file-converter-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	if cfg.NATSURL == "" || cfg.PostgresDSN == "" {
		logger.Error("worker_misconfigured", "error", "NATS_URL and POSTGRES_DSN are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(service)
	app, err := bootstrap.New(ctx, cfg, logger, workerMetrics.Conversions)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	app.JobUC.WithQueueLagObserver(func(lag time.Duration) {
		workerMetrics.ObserveQueueLag(service, lag)
	}).WithFinishObserver(func(job domain.Job, elapsed time.Duration) {
		workerMetrics.ObserveJob(service, job.OutputFormat, job.Status, elapsed)
	})

	app.Sweeper.Start(ctx)
	defer app.Sweeper.Stop()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeJobs(ctx, func(handlerCtx context.Context, jobID string) error {
		workerMetrics.StartJob()
		defer workerMetrics.EndJob()
		return app.JobUC.Process(handlerCtx, jobID)
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
