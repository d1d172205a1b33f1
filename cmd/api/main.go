package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/file-converter/internal/adapters/http"
	"github.com/kirillkom/file-converter/internal/bootstrap"
	"github.com/kirillkom/file-converter/internal/config"
	"github.com/kirillkom/file-converter/internal/observability/logging"
	"github.com/kirillkom/file-converter/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("file-converter-api", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("file-converter-api")
	app, err := bootstrap.New(ctx, cfg, logger, httpMetrics.Conversions)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	checks := make(map[string]httpadapter.HealthChecker, len(app.Checks))
	for name, check := range app.Checks {
		checks[name] = check
	}
	router := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Conversions:  app.ConversionUC,
		Sessions:     app.ConversionUC,
		Capabilities: app.ConversionUC,
		Jobs:         app.JobUC,
		Checks:       checks,
		Metrics:      httpMetrics,
		Logger:       logger,
	}).Handler()

	app.Sweeper.Start(ctx)
	defer app.Sweeper.Stop()

	// Without a broker this process also drains the job queue.
	waitJobs := app.StartJobWorkers(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "in_process_jobs", app.InProcessQueue)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	if err := waitJobs(shutdownCtx); err != nil {
		logger.Error("job_drain_incomplete", "error", err)
	}
}
