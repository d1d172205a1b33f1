package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/file-converter/internal/config"
	"github.com/kirillkom/file-converter/internal/core/ports"
	"github.com/kirillkom/file-converter/internal/observability/metrics"
)

const (
	sessionHeader    = "X-Session-Id"
	backpressureWait = 50 * time.Millisecond
	maxJSONBody      = 64 << 10
)

// HealthChecker is anything readiness can probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Conversions  ports.ConversionService
	Sessions     ports.SessionService
	Capabilities ports.CapabilityReader
	// Jobs is optional; without it the /v1/jobs routes are not mounted.
	Jobs    ports.JobService
	Checks  map[string]HealthChecker
	Metrics *metrics.HTTPServerMetrics
	Logger  *slog.Logger
}

type Router struct {
	cfg          config.Config
	conversions  ports.ConversionService
	sessions     ports.SessionService
	capabilities ports.CapabilityReader
	jobs         ports.JobService
	checks       map[string]HealthChecker
	metrics      *metrics.HTTPServerMetrics
	logger       *slog.Logger
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:          cfg,
		conversions:  deps.Conversions,
		sessions:     deps.Sessions,
		capabilities: deps.Capabilities,
		jobs:         deps.Jobs,
		checks:       deps.Checks,
		metrics:      deps.Metrics,
		logger:       logger.With("component", "http"),
	}
}

func (rt *Router) Handler() http.Handler {
	var onLimit func(string)
	if rt.metrics != nil {
		onLimit = func(reason string) { rt.metrics.RecordRejected("api", reason) }
	}
	auth := newTokenVerifier(rt.cfg.AuthJWTSecret, rt.cfg.AuthJWTAudience, rt.cfg.AuthRequired, rt.logger)
	apiLimit := newClientLimiter(rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, "rate_limit", onLimit)
	uploadLimit := newClientLimiter(rt.cfg.UploadRateRPS, rt.cfg.UploadRateBurst, "upload_rate_limit", onLimit)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware(rt.logger), middleware.Recoverer)

	r.Get("/healthz", rt.healthz)
	r.Get("/readyz", rt.readyz)
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, backpressureWait)
		})
		r.Use(auth.middleware, apiLimit.middleware)

		r.Get("/formats", rt.listFormats)
		r.Get("/formats/{from}/{to}/options", rt.conversionOptions)

		r.With(uploadLimit.middleware).Post("/artifacts", rt.uploadArtifact)
		r.Get("/artifacts/{artifactID}", rt.downloadArtifact)
		r.Delete("/artifacts/{artifactID}", rt.deleteArtifact)
		r.Post("/artifacts/{artifactID}/convert", rt.convertArtifact)

		r.Get("/session", rt.getSession)
		r.Post("/session/reset", rt.resetSession)
		r.Delete("/session", rt.closeSession)

		if rt.jobs != nil {
			r.Post("/jobs", rt.submitJob)
			r.Get("/jobs/{jobID}", rt.getJob)
			r.Delete("/jobs/{jobID}", rt.cancelJob)
		}
	})

	if rt.metrics != nil {
		return rt.metrics.Middleware("api", r)
	}
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(rt.checks))
	for name, check := range rt.checks {
		if err := check.Ping(ctx); err != nil {
			rt.logger.Warn("readiness_check_failed", "check", name, "error", err)
			report[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": report})
}
