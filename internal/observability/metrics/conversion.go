package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// ConversionMetrics implements ports.ConversionRecorder and
// ports.SweepRecorder on top of a private registry.
type ConversionMetrics struct {
	service string

	conversionsTotal   *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec
	retriesTotal       *prometheus.CounterVec

	sweepRuns             prometheus.Counter
	sweepDuration         prometheus.Histogram
	sweepDeletedArtifacts prometheus.Counter
	sweepRemovedSessions  prometheus.Counter
	sweepPurgedJobs       prometheus.Counter
	sweepFailures         prometheus.Counter

	registry *prometheus.Registry
}

func newConversionMetrics(service string, registry *prometheus.Registry) *ConversionMetrics {
	constLabels := prometheus.Labels{"service": service}
	m := &ConversionMetrics{
		service:  service,
		registry: registry,
		conversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fc",
				Subsystem: "conversion",
				Name:      "total",
				Help:      "Conversions by backend and outcome.",
			},
			[]string{"service", "backend", "outcome"},
		),
		conversionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fc",
				Subsystem: "conversion",
				Name:      "duration_seconds",
				Help:      "Backend conversion duration in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service", "backend", "outcome"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fc",
				Subsystem: "resilience",
				Name:      "retries_total",
				Help:      "Retries issued by the resilience executor per operation.",
			},
			[]string{"service", "operation"},
		),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fc", Subsystem: "sweep", Name: "runs_total",
			Help: "Completed cleanup passes.", ConstLabels: constLabels,
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fc", Subsystem: "sweep", Name: "duration_seconds",
			Help: "Cleanup pass duration in seconds.", ConstLabels: constLabels,
			Buckets: prometheus.DefBuckets,
		}),
		sweepDeletedArtifacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fc", Subsystem: "sweep", Name: "deleted_artifacts_total",
			Help: "Artifacts deleted by cleanup.", ConstLabels: constLabels,
		}),
		sweepRemovedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fc", Subsystem: "sweep", Name: "removed_sessions_total",
			Help: "Expired sessions removed by cleanup.", ConstLabels: constLabels,
		}),
		sweepPurgedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fc", Subsystem: "sweep", Name: "purged_jobs_total",
			Help: "Finished jobs purged by cleanup.", ConstLabels: constLabels,
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fc", Subsystem: "sweep", Name: "failures_total",
			Help: "Deletes that failed and will be retried next pass.", ConstLabels: constLabels,
		}),
	}
	registry.MustRegister(
		m.conversionsTotal,
		m.conversionDuration,
		m.retriesTotal,
		m.sweepRuns,
		m.sweepDuration,
		m.sweepDeletedArtifacts,
		m.sweepRemovedSessions,
		m.sweepPurgedJobs,
		m.sweepFailures,
	)
	return m
}

func (m *ConversionMetrics) ObserveConversion(backend domain.BackendID, outcome string, duration time.Duration) {
	if backend == "" {
		backend = "none"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.conversionsTotal.WithLabelValues(m.service, string(backend), outcome).Inc()
	m.conversionDuration.WithLabelValues(m.service, string(backend), outcome).Observe(duration.Seconds())
}

func (m *ConversionMetrics) ObserveSweep(deletedArtifacts, removedSessions, purgedJobs, failures int, duration time.Duration) {
	m.sweepRuns.Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepDeletedArtifacts.Add(float64(deletedArtifacts))
	m.sweepRemovedSessions.Add(float64(removedSessions))
	m.sweepPurgedJobs.Add(float64(purgedJobs))
	m.sweepFailures.Add(float64(failures))
}

// ObserveRetry matches resilience.RetryObserver.
func (m *ConversionMetrics) ObserveRetry(operation string, _ int, _ error) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

// TrackGauge exposes a value sampled at scrape time, such as a backend's
// wait-queue depth.
func (m *ConversionMetrics) TrackGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "fc",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": m.service},
	}, fn))
}
