package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ItemsEnqueued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_items_enqueued_total", Help: "Content items enqueued"})
	ItemsCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_items_completed_total", Help: "Content items that reached complete"})
	ItemsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_items_failed_total", Help: "Content items that exhausted retries"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_rate_limit_rejects_total", Help: "Enqueue requests rejected by the tenant rate limiter"})
	LeaseConflicts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_lease_conflicts_total", Help: "Dispatch attempts skipped because another runner held the lease"})

	StepsSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_steps_succeeded_total", Help: "Successful step attempts"}, []string{"step"})
	StepsFailed    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_steps_failed_total", Help: "Failed step attempts"}, []string{"step"})
	StepDuration   = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_step_duration_seconds",
		Help:    "Wall-clock step duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"step"})

	PendingDepth    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_pending_depth", Help: "Items pending and due for dispatch"})
	ProcessingGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_items_processing", Help: "Items currently being executed"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ItemsEnqueued,
			ItemsCompleted,
			ItemsFailed,
			RateLimitRejects,
			LeaseConflicts,
			StepsSucceeded,
			StepsFailed,
			StepDuration,
			PendingDepth,
			ProcessingGauge,
		)
	})
	return promhttp.Handler()
}
