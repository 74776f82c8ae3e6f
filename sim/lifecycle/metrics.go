package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "montecarlo_sim"
	metricsSubsystem = "lifecycle"

	// ResultLabel is the per-unit submission result: submitted, failed or skipped.
	ResultLabel = "result"
)

// Metrics groups the lifecycle collectors. Build it with NewMetrics so the
// caller decides which registry (if any) they are exported from.
type Metrics struct {
	Units                *prometheus.CounterVec
	Purged               prometheus.Counter
	PurgeFailures        prometheus.Counter
	PlannedWorkers       prometheus.Gauge
	DiscardedSimulations prometheus.Counter
	DispatchDurationSec  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Units: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "units_total",
			Help:      "Worker units handled by the submit phase, by result.",
		}, []string{ResultLabel}),
		Purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "purged_units_total",
			Help:      "Succeeded worker units deleted before a new generation.",
		}),
		PurgeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "purge_failures_total",
			Help:      "Failed list or delete calls during purge.",
		}),
		PlannedWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "planned_workers",
			Help:      "Worker count of the most recent plan.",
		}),
		DiscardedSimulations: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "discarded_simulations_total",
			Help:      "Simulations dropped by the remainder policy.",
		}),
		DispatchDurationSec: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dispatch_duration_seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			Help:      "Wall time of one purge-then-submit cycle.",
		}),
	}
}
