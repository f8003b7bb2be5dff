// Package metrics exposes Prometheus instrumentation for lifecycle operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LifecycleOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugman_lifecycle_operations_total",
		Help: "Lifecycle operations by operation name and outcome",
	}, []string{"operation", "outcome"})

	LifecycleOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plugman_lifecycle_operation_duration_seconds",
		Help:    "Time taken by lifecycle operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	EnabledPlugins = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plugman_enabled_plugins",
		Help: "Number of plugins in the enabled set after the last write",
	})

	MigrationsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plugman_migrations_applied_total",
		Help: "Total number of migration files applied",
	})

	CacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plugman_cache_invalidations_total",
		Help: "Total number of enabled-set cache invalidations",
	})

	LifecycleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugman_lifecycle_events_total",
		Help: "Lifecycle events published, by kind",
	}, []string{"kind"})
)

// Recorder feeds traced operations into the lifecycle metrics.
type Recorder struct{}

func (Recorder) RecordOperation(name string, duration time.Duration, outcome string) {
	LifecycleOperationsTotal.WithLabelValues(name, outcome).Inc()
	LifecycleOperationDuration.WithLabelValues(name).Observe(duration.Seconds())
}
