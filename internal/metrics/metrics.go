// Package metrics exposes supervision counters to Prometheus and keeps a
// bounded in-memory history of system metrics samples.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	lifecycleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "registry",
			Name:      "lifecycle_events_total",
			Help:      "Number of lifecycle events emitted by the registry.",
		}, []string{"event"},
	)
	registeredProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "supervisor",
			Subsystem: "registry",
			Name:      "registered_processes",
			Help:      "Current number of processes known to the registry.",
		},
	)
	syncErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "sync",
			Name:      "errors_total",
			Help:      "Number of adapter failures across sync ticks.",
		},
	)
	healthCheckResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "health",
			Name:      "check_results_total",
			Help:      "Health check results by type and status.",
		}, []string{"type", "status"},
	)
	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "supervisor",
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Observed health check execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"},
	)
	restartAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "restart",
			Name:      "attempts_total",
			Help:      "Restart attempts by reason and outcome.",
		}, []string{"reason", "outcome"},
	)
	poolWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervisor",
			Subsystem: "pool",
			Name:      "workers",
			Help:      "Current worker count per pool and state.",
		}, []string{"pool", "state"},
	)
	poolTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisor",
			Subsystem: "pool",
			Name:      "tasks_total",
			Help:      "Processed pool tasks by pool and outcome.",
		}, []string{"pool", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		lifecycleEvents, registeredProcesses, syncErrors,
		healthCheckResults, healthCheckDuration,
		restartAttempts, poolWorkers, poolTasks,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLifecycleEvent(event string) {
	if regOK.Load() {
		lifecycleEvents.WithLabelValues(event).Inc()
	}
}

func SetRegisteredProcesses(n int) {
	if regOK.Load() {
		registeredProcesses.Set(float64(n))
	}
}

func IncSyncError() {
	if regOK.Load() {
		syncErrors.Inc()
	}
}

func RecordHealthCheck(checkType, status string, seconds float64) {
	if regOK.Load() {
		healthCheckResults.WithLabelValues(checkType, status).Inc()
		healthCheckDuration.WithLabelValues(checkType).Observe(seconds)
	}
}

func RecordRestartAttempt(reason string, success bool) {
	if regOK.Load() {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		restartAttempts.WithLabelValues(reason, outcome).Inc()
	}
}

func SetPoolWorkers(pool, state string, n int) {
	if regOK.Load() {
		poolWorkers.WithLabelValues(pool, state).Set(float64(n))
	}
}

func IncPoolTask(pool, outcome string) {
	if regOK.Load() {
		poolTasks.WithLabelValues(pool, outcome).Inc()
	}
}
