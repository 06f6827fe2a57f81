// Package metrics exposes process-level Prometheus metrics for the
// coordinator and worker daemons. This is purely additive observability
// (SPEC_FULL §12) alongside, not instead of, the MetricSnapshot series C5
// persists.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the gauges/counters/histograms both daemons expose.
type Registry struct {
	WorkersActive      *prometheus.GaugeVec
	TargetConnections  *prometheus.GaugeVec
	CurrentQPS         *prometheus.GaugeVec
	OperationLatencyMs *prometheus.HistogramVec
	OperationErrors    *prometheus.CounterVec
}

// NewRegistry constructs and registers a Registry against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		WorkersActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "benchctl",
			Name:      "workers_active",
			Help:      "Number of workers currently active for a run.",
		}, []string{"run_id"}),
		TargetConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "benchctl",
			Name:      "target_connections",
			Help:      "Current target_connections per worker.",
		}, []string{"run_id", "worker_id"}),
		CurrentQPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "benchctl",
			Name:      "current_qps",
			Help:      "Aggregate operations-per-second across workers of a run.",
		}, []string{"run_id"}),
		OperationLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "benchctl",
			Name:      "operation_latency_ms",
			Help:      "Per-operation latency in milliseconds, by query kind.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 16),
		}, []string{"run_id", "kind"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchctl",
			Name:      "operation_errors_total",
			Help:      "Count of failed operations, by error class.",
		}, []string{"run_id", "error_class"}),
	}
	reg.MustRegister(r.WorkersActive, r.TargetConnections, r.CurrentQPS, r.OperationLatencyMs, r.OperationErrors)
	return r
}
