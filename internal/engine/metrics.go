package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus-compatible counters and a histogram for the
// graph runtime, trimmed from the teacher's PrometheusMetrics down to the
// three things a sequential, single-session-at-a-time loop can actually
// produce: per-node step latency, plan-item retries, and GPU-wait stalls.
// The teacher's inflight_nodes/queue_depth gauges and
// merge_conflicts_total counter describe its concurrent frontier
// scheduler, which this package does not have (see DESIGN.md).
type Metrics struct {
	stepLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	gpuWait     *prometheus.CounterVec
}

// NewMetrics creates and registers the engine's metrics with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "step_latency_ms",
			Help:      "Node dispatch duration in milliseconds, by node kind and outcome",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 120000},
		}, []string{"session_id", "node", "status"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "plan_item_retries_total",
			Help:      "Cumulative count of plan items the executor left in the failed state",
		}, []string{"session_id", "action"}),

		gpuWait: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "gpu_wait_total",
			Help:      "Decider ticks that returned wait because max_parallel_gpu was already reached",
		}, []string{"session_id"}),
	}
}

func (m *Metrics) recordStepLatency(sessionID, node string, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(sessionID, node, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incrementRetries(sessionID, action string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(sessionID, action).Inc()
}

func (m *Metrics) incrementGPUWait(sessionID string) {
	if m == nil {
		return
	}
	m.gpuWait.WithLabelValues(sessionID).Inc()
}
