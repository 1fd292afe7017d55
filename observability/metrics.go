package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type nodeMetrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	escrows    prometheus.Gauge
	disputes   prometheus.Gauge
}

var (
	nodeMetricsOnce sync.Once
	nodeRegistry    *nodeMetrics
)

// NodeMetrics returns the lazily-initialised metrics registry used to record
// marketplace custody activity.
func NodeMetrics() *nodeMetrics {
	nodeMetricsOnce.Do(func() {
		nodeRegistry = &nodeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "workchain",
				Subsystem: "node",
				Name:      "operations_total",
				Help:      "Total mutating operations segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "workchain",
				Subsystem: "node",
				Name:      "guard_rejections_total",
				Help:      "Count of operations rejected by the guard pipeline, by reason.",
			}, []string{"reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "workchain",
				Subsystem: "node",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for mutating operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			escrows: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "workchain",
				Subsystem: "node",
				Name:      "escrows_total",
				Help:      "Lifetime count of escrows created.",
			}),
			disputes: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "workchain",
				Subsystem: "node",
				Name:      "disputes_total",
				Help:      "Lifetime count of disputes raised.",
			}),
		}
		prometheus.MustRegister(
			nodeRegistry.operations,
			nodeRegistry.rejections,
			nodeRegistry.latency,
			nodeRegistry.escrows,
			nodeRegistry.disputes,
		)
	})
	return nodeRegistry
}

// ObserveOperation records one mutating operation and its latency.
func (m *nodeMetrics) ObserveOperation(action string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordRejection increments the guard rejection counter. Reasons should be
// stable strings such as "paused", "blocked", "reentrancy" or "rate_limit" so
// dashboards stay consistent.
func (m *nodeMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// SetTotals mirrors the persisted security aggregate into gauges.
func (m *nodeMetrics) SetTotals(escrows, disputes uint64) {
	if m == nil {
		return
	}
	m.escrows.Set(float64(escrows))
	m.disputes.Set(float64(disputes))
}
