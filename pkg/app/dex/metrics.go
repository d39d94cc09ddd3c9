package dex

import (
	"github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "dex"

// Metrics contains metrics exposed by the application.
type Metrics struct {
	// Height of the last finalized block.
	Height prometheus.Gauge
	// Transactions applied, by type and result (ok, rejected, failed).
	Txs *prometheus.CounterVec
	// Events emitted by committed operations, by event name.
	Events *prometheus.CounterVec
	// Time spent executing a block, in seconds.
	BlockSeconds prometheus.Histogram
	// Open orders after the last block.
	OpenOrders prometheus.Gauge
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "height",
			Help:      "Height of the last finalized block.",
		}),
		Txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "txs_total",
			Help:      "Transactions applied, by type and result.",
		}, []string{"type", "result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "events_total",
			Help:      "Notifications emitted by committed operations.",
		}, []string{"event"}),
		BlockSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "block_seconds",
			Help:      "Time spent executing a block.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "open_orders",
			Help:      "Orders neither filled nor cancelled.",
		}),
	}
}

// PrometheusMetrics builds Metrics and registers them with reg
func PrometheusMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := newMetrics(namespace)
	reg.MustRegister(m.Height, m.Txs, m.Events, m.BlockSeconds, m.OpenOrders)
	return m
}

// NopMetrics returns unregistered Metrics
func NopMetrics() *Metrics {
	return newMetrics("")
}
