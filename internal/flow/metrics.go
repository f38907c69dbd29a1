package flow

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for unit outcomes.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
)

// metrics are per graph so that several graphs can live in one process. They
// are only exported when a registerer is supplied with WithRegisterer.
type metrics struct {
	dispatches     *prometheus.CounterVec
	computes       *prometheus.CounterVec
	computeSeconds *prometheus.HistogramVec
	pending        prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgrad_dispatch_total",
				Help: "Total number of operator dispatches.",
			},
			[]string{"op"},
		),
		computes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgrad_compute_total",
				Help: "Total number of settled units by outcome.",
			},
			[]string{"op", "status"},
		),
		computeSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowgrad_compute_seconds",
				Help:    "Duration of operator compute calls, in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowgrad_pending_units",
				Help: "Number of dispatched units that have not settled yet.",
			},
		),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	reg.MustRegister(m.dispatches, m.computes, m.computeSeconds, m.pending)
}
