package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's Prometheus collectors.
type Metrics struct {
	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	queries      *prometheus.CounterVec
}

// New registers collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "scans_total",
			Help:      "Scan decisions by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attendance",
			Name:      "scan_duration_seconds",
			Help:      "Time to decide and persist a scan.",
			Buckets:   prometheus.DefBuckets,
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "queries_total",
			Help:      "Read queries by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.scans, m.scanDuration, m.queries)
	return m
}

// ObserveScan records one scan decision. Failed scans use outcome "Failed".
func (m *Metrics) ObserveScan(outcome, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome, reason).Inc()
	m.scanDuration.Observe(elapsed.Seconds())
}

// ObserveQuery counts one read query.
func (m *Metrics) ObserveQuery(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.queries.WithLabelValues(kind, result).Inc()
}
