// Package metrics exposes Prometheus counters/histograms for the daemon,
// trimmed from the teacher's internal/metrics/prometheus.go shape: a
// private registry, vectors keyed by queue/status, served over promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDurationMs   *prometheus.HistogramVec
	StagedBytes     *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
}

// New registers the cmdproxy collectors on a fresh private registry under
// namespace, with the given latency histogram buckets.
func New(namespace string, buckets []float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs, partitioned by queue and outcome status.",
		}, []string{"queue", "status"}),
		RunDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_ms",
			Help:      "End-to-end run duration in milliseconds.",
			Buckets:   buckets,
		}, []string{"queue"}),
		StagedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_bytes_total",
			Help:      "Bytes staged through the object store, partitioned by direction.",
		}, []string{"direction"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Approximate number of tasks waiting on a queue.",
		}, []string{"queue"}),
	}

	reg.MustRegister(m.RunsTotal, m.RunDurationMs, m.StagedBytes, m.QueueDepth)
	return m
}

// Handler returns the promhttp handler scraping this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
