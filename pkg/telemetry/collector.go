package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector adapts a Recorder's snapshot into prometheus.Collector,
// computed on each scrape rather than kept as live counters, so the hot
// recording path never touches a prometheus metric directly.
type PrometheusCollector struct {
	rec *Recorder

	calls    *prometheus.Desc
	failures *prometheus.Desc
	avgLat   *prometheus.Desc
	p95Lat   *prometheus.Desc
}

// NewPrometheusCollector wraps rec for registration with a prometheus.Registry.
func NewPrometheusCollector(rec *Recorder) *PrometheusCollector {
	return &PrometheusCollector{
		rec: rec,
		calls: prometheus.NewDesc(
			"pantheon_component_calls_total",
			"Total calls recorded for a component.",
			[]string{"component"}, nil,
		),
		failures: prometheus.NewDesc(
			"pantheon_component_failures_total",
			"Total failed calls recorded for a component.",
			[]string{"component"}, nil,
		),
		avgLat: prometheus.NewDesc(
			"pantheon_component_latency_avg_seconds",
			"Average latency over the rolling window, in seconds.",
			[]string{"component"}, nil,
		),
		p95Lat: prometheus.NewDesc(
			"pantheon_component_latency_p95_seconds",
			"P95 latency over the rolling window, in seconds.",
			[]string{"component"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.failures
	ch <- c.avgLat
	ch <- c.p95Lat
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.rec.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Total), name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failure), name)
		ch <- prometheus.MustNewConstMetric(c.avgLat, prometheus.GaugeValue, s.AvgLatency.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.p95Lat, prometheus.GaugeValue, s.P95Latency.Seconds(), name)
	}
}
