package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollectorDescribeAndCollect(t *testing.T) {
	r := New()
	r.Record("gateway", 10*time.Millisecond, true, "")
	r.Record("gateway", 20*time.Millisecond, false, "timeout")

	c := NewPrometheusCollector(r)

	descs := make(chan *prometheus.Desc, 8)
	c.Describe(descs)
	close(descs)
	var descCount int
	for range descs {
		descCount++
	}
	assert.Equal(t, 4, descCount)

	metrics := make(chan prometheus.Metric, 8)
	c.Collect(metrics)
	close(metrics)
	var metricCount int
	for m := range metrics {
		require.NotNil(t, m)
		metricCount++
	}
	// calls, failures, avg latency, p95 latency — one of each for "gateway".
	assert.Equal(t, 4, metricCount)
}

func TestPrometheusCollectorRegistersCleanly(t *testing.T) {
	r := New()
	r.Record("gateway", time.Millisecond, true, "")

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(NewPrometheusCollector(r)))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
