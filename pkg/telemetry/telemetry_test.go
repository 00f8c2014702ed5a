package telemetry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccumulatesTotals(t *testing.T) {
	r := New()
	r.Record("gateway", 10*time.Millisecond, true, "")
	r.Record("gateway", 20*time.Millisecond, false, "timeout")
	r.Record("gateway", 30*time.Millisecond, true, "")

	snap := r.Snapshot()["gateway"]
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(2), snap.Success)
	assert.Equal(t, int64(1), snap.Failure)
	assert.Equal(t, int64(1), snap.ErrorHist["timeout"])
	assert.Equal(t, 10*time.Millisecond, snap.MinLatency)
	assert.Equal(t, 30*time.Millisecond, snap.MaxLatency)
}

func TestIncrCounterSeparateFromRecord(t *testing.T) {
	r := New()
	r.IncrCounter("bus", "queue_overflow")
	r.IncrCounter("bus", "queue_overflow")

	snap := r.Snapshot()["bus"]
	assert.Equal(t, int64(2), snap.Counters["queue_overflow"])
	assert.Equal(t, int64(0), snap.Total) // IncrCounter never touches call aggregates
}

func TestP95OverWindow(t *testing.T) {
	r := New()
	for i := 1; i <= 100; i++ {
		r.Record("gateway", time.Duration(i)*time.Millisecond, true, "")
	}
	snap := r.Snapshot()["gateway"]
	assert.Equal(t, 95*time.Millisecond, snap.P95Latency)
}

func TestWindowIsRolling(t *testing.T) {
	r := New()
	for i := 0; i < windowSize; i++ {
		r.Record("gateway", 1*time.Millisecond, true, "")
	}
	// Push one huge outlier past the window boundary; the oldest 1ms sample
	// should be evicted, not the outlier itself.
	r.Record("gateway", 500*time.Millisecond, true, "")

	snap := r.Snapshot()["gateway"]
	assert.Equal(t, 500*time.Millisecond, snap.MaxLatency)
	assert.Equal(t, int64(windowSize+1), snap.Total) // totals never roll off
}

func TestReportListsComponentsSorted(t *testing.T) {
	r := New()
	r.Record("zeta", time.Millisecond, true, "")
	r.Record("alpha", time.Millisecond, true, "")

	report := r.Report()
	alphaIdx := indexOf(report, "alpha")
	zetaIdx := indexOf(report, "zeta")
	require.NotEqual(t, -1, alphaIdx)
	require.NotEqual(t, -1, zetaIdx)
	assert.Less(t, alphaIdx, zetaIdx)
}

func TestExportWritesJSON(t *testing.T) {
	r := New()
	r.Record("gateway", time.Millisecond, true, "")

	path := filepath.Join(t.TempDir(), "telemetry.json")
	require.NoError(t, r.Export(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gateway")
}

func TestRecordIsConcurrencySafe(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record("gateway", time.Millisecond, true, "")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), r.Snapshot()["gateway"].Total)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
