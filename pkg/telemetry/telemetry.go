// Package telemetry records per-component call counts, latency statistics,
// success rate, and last-seen errors, the way pkg/queue.WorkerPool.Health
// in the teacher rolls up a point-in-time snapshot without blocking the
// goroutines doing the actual work. Recording uses one mutex per component
// rather than a single global lock, so no two components ever contend.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// windowSize bounds the rolling latency sample kept per component, per the
// spec's "last N=100" window.
const windowSize = 100

type componentStats struct {
	mu sync.Mutex

	total, success, failure int64
	errorHist               map[string]int64
	lastSeen                time.Time
	counters                map[string]int64

	latencies [windowSize]time.Duration
	head      int
	filled    int
}

func newComponentStats() *componentStats {
	return &componentStats{
		errorHist: make(map[string]int64),
		counters:  make(map[string]int64),
	}
}

func (c *componentStats) record(latency time.Duration, success bool, errClass string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if success {
		c.success++
	} else {
		c.failure++
		if errClass != "" {
			c.errorHist[errClass]++
		}
	}
	c.lastSeen = time.Now()

	c.latencies[c.head] = latency
	c.head = (c.head + 1) % windowSize
	if c.filled < windowSize {
		c.filled++
	}
}

func (c *componentStats) incr(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

// Snapshot is a point-in-time, immutable view of one component's stats.
type Snapshot struct {
	Component  string           `json:"component"`
	Total      int64            `json:"total"`
	Success    int64            `json:"success"`
	Failure    int64            `json:"failure"`
	ErrorHist  map[string]int64 `json:"error_histogram"`
	Counters   map[string]int64 `json:"counters"`
	LastSeen   time.Time        `json:"last_seen"`
	AvgLatency time.Duration    `json:"avg_latency_ns"`
	MinLatency time.Duration    `json:"min_latency_ns"`
	MaxLatency time.Duration    `json:"max_latency_ns"`
	P95Latency time.Duration    `json:"p95_latency_ns"`
}

func (c *componentStats) snapshot(component string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Component: component,
		Total:     c.total,
		Success:   c.success,
		Failure:   c.failure,
		LastSeen:  c.lastSeen,
		ErrorHist: make(map[string]int64, len(c.errorHist)),
		Counters:  make(map[string]int64, len(c.counters)),
	}
	for k, v := range c.errorHist {
		s.ErrorHist[k] = v
	}
	for k, v := range c.counters {
		s.Counters[k] = v
	}

	if c.filled == 0 {
		return s
	}

	sorted := make([]time.Duration, c.filled)
	copy(sorted, c.latencies[:c.filled])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	s.AvgLatency = sum / time.Duration(len(sorted))
	s.MinLatency = sorted[0]
	s.MaxLatency = sorted[len(sorted)-1]

	// Nearest-rank p95: the ceil(0.95*n)-th smallest sample.
	p95idx := (len(sorted)*95+99)/100 - 1
	if p95idx >= len(sorted) {
		p95idx = len(sorted) - 1
	}
	s.P95Latency = sorted[p95idx]
	return s
}

// Recorder is the process-wide telemetry sink, passed into every other
// component as an explicit handle rather than referenced as a singleton,
// per the spec's DESIGN NOTES on global state and test isolation.
type Recorder struct {
	mu         sync.RWMutex
	components map[string]*componentStats
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{components: make(map[string]*componentStats)}
}

func (r *Recorder) stats(component string) *componentStats {
	r.mu.RLock()
	c, ok := r.components[component]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.components[component]; ok {
		return c
	}
	c = newComponentStats()
	r.components[component] = c
	return c
}

// Record logs one call's outcome for component. errClass is ignored when
// success is true.
func (r *Recorder) Record(component string, latency time.Duration, success bool, errClass string) {
	r.stats(component).record(latency, success, errClass)
}

// IncrCounter bumps an ad-hoc named counter for component (queue overflows,
// shield-raised notices, breaker state changes) without affecting the
// call/latency aggregates. Satisfies the Recorder interfaces of bus,
// gateway, resilience, store and coordinator.
func (r *Recorder) IncrCounter(component, name string) {
	r.stats(component).incr(name)
}

// Snapshot returns a structured map of every component recorded so far.
func (r *Recorder) Snapshot() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.components))
	for name, c := range r.components {
		out[name] = c.snapshot(name)
	}
	return out
}

// Report renders a human-readable multiline summary, one line per
// component, suitable for a CLI status command.
func (r *Recorder) Report() string {
	snaps := r.Snapshot()
	names := make([]string, 0, len(snaps))
	for name := range snaps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ""
	for _, name := range names {
		s := snaps[name]
		rate := 0.0
		if s.Total > 0 {
			rate = float64(s.Success) / float64(s.Total) * 100
		}
		out += fmt.Sprintf(
			"%-24s total=%-6d success=%-6d failure=%-6d rate=%5.1f%% avg=%-10s p95=%-10s last_seen=%s\n",
			name, s.Total, s.Success, s.Failure, rate,
			s.AvgLatency.Round(time.Microsecond), s.P95Latency.Round(time.Microsecond),
			s.LastSeen.Format(time.RFC3339),
		)
	}
	return out
}

// Export writes the snapshot to path as JSON.
func (r *Recorder) Export(path string) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal telemetry snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write telemetry export %s: %w", path, err)
	}
	return nil
}
