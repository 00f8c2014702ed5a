// Package resilience implements the circuit breaker set guarding the
// provider, persistence, coordinator, and tool-call components, plus the
// in-memory "magic" vitality/heal system that decides whether a failed
// call is worth retrying once more.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

// Component names for the four fixed breakers the spec requires.
const (
	ComponentProvider    = "provider"
	ComponentPersistence = "persistence"
	ComponentCoordinator = "coordinator"
	ComponentTool        = "tool"
)

// BreakerDefaults pairs a failure threshold with a recovery timeout.
type BreakerDefaults struct {
	Threshold uint32
	Timeout   time.Duration
}

// defaultThresholds holds the spec's named defaults: provider 3/30s,
// persistence 5/60s, coordinator 2/15s, tool 3/45s.
var defaultThresholds = map[string]BreakerDefaults{
	ComponentProvider:    {Threshold: 3, Timeout: 30 * time.Second},
	ComponentPersistence: {Threshold: 5, Timeout: 60 * time.Second},
	ComponentCoordinator: {Threshold: 2, Timeout: 15 * time.Second},
	ComponentTool:        {Threshold: 3, Timeout: 45 * time.Second},
}

// Recorder is the minimal telemetry sink used for state-change counters.
type Recorder interface {
	IncrCounter(component, name string)
}

// Breakers owns one gobreaker.CircuitBreaker per named component. Each
// breaker's own internal mutex serializes its state transitions; there is
// no additional lock needed around Execute itself, only around the
// registry map used to look a breaker up by name.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	recorder Recorder
}

// New constructs a Breakers set pre-populated with the four named
// breakers at their spec defaults. overrides replaces the default
// threshold/timeout for any component named in it.
func New(recorder Recorder, overrides map[string]BreakerDefaults) *Breakers {
	b := &Breakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		recorder: recorder,
	}
	for name, def := range defaultThresholds {
		if o, ok := overrides[name]; ok {
			def = o
		}
		b.breakers[name] = b.newBreaker(name, def)
	}
	return b
}

func (b *Breakers) newBreaker(name string, def BreakerDefaults) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // exactly one trial call allowed through half-open
		Interval:    0, // never reset closed-state counters on a timer; only on success
		Timeout:     def.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= def.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if b.recorder != nil {
				b.recorder.IncrCounter(name, fmt.Sprintf("breaker_%s", to.String()))
			}
		},
	})
}

func (b *Breakers) breaker(name string) (*gobreaker.CircuitBreaker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cb, ok := b.breakers[name]
	return cb, ok
}

// Call runs fn through the named breaker, translating gobreaker's open-
// state rejection into pantheonerr.ErrBreakerOpen. An unknown component
// name gets a breaker lazily created at default settings (threshold 3,
// timeout 30s) rather than failing, so callers never need to
// pre-register every component by hand.
func (b *Breakers) Call(name string, fn func() (any, error)) (any, error) {
	cb := b.ensure(name)
	result, err := cb.Execute(func() (interface{}, error) { return fn() })
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, pantheonerr.ErrBreakerOpen
	}
	return result, err
}

// RecordFailure manually drives one failed call through the named
// breaker's bookkeeping, without actually invoking any work. This is how
// Magic's auto-heal step records a failure "against the component's
// breaker" even when that failure was observed outside of Call (e.g. a
// retry loop that calls the provider directly).
func (b *Breakers) RecordFailure(name string) {
	cb := b.ensure(name)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errForcedFailure })
}

var errForcedFailure = fmt.Errorf("resilience: forced failure accounting")

func (b *Breakers) ensure(name string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[name]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.breakers[name]; ok {
		return cb
	}
	cb = b.newBreaker(name, BreakerDefaults{Threshold: 3, Timeout: 30 * time.Second})
	b.breakers[name] = cb
	return cb
}

// State reports the current state of the named breaker as a lowercase
// string ("closed", "open", "half-open").
func (b *Breakers) State(name string) string {
	cb, ok := b.breaker(name)
	if !ok {
		return "closed"
	}
	return cb.State().String()
}

// IsOpen reports whether the named breaker currently rejects calls.
func (b *Breakers) IsOpen(name string) bool {
	return b.State(name) == gobreaker.StateOpen.String()
}
