package resilience

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// DefaultInitialEnergy, DefaultAcorns, and EnergyRegenPerMinute are the
// spec's representative defaults. The first two can be overridden through
// pkg/config (magic.energy.initial, magic.acorns); the regeneration rate
// is a fixed constant with no config key.
const (
	DefaultInitialEnergy = 100.0
	DefaultAcorns        = 5
	EnergyRegenPerMinute = 5.0
	healCostEnergy       = 15.0
	preferenceAlpha      = 0.2
	maxHistoryPerKey     = 50
)

// defaultStrategies is the fixed pool Heal chooses from when a
// (component, error class) pair has no recorded history yet.
var defaultStrategies = []string{"retry_backoff", "reduce_payload", "switch_endpoint", "reset_connection"}

type healAttempt struct {
	strategy string
	success  bool
	at       time.Time
}

type preferenceKey struct {
	component string
	errClass  string
	strategy  string
}

// Magic is the process-wide vitality/heal engine. It is never persisted
// across restarts — entirely in-memory, per the spec.
type Magic struct {
	mu sync.Mutex

	energy    float64
	lastRegen time.Time
	acorns    int
	shield    bool

	preferences map[preferenceKey]float64
	lastUsed    map[preferenceKey]time.Time
	history     map[string][]healAttempt // keyed by component

	rand *rand.Rand
}

// NewMagic creates a Magic instance with the given initial energy and acorn
// reserve (use DefaultInitialEnergy / DefaultAcorns for the spec's
// representative defaults).
func NewMagic(initialEnergy float64, acorns int) *Magic {
	return &Magic{
		energy:      initialEnergy,
		lastRegen:   time.Now(),
		acorns:      acorns,
		preferences: make(map[preferenceKey]float64),
		lastUsed:    make(map[preferenceKey]time.Time),
		history:     make(map[string][]healAttempt),
		rand:        rand.New(rand.NewSource(1)),
	}
}

// regenLocked lazily brings energy up to date, the same recompute-on-
// access idiom pkg/ratelimit uses for token buckets. Caller must hold mu.
func (m *Magic) regenLocked(now time.Time) {
	elapsed := now.Sub(m.lastRegen).Minutes()
	if elapsed <= 0 {
		return
	}
	m.energy += elapsed * EnergyRegenPerMinute
	if m.energy > 100 {
		m.energy = 100
	}
	m.lastRegen = now
}

// RaiseShield / LowerShield / ShieldRaised control the advisory shield
// flag. Raising it never blocks calls; it only surfaces in telemetry.
func (m *Magic) RaiseShield() {
	m.mu.Lock()
	m.shield = true
	m.mu.Unlock()
}

func (m *Magic) LowerShield() {
	m.mu.Lock()
	m.shield = false
	m.mu.Unlock()
}

func (m *Magic) ShieldRaised() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shield
}

// AcornBoost consumes one acorn (if the reserve and energy allow it) and
// returns a multiplier in [1.10, 1.50] plus a copy of config with every
// token-budget-looking numeric field scaled by that multiplier.
// acornsRemaining is returned either way so callers can report it.
func (m *Magic) AcornBoost(component string, config map[string]any) (multiplier float64, adjusted map[string]any, acornsRemaining int) {
	m.mu.Lock()
	now := time.Now()
	m.regenLocked(now)

	if m.acorns <= 0 || m.energy < 10 {
		acornsRemaining = m.acorns
		m.mu.Unlock()
		return 1.0, config, acornsRemaining
	}

	m.acorns--
	acornsRemaining = m.acorns
	multiplier = 1.10 + m.rand.Float64()*0.40 // deterministic-per-process random in [1.10, 1.50]
	m.mu.Unlock()

	adjusted = make(map[string]any, len(config))
	for k, v := range config {
		adjusted[k] = v
		if !isTokenBudgetField(k) {
			continue
		}
		switch n := v.(type) {
		case int:
			adjusted[k] = int(float64(n) * multiplier)
		case int64:
			adjusted[k] = int64(float64(n) * multiplier)
		case float64:
			adjusted[k] = n * multiplier
		}
	}
	return multiplier, adjusted, acornsRemaining
}

func isTokenBudgetField(key string) bool {
	for _, suffix := range []string{"_tokens", "_budget", "token_limit"} {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// Heal consumes energy proportional to a fixed learned cost, selects the
// best-scored strategy on record for (component, errClass) — ties broken
// by most-recent use — attempts it, and updates the preference table
// with a pairwise score += alpha*(reward-score) nudge. Returns whether
// the attempt succeeded and which strategy was tried.
func (m *Magic) Heal(component, errClass string) (success bool, strategy string) {
	m.mu.Lock()
	now := time.Now()
	m.regenLocked(now)

	if m.energy < healCostEnergy {
		m.mu.Unlock()
		return false, ""
	}
	m.energy -= healCostEnergy

	strategy = m.bestStrategyLocked(component, errClass, now)
	score, known := m.preferences[preferenceKey{component, errClass, strategy}]
	if !known {
		score = 0.5 // same neutral prior bestStrategyLocked assumes
	}
	m.mu.Unlock()

	// Outcome is probabilistic, biased by the strategy's learned score,
	// so the preference table's effect on future choices is observable.
	probability := 0.3 + 0.5*score
	success = m.rand.Float64() < probability

	m.mu.Lock()
	key := preferenceKey{component, errClass, strategy}
	reward := 0.0
	if success {
		reward = 1.0
	}
	m.preferences[key] = score + preferenceAlpha*(reward-score)
	m.lastUsed[key] = now

	hist := m.history[component]
	hist = append(hist, healAttempt{strategy: strategy, success: success, at: now})
	if len(hist) > maxHistoryPerKey {
		hist = hist[len(hist)-maxHistoryPerKey:]
	}
	m.history[component] = hist
	m.mu.Unlock()

	return success, strategy
}

func (m *Magic) bestStrategyLocked(component, errClass string, now time.Time) string {
	best := ""
	bestScore := -1.0
	var bestUsed time.Time

	for _, s := range defaultStrategies {
		key := preferenceKey{component, errClass, s}
		score, known := m.preferences[key]
		if !known {
			score = 0.5 // neutral prior for an untried strategy
		}
		used := m.lastUsed[key]
		if score > bestScore || (score == bestScore && used.After(bestUsed)) {
			best = s
			bestScore = score
			bestUsed = used
		}
	}
	return best
}

// AutoHeal records the failure against the named breaker, attempts Heal,
// and returns true only if healing succeeded AND the breaker did not end
// up open — signalling to the caller that one more retry is warranted.
func (m *Magic) AutoHeal(breakers *Breakers, component, errClass string) bool {
	breakers.RecordFailure(component)
	success, _ := m.Heal(component, errClass)
	if success && !breakers.IsOpen(component) {
		return true
	}
	return false
}

// Snapshot is a point-in-time view of Magic's process-wide state.
type Snapshot struct {
	Energy float64
	Acorns int
	Shield bool
}

func (m *Magic) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.regenLocked(now)
	return Snapshot{Energy: m.energy, Acorns: m.acorns, Shield: m.shield}
}

// GrantAcorns externally tops up the acorn reserve (acorns never
// auto-refill, per the spec).
func (m *Magic) GrantAcorns(n int) {
	m.mu.Lock()
	m.acorns += n
	m.mu.Unlock()
}

// String renders a short human summary, useful for log lines at
// component boundaries.
func (s Snapshot) String() string {
	return fmt.Sprintf("energy=%.1f acorns=%d shield=%v", s.Energy, s.Acorns, s.Shield)
}
