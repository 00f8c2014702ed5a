package coordinator

import (
	"strings"
	"sync"
)

// GrantThreshold is the minimum score (inclusive) a permission evaluation
// needs to be granted.
const GrantThreshold = 0.5

const (
	defaultTrust = 0.5
	defaultRisk  = 0.5
)

var qualityKeywords = []string{"because", "why", "since", "in order to", "so that", "to avoid", "needed"}

// evaluator holds the trust and risk lookup tables used by permission
// scoring. Both default an unknown key to 0.5, matching the neutral
// prior used elsewhere in the system (e.g. preference learning in the
// resilience package).
type evaluator struct {
	mu    sync.RWMutex
	trust map[string]float64
	risk  map[string]float64
}

func newEvaluator() *evaluator {
	return &evaluator{trust: make(map[string]float64), risk: make(map[string]float64)}
}

// SetTrust overrides the trust score for an agent id.
func (e *evaluator) SetTrust(agentID string, score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trust[agentID] = score
}

// SetRisk overrides the risk score for a resource kind.
func (e *evaluator) SetRisk(resourceKind string, score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk[resourceKind] = score
}

func (e *evaluator) trustFor(agentID string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.trust[agentID]; ok {
		return v
	}
	return defaultTrust
}

func (e *evaluator) riskFor(resourceKind string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.risk[resourceKind]; ok {
		return v
	}
	return defaultRisk
}

// score computes 0.4*trust + 0.4*quality + 0.2*(1-risk).
func (e *evaluator) score(agentID, resourceKind, justification string) float64 {
	trust := e.trustFor(agentID)
	risk := e.riskFor(resourceKind)
	q := quality(justification)
	return 0.4*trust + 0.4*q + 0.2*(1-risk)
}

// quality is a length-and-keyword heuristic in [0,1]. It is monotonic in
// justification length up to a cap, and rewards the presence of a
// rationale-signaling keyword ("because", "why", ...) with a flat bonus —
// a short, keyword-free justification like "do it" scores low, a longer
// one or one that states a reason scores higher.
func quality(justification string) float64 {
	trimmed := strings.TrimSpace(justification)
	if trimmed == "" {
		return 0
	}

	length := float64(len(trimmed))
	base := 0.2 + (length/50.0)*0.2
	if base > 0.7 {
		base = 0.7
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range qualityKeywords {
		if strings.Contains(lower, kw) {
			base += 0.3
			break
		}
	}
	if base > 1.0 {
		base = 1.0
	}
	return base
}
