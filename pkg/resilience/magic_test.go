package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcornBoostScalesTokenFieldsAndConsumesReserve(t *testing.T) {
	m := NewMagic(100, 2)

	mult, adjusted, remaining := m.AcornBoost("provider", map[string]any{
		"max_tokens":    int(1000),
		"model":         "claude",
		"prompt_budget": int64(500),
	})

	require.GreaterOrEqual(t, mult, 1.10)
	require.LessOrEqual(t, mult, 1.50)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, "claude", adjusted["model"])
	assert.Greater(t, adjusted["max_tokens"], 1000)
	assert.Greater(t, adjusted["prompt_budget"], int64(500))
}

func TestAcornBoostNoopWhenReserveEmpty(t *testing.T) {
	m := NewMagic(100, 0)
	mult, adjusted, remaining := m.AcornBoost("provider", map[string]any{"max_tokens": 1000})
	assert.Equal(t, 1.0, mult)
	assert.Equal(t, 1000, adjusted["max_tokens"])
	assert.Equal(t, 0, remaining)
}

func TestAcornBoostNoopWhenEnergyTooLow(t *testing.T) {
	m := NewMagic(5, 3)
	mult, _, remaining := m.AcornBoost("provider", map[string]any{"max_tokens": 1000})
	assert.Equal(t, 1.0, mult)
	assert.Equal(t, 3, remaining)
}

func TestGrantAcornsTopsUpReserve(t *testing.T) {
	m := NewMagic(100, 0)
	m.GrantAcorns(4)
	assert.Equal(t, 4, m.Snapshot().Acorns)
}

func TestHealFailsWhenEnergyInsufficient(t *testing.T) {
	m := NewMagic(5, 0)
	success, strategy := m.Heal("provider", "timeout")
	assert.False(t, success)
	assert.Empty(t, strategy)
}

func TestHealConsumesEnergyAndPicksAStrategy(t *testing.T) {
	m := NewMagic(100, 0)
	_, strategy := m.Heal("provider", "timeout")
	assert.Contains(t, defaultStrategies, strategy)
	assert.Less(t, m.Snapshot().Energy, 100.0)
}

func TestHealPreferenceLearningPrefersWinningStrategy(t *testing.T) {
	m := NewMagic(10000, 0) // plenty of energy for many heal attempts

	// Force one strategy to look good by repeatedly rewarding it through
	// the public Heal path — run many attempts and check the table moved
	// away from its neutral prior for at least one strategy.
	sawNonNeutral := false
	for i := 0; i < 200; i++ {
		m.Heal("provider", "timeout")
	}
	for _, s := range defaultStrategies {
		if score, ok := m.preferences[preferenceKey{"provider", "timeout", s}]; ok && score != 0.5 {
			sawNonNeutral = true
		}
	}
	assert.True(t, sawNonNeutral)
}

func TestAutoHealReturnsTrueOnlyWhenHealedAndBreakerNotOpen(t *testing.T) {
	m := NewMagic(10000, 0)
	b := New(nil, map[string]BreakerDefaults{ComponentProvider: {Threshold: 100}})

	result := m.AutoHeal(b, ComponentProvider, "timeout")
	assert.IsType(t, true, result)
	// The breaker stays closed (1 failure of 100), so the result is exactly
	// the heal outcome.
	hist := m.history[ComponentProvider]
	require.Len(t, hist, 1)
	assert.Equal(t, hist[0].success, result)

	// A breaker that the recorded failure trips open never yields a retry.
	tripped := New(nil, map[string]BreakerDefaults{ComponentProvider: {Threshold: 1}})
	assert.False(t, m.AutoHeal(tripped, ComponentProvider, "timeout"))
}

func TestShieldIsAdvisoryOnly(t *testing.T) {
	m := NewMagic(100, 0)
	assert.False(t, m.ShieldRaised())
	m.RaiseShield()
	assert.True(t, m.ShieldRaised())
	m.LowerShield()
	assert.False(t, m.ShieldRaised())
}
