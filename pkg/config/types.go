package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so an override file can write "30s" or
// "1m" — yaml.v3 has no native duration support, so the wrapper parses
// the scalar itself, the same way the teacher-style loaders run
// time.ParseDuration over string fields.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Values is the fully-resolved shape of the configuration surface from
// spec.md §6: the keys every component reads at startup. YAML field tags
// let this struct double as both the hard-coded-defaults document and the
// shape an operator-supplied override file merges into.
type Values struct {
	DefaultProvider   string                   `yaml:"default_provider"`
	StorePrimaryURL   string                   `yaml:"store_primary_url"`
	StoreFallbackPath string                   `yaml:"store_fallback_path"`
	RateLimits        map[string]RateLimitTier `yaml:"rate_limit"`
	Retry             RetryConfig              `yaml:"retry"`
	Breakers          map[string]BreakerTier   `yaml:"breaker"`
	ConversationCap   int                      `yaml:"conversation_cap"`
	Magic             MagicConfig              `yaml:"magic"`
}

// RateLimitTier is one provider's three token-bucket capacities, keyed in
// YAML as rate_limit.{provider}.{minute|hour|day}.
type RateLimitTier struct {
	Minute int `yaml:"minute"`
	Hour   int `yaml:"hour"`
	Day    int `yaml:"day"`
}

// RetryConfig is the gateway's retry.max / retry.base_delay pair.
type RetryConfig struct {
	Max       int      `yaml:"max"`
	BaseDelay Duration `yaml:"base_delay"`
}

// BreakerTier is one component's breaker.{component}.{threshold|timeout} pair.
type BreakerTier struct {
	Threshold int      `yaml:"threshold"`
	Timeout   Duration `yaml:"timeout"`
}

// MagicConfig carries magic.energy.initial / magic.acorns.
type MagicConfig struct {
	EnergyInitial float64 `yaml:"energy_initial"`
	Acorns        int     `yaml:"acorns"`
}

// builtinDefaults returns the hard-coded values every other layer merges
// over, matching the defaults documented elsewhere in the core: rate
// limiter 60/1000/10000 (pkg/ratelimit.DefaultMinuteCapacity et al.),
// breaker thresholds 3/30s,5/60s,2/15s,3/45s (pkg/resilience), a
// conversation cap of 100, and magic's 100-energy/5-acorn starting state
// (pkg/resilience.DefaultInitialEnergy / DefaultAcorns).
func builtinDefaults() Values {
	return Values{
		DefaultProvider:   "echo",
		StoreFallbackPath: "pantheon.db",
		ConversationCap:   100,
		Retry:             RetryConfig{Max: 3, BaseDelay: Duration(time.Second)},
		Magic:             MagicConfig{EnergyInitial: 100, Acorns: 5},
		Breakers: map[string]BreakerTier{
			"provider":    {Threshold: 3, Timeout: Duration(30 * time.Second)},
			"persistence": {Threshold: 5, Timeout: Duration(60 * time.Second)},
			"coordinator": {Threshold: 2, Timeout: Duration(15 * time.Second)},
			"tool":        {Threshold: 3, Timeout: Duration(45 * time.Second)},
		},
	}
}
