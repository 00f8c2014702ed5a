// Package config implements the layered configuration surface from
// spec.md §6: runtime overrides, environment variables, the Dual-Store's
// key/value table, and hard-coded defaults, in strictly decreasing
// precedence. It follows the teacher's own layering idiom (YAML defaults
// merged via dario.cat/mergo, ${VAR} expansion via os.ExpandEnv) scaled
// down from tarsy's agent/chain/MCP schema to the flat key table this
// core actually needs.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// envPrefix namespaces every environment-variable override so an
// operator's shell is not polluted by bare key names.
const envPrefix = "PANTHEON_"

// StoredConfig is the subset of the Dual-Store's key/value surface the
// config layer reads and writes. Satisfied by *store.Store.
type StoredConfig interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Config resolves every key in spec.md §6's table across its four
// precedence layers. The zero value is not usable — construct with New.
type Config struct {
	defaults Values
	store    StoredConfig

	mu      sync.RWMutex
	runtime map[string]string
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithStore attaches the Dual-Store's key/value table as the "stored
// config" precedence layer. Without it, that layer is simply empty.
func WithStore(s StoredConfig) Option {
	return func(c *Config) { c.store = s }
}

// New constructs a Config from a resolved defaults layer (see
// LoadDefaults) plus optional layering.
func New(defaults Values, opts ...Option) *Config {
	c := &Config{defaults: defaults, runtime: make(map[string]string)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOverride installs a runtime override — the highest-precedence layer,
// used for things like credentials set through an API call. Persists
// nothing; callers that also want it durable should separately Put it
// into the store.
func (c *Config) SetOverride(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime[key] = value
}

// envKey maps a dotted config key ("rate_limit.echo.minute") to its
// environment variable name ("PANTHEON_RATE_LIMIT_ECHO_MINUTE").
func envKey(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// resolve applies the four-layer precedence for one dotted key, calling
// fromDefaults to read the fallback value out of the structured defaults
// when no override layer supplies one.
func (c *Config) resolve(ctx context.Context, key string, fromDefaults func() (string, bool)) (string, bool) {
	c.mu.RLock()
	if v, ok := c.runtime[key]; ok {
		c.mu.RUnlock()
		return v, true
	}
	c.mu.RUnlock()

	if v, ok := lookupEnv(envKey(key)); ok {
		return v, true
	}

	if c.store != nil {
		if v, ok, err := c.store.Get(ctx, key); err == nil && ok {
			return v, true
		}
	}

	return fromDefaults()
}

// DefaultProvider returns the provider name used when the caller omits one.
func (c *Config) DefaultProvider(ctx context.Context) string {
	v, _ := c.resolve(ctx, "default_provider", func() (string, bool) { return c.defaults.DefaultProvider, true })
	return v
}

// StorePrimaryURL returns the Dual-Store primary backend's connection target.
func (c *Config) StorePrimaryURL(ctx context.Context) string {
	v, _ := c.resolve(ctx, "store_primary_url", func() (string, bool) { return c.defaults.StorePrimaryURL, true })
	return v
}

// StoreFallbackPath returns the Dual-Store embedded-fallback file path.
func (c *Config) StoreFallbackPath(ctx context.Context) string {
	v, _ := c.resolve(ctx, "store_fallback_path", func() (string, bool) { return c.defaults.StoreFallbackPath, true })
	return v
}

// ConversationCap returns the per-conversation record cap.
func (c *Config) ConversationCap(ctx context.Context) int {
	v, _ := c.resolve(ctx, "conversation.cap", func() (string, bool) {
		return strconv.Itoa(c.defaults.ConversationCap), true
	})
	n, err := strconv.Atoi(v)
	if err != nil {
		return c.defaults.ConversationCap
	}
	return n
}

// RetryMax returns retry.max.
func (c *Config) RetryMax(ctx context.Context) int {
	v, _ := c.resolve(ctx, "retry.max", func() (string, bool) { return strconv.Itoa(c.defaults.Retry.Max), true })
	n, err := strconv.Atoi(v)
	if err != nil {
		return c.defaults.Retry.Max
	}
	return n
}

// RetryBaseDelay returns retry.base_delay.
func (c *Config) RetryBaseDelay(ctx context.Context) time.Duration {
	v, _ := c.resolve(ctx, "retry.base_delay", func() (string, bool) { return c.defaults.Retry.BaseDelay.Std().String(), true })
	d, err := time.ParseDuration(v)
	if err != nil {
		return c.defaults.Retry.BaseDelay.Std()
	}
	return d
}

// RateLimit returns the minute/hour/day capacities for provider. A tier
// unset at every layer is returned as 0; this method does not substitute
// the rate limiter's own defaults for it.
func (c *Config) RateLimit(ctx context.Context, provider string) RateLimitTier {
	tier, ok := c.defaults.RateLimits[provider]
	if !ok {
		tier = RateLimitTier{}
	}
	get := func(field string, fallback int) int {
		key := fmt.Sprintf("rate_limit.%s.%s", provider, field)
		v, ok := c.resolve(ctx, key, func() (string, bool) {
			if fallback == 0 {
				return "", false
			}
			return strconv.Itoa(fallback), true
		})
		if !ok {
			return fallback
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return n
	}
	return RateLimitTier{
		Minute: get("minute", tier.Minute),
		Hour:   get("hour", tier.Hour),
		Day:    get("day", tier.Day),
	}
}

// Breaker returns the threshold/timeout pair for component, falling back
// to the compiled-in defaults (pkg/resilience) when unset.
func (c *Config) Breaker(ctx context.Context, component string, fallback BreakerTier) BreakerTier {
	base, ok := c.defaults.Breakers[component]
	if !ok {
		base = fallback
	}
	thresholdKey := fmt.Sprintf("breaker.%s.threshold", component)
	timeoutKey := fmt.Sprintf("breaker.%s.timeout", component)

	threshold := base.Threshold
	if v, ok := c.resolve(ctx, thresholdKey, func() (string, bool) { return "", false }); ok {
		if n, err := strconv.Atoi(v); err == nil {
			threshold = n
		}
	}
	timeout := base.Timeout
	if v, ok := c.resolve(ctx, timeoutKey, func() (string, bool) { return "", false }); ok {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = Duration(d)
		}
	}
	return BreakerTier{Threshold: threshold, Timeout: timeout}
}

// MagicEnergyInitial returns magic.energy.initial.
func (c *Config) MagicEnergyInitial(ctx context.Context) float64 {
	v, _ := c.resolve(ctx, "magic.energy.initial", func() (string, bool) {
		return strconv.FormatFloat(c.defaults.Magic.EnergyInitial, 'f', -1, 64), true
	})
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return c.defaults.Magic.EnergyInitial
	}
	return f
}

// MagicAcorns returns magic.acorns.
func (c *Config) MagicAcorns(ctx context.Context) int {
	v, _ := c.resolve(ctx, "magic.acorns", func() (string, bool) { return strconv.Itoa(c.defaults.Magic.Acorns), true })
	n, err := strconv.Atoi(v)
	if err != nil {
		return c.defaults.Magic.Acorns
	}
	return n
}

// lookupEnv is a thin indirection over os.LookupEnv so tests can stub it
// without mutating the real process environment.
var lookupEnv = os.LookupEnv
