package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]string)} }

func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore) Put(ctx context.Context, key, value string) error {
	f.data[key] = value
	return nil
}

func TestConfig_DefaultsOnly(t *testing.T) {
	c := New(builtinDefaults())
	ctx := context.Background()

	assert.Equal(t, "echo", c.DefaultProvider(ctx))
	assert.Equal(t, 100, c.ConversationCap(ctx))
	assert.Equal(t, 3, c.RetryMax(ctx))
	assert.Equal(t, time.Second, c.RetryBaseDelay(ctx))
	assert.Equal(t, 5, c.MagicAcorns(ctx))
}

func TestConfig_PrecedenceOrder(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	require.NoError(t, st.Put(ctx, "default_provider", "from-store"))

	c := New(builtinDefaults(), WithStore(st))
	assert.Equal(t, "from-store", c.DefaultProvider(ctx), "stored config beats hard-coded defaults")

	t.Setenv("PANTHEON_DEFAULT_PROVIDER", "from-env")
	assert.Equal(t, "from-env", c.DefaultProvider(ctx), "env beats stored config")

	c.SetOverride("default_provider", "from-runtime")
	assert.Equal(t, "from-runtime", c.DefaultProvider(ctx), "runtime override beats everything")
}

func TestConfig_RateLimitPerProvider(t *testing.T) {
	ctx := context.Background()
	defaults := builtinDefaults()
	defaults.RateLimits = map[string]RateLimitTier{
		"anthropic": {Minute: 60, Hour: 1000, Day: 10000},
	}
	c := New(defaults)

	tier := c.RateLimit(ctx, "anthropic")
	assert.Equal(t, 60, tier.Minute)
	assert.Equal(t, 10000, tier.Day)

	t.Setenv("PANTHEON_RATE_LIMIT_ANTHROPIC_MINUTE", "5")
	tier = c.RateLimit(ctx, "anthropic")
	assert.Equal(t, 5, tier.Minute, "env overrides a single tier field")
	assert.Equal(t, 1000, tier.Hour, "untouched tiers keep their default")
}

func TestConfig_BreakerOverride(t *testing.T) {
	ctx := context.Background()
	c := New(builtinDefaults())

	fallback := BreakerTier{Threshold: 3, Timeout: Duration(30 * time.Second)}
	b := c.Breaker(ctx, "provider", fallback)
	assert.Equal(t, 3, b.Threshold)
	assert.Equal(t, 30*time.Second, b.Timeout.Std())

	c.SetOverride("breaker.provider.threshold", "9")
	b = c.Breaker(ctx, "provider", fallback)
	assert.Equal(t, 9, b.Threshold)
	assert.Equal(t, 30*time.Second, b.Timeout.Std(), "timeout unaffected by a threshold-only override")
}
