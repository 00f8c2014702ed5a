package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Default bucket capacities, overridable per provider via Configure.
const (
	DefaultMinuteCapacity = 60
	DefaultHourCapacity   = 1000
	DefaultDayCapacity    = 10000
)

// Capacities holds the three tier capacities for one provider.
type Capacities struct {
	Minute int
	Hour   int
	Day    int
}

func defaultCapacities() Capacities {
	return Capacities{Minute: DefaultMinuteCapacity, Hour: DefaultHourCapacity, Day: DefaultDayCapacity}
}

// providerBuckets is the per-provider mutex-guarded set of tier buckets —
// one mutex per provider, never a single lock across providers, per the
// no-global-lock-on-the-fast-path rule.
type providerBuckets struct {
	mu     sync.Mutex
	minute *bucket
	hour   *bucket
	day    *bucket
}

func newProviderBuckets(cap Capacities) *providerBuckets {
	return &providerBuckets{
		minute: newBucket(cap.Minute, time.Minute),
		hour:   newBucket(cap.Hour, time.Hour),
		day:    newBucket(cap.Day, 24*time.Hour),
	}
}

// Limiter tracks independent token-bucket triples per provider name.
type Limiter struct {
	mu        sync.RWMutex
	providers map[string]*providerBuckets
	defaults  Capacities
}

// New creates a Limiter. Providers not explicitly Configure'd get the
// package defaults (60/1000/10000).
func New() *Limiter {
	return &Limiter{
		providers: make(map[string]*providerBuckets),
		defaults:  defaultCapacities(),
	}
}

// Configure overrides the tier capacities for a provider. Safe to call
// before or after the provider has already been acquired against; a
// reconfigure resets that provider's buckets to full.
func (l *Limiter) Configure(provider string, cap Capacities) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.providers[provider] = newProviderBuckets(cap)
}

func (l *Limiter) bucketsFor(provider string) *providerBuckets {
	l.mu.RLock()
	pb, ok := l.providers[provider]
	l.mu.RUnlock()
	if ok {
		return pb
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if pb, ok = l.providers[provider]; ok {
		return pb
	}
	pb = newProviderBuckets(l.defaults)
	l.providers[provider] = pb
	return pb
}

// Acquire succeeds only once every tier (minute/hour/day) has a token
// available. If any tier is momentarily empty, it waits for the
// soonest-to-regenerate tier, up to wait. Returns false (never an error —
// per the spec, the gateway is the one that maps a false into
// RateLimited) if wait elapses first, or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, provider string, wait time.Duration) bool {
	pb := l.bucketsFor(provider)
	deadline := time.Now().Add(wait)

	for {
		pb.mu.Lock()
		now := time.Now()
		okMin, waitMin := pb.minute.tryTake(now)
		if !okMin {
			pb.mu.Unlock()
			if !l.sleepUntilRetry(ctx, now, waitMin, deadline) {
				return false
			}
			continue
		}
		okHour, waitHour := pb.hour.tryTake(now)
		if !okHour {
			pb.minute.tokens++ // refund the minute token we just took
			pb.mu.Unlock()
			if !l.sleepUntilRetry(ctx, now, waitHour, deadline) {
				return false
			}
			continue
		}
		okDay, waitDay := pb.day.tryTake(now)
		if !okDay {
			pb.minute.tokens++
			pb.hour.tokens++
			pb.mu.Unlock()
			if !l.sleepUntilRetry(ctx, now, waitDay, deadline) {
				return false
			}
			continue
		}
		pb.mu.Unlock()
		return true
	}
}

func (l *Limiter) sleepUntilRetry(ctx context.Context, now time.Time, retryAfter time.Duration, deadline time.Time) bool {
	retryAt := now.Add(retryAfter)
	if retryAt.After(deadline) {
		return false
	}
	t := time.NewTimer(retryAfter)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stats is a point-in-time view of one provider's bucket state.
type Stats struct {
	Provider            string
	MinuteRemaining     int
	HourRemaining       int
	DayRemaining        int
	NextMinuteAvailable time.Time
	NextHourAvailable   time.Time
	NextDayAvailable    time.Time
}

// Status returns the current bucket levels for provider without consuming
// any tokens.
func (l *Limiter) Status(provider string) Stats {
	pb := l.bucketsFor(provider)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	now := time.Now()
	return Stats{
		Provider:            provider,
		MinuteRemaining:     pb.minute.remaining(now),
		HourRemaining:       pb.hour.remaining(now),
		DayRemaining:        pb.day.remaining(now),
		NextMinuteAvailable: pb.minute.nextAvailable(now),
		NextHourAvailable:   pb.hour.nextAvailable(now),
		NextDayAvailable:    pb.day.nextAvailable(now),
	}
}
