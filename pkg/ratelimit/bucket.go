// Package ratelimit implements per-provider token buckets across three
// tiers (minute, hour, day) with continuous, lazily-computed refill — no
// background ticker, the same lazy-expiry-on-access idiom the runbook
// cache uses for TTL entries, generalized from "expire an entry" to
// "regenerate a token".
package ratelimit

import (
	"time"
)

// Tier identifies one of the three refill windows a bucket tracks.
type Tier int

const (
	TierMinute Tier = iota
	TierHour
	TierDay
)

func (t Tier) window() time.Duration {
	switch t {
	case TierMinute:
		return time.Minute
	case TierHour:
		return time.Hour
	case TierDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func (t Tier) String() string {
	switch t {
	case TierMinute:
		return "minute"
	case TierHour:
		return "hour"
	case TierDay:
		return "day"
	default:
		return "unknown"
	}
}

// bucket is a single continuously-refilling token bucket. tokens is kept
// as a float so fractional regeneration between acquires isn't lost to
// truncation, matching the cache's "compute elapsed, compare to TTL"
// lazy-recompute-on-access shape.
type bucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(capacity int, window time.Duration) *bucket {
	return &bucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(capacity) / window.Seconds(),
		lastRefill: time.Now(),
	}
}

// refill lazily brings tokens up to date as of now. Callers must hold the
// owning providerBuckets' mutex.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryTake refills then attempts to remove one token. Returns whether the
// token was taken and, if not, the duration until one becomes available.
func (b *bucket) tryTake(now time.Time) (bool, time.Duration) {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	missing := 1 - b.tokens
	wait := time.Duration(missing/b.refillRate*float64(time.Second)) + time.Millisecond
	return false, wait
}

func (b *bucket) remaining(now time.Time) int {
	b.refill(now)
	return int(b.tokens)
}

func (b *bucket) nextAvailable(now time.Time) time.Time {
	b.refill(now)
	if b.tokens >= 1 {
		return now
	}
	missing := 1 - b.tokens
	wait := time.Duration(missing / b.refillRate * float64(time.Second))
	return now.Add(wait)
}
