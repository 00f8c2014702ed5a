package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts and the 1s/2s/4s exponential delay sequence are the
// spec's fixed retry policy. The third interval (4s) is only ever used
// for the single post-heal retry, not within the base 3-attempt budget
// (which only needs two delays: 1s before attempt 2, 2s before attempt
// 3) — see DESIGN.md for why this reconciles the two retry counts the
// spec gives.
const DefaultMaxAttempts = 3

func newExponentialBackOff(baseDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 4 * baseDelay
	return b
}

// callWithRetry attempts fn up to maxAttempts times, retrying only on
// transient errors (IsTransient), with the 1s/2s delay sequence between
// attempts. A terminal error or a successful call stops retrying
// immediately.
func callWithRetry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() (ConversationReply, error)) (ConversationReply, int, error) {
	attempts := 0
	result, err := backoff.Retry(ctx, func() (ConversationReply, error) {
		attempts++
		reply, err := fn()
		if err == nil {
			return reply, nil
		}
		if !IsTransient(err) {
			return ConversationReply{}, backoff.Permanent(err)
		}
		return ConversationReply{}, err
	}, backoff.WithBackOff(newExponentialBackOff(baseDelay)), backoff.WithMaxTries(uint(maxAttempts)))
	return result, attempts, err
}

// postHealRetry performs the single additional attempt auto-heal earns,
// after waiting the spec's 4s tail of the delay sequence.
func postHealRetry(ctx context.Context, fn func() (ConversationReply, error)) (ConversationReply, error) {
	t := time.NewTimer(4 * time.Second)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ConversationReply{}, ctx.Err()
	}
	return fn()
}
