package gateway

import (
	"context"
	"errors"
)

// transientError marks an outbound failure as retryable (timeout / 5xx /
// connection). Any other error a connector returns is treated as
// terminal (validation / auth) and never retried, per the spec's retry
// classification rule.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps err to mark it retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked
// Transient. Context cancellation/deadline errors are never transient —
// they are cooperative cancellation, not a retryable fault.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t *transientError
	return errors.As(err, &t)
}
