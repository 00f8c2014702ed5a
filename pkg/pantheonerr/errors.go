// Package pantheonerr centralizes the sentinel error values shared across
// the bus, gateway, resilience, store, and coordinator packages. The spec's
// error taxonomy is cross-cutting (a BudgetExhausted failure aborts a task
// that is also tracked by telemetry and the bus), so it lives here instead
// of being owned by any single producing package.
package pantheonerr

import "errors"

var (
	// ErrUnknownRecipient is raised by the bus when sending to an unregistered participant.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrRequestTimeout is raised by Bus.request when the reply deadline elapses.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrCancelled is raised by the bus, gateway, or store on cooperative cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrQueueOverflow marks a bounded queue that dropped a message. No package
	// returns it; the bus reports overflows through a "queue_overflow" telemetry counter.
	ErrQueueOverflow = errors.New("queue overflow")

	// ErrProviderNotFound is raised by the gateway for an unregistered provider name.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrRateLimited is raised by the gateway when a rate-limit acquire times out.
	ErrRateLimited = errors.New("rate limited")

	// ErrProviderUnavailable is raised after all retries plus the post-heal retry fail.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderMalformed is raised when a provider's reply cannot be parsed.
	ErrProviderMalformed = errors.New("provider returned malformed response")

	// ErrBreakerOpen is raised when a circuit breaker short-circuits a call.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrStoreUnavailable is raised when both the primary and fallback stores fail.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBudgetExhausted is raised when a debit would exceed a task's budget limit.
	ErrBudgetExhausted = errors.New("budget exhausted")

	// ErrPermissionDenied names a permission evaluation that scored below threshold.
	// No package returns it; Coordinator.Evaluate reports a denial through its grant result.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrForbiddenKey is raised when a blackboard key does not carry an allowed prefix.
	ErrForbiddenKey = errors.New("forbidden blackboard key")

	// ErrTaskNotFound names an unknown task id. No package returns it.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskClosed is raised when an operation targets a task that already closed.
	ErrTaskClosed = errors.New("task closed")
)
