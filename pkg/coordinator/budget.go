package coordinator

import (
	"time"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

// BudgetStatus mirrors a task's spend as a fraction of its limit.
type BudgetStatus string

const (
	StatusOK        BudgetStatus = "ok"
	StatusWarning   BudgetStatus = "warning"
	StatusCritical  BudgetStatus = "critical"
	StatusExhausted BudgetStatus = "exhausted"
)

// reasonEntry is one append-only debit record.
type reasonEntry struct {
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// budgetState is the per-task budget ledger. Callers must hold the owning
// task's mutex before touching it.
type budgetState struct {
	Limit   int           `json:"limit"`
	Used    int           `json:"used"`
	Status  BudgetStatus  `json:"status"`
	Reasons []reasonEntry `json:"reasons"`
}

func newBudgetState(limit int) budgetState {
	return budgetState{Limit: limit, Status: statusFor(0, limit)}
}

// statusFor computes the threshold band for used/limit. A zero or negative
// limit is always exhausted — there is no budget left to spend.
func statusFor(used, limit int) BudgetStatus {
	if limit <= 0 {
		return StatusExhausted
	}
	pct := float64(used) / float64(limit) * 100
	switch {
	case pct >= 100:
		return StatusExhausted
	case pct >= 90:
		return StatusCritical
	case pct >= 80:
		return StatusWarning
	default:
		return StatusOK
	}
}

// debit applies tokens to the ledger, returning ErrBudgetExhausted (without
// mutating state) if it would exceed the limit.
func (b *budgetState) debit(tokens int, reason string, now time.Time) error {
	if b.Used+tokens > b.Limit {
		return pantheonerr.ErrBudgetExhausted
	}
	b.Used += tokens
	b.Status = statusFor(b.Used, b.Limit)
	b.Reasons = append(b.Reasons, reasonEntry{Delta: tokens, Reason: reason, Timestamp: now})
	return nil
}
