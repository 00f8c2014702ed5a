package coordinator

import (
	"sync"
	"time"
)

// Task is a bounded unit of multi-agent work: a token budget, a permission
// scope, and a blackboard. All mutation goes through the owning
// Coordinator, which serializes access per task via mu.
type Task struct {
	ID       string
	Required []string

	mu         sync.Mutex
	budget     budgetState
	blackboard map[string]string
	bbOrder    []string // insertion order, for the human-readable doc

	grantedCount int
	deniedCount  int

	openedAt time.Time
	closedAt time.Time
	closed   bool
}

func newTask(id string, limit int, required []string) *Task {
	return &Task{
		ID:         id,
		Required:   append([]string(nil), required...),
		budget:     newBudgetState(limit),
		blackboard: make(map[string]string),
		openedAt:   time.Now(),
	}
}

// Summary is the close-time report handed back to the driver.
type Summary struct {
	TaskID             string        `json:"task_id"`
	TokensUsed         int           `json:"tokens_used"`
	Status             BudgetStatus  `json:"status"`
	PermissionsGranted int           `json:"permissions_granted"`
	PermissionsDenied  int           `json:"permissions_denied"`
	BlackboardKeyCount int           `json:"blackboard_key_count"`
	Duration           time.Duration `json:"duration"`
}
