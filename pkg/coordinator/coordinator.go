// Package coordinator implements the Swarm Coordinator: a per-task token
// budget, a trust/risk-weighted permission gate, and a shared blackboard
// used to hand results between agent capabilities.
package coordinator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

// Recorder is the telemetry sink the coordinator reports counters against.
type Recorder interface {
	IncrCounter(component, name string)
}

// Coordinator owns every open task, the trust/risk tables, and the
// on-disk persistence for budgets, grants, the audit log, and the
// blackboard document.
type Coordinator struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	grants map[string]bool // "{agent_id}:{resource_kind}" -> currently granted

	evaluator *evaluator
	persist   *persistence
	recorder  Recorder
	log       *slog.Logger
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithPersistenceDir sets the directory budgets.json, grants.json,
// audit.jsonl, and blackboard.md are written to. Omit it to run without
// any disk persistence (useful for tests).
func WithPersistenceDir(dir string) Option {
	return func(c *Coordinator) {
		p, err := newPersistence(dir)
		if err != nil {
			slog.Default().Error("coordinator: persistence disabled", "error", err)
			return
		}
		c.persist = p
	}
}

// WithRecorder attaches a telemetry sink. Optional — a nil recorder is a
// no-op.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// New constructs an empty Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		tasks:     make(map[string]*Task),
		grants:    make(map[string]bool),
		evaluator: newEvaluator(),
		log:       slog.Default().With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTrust overrides the trust score used in permission scoring for an
// agent id. Unknown agents default to 0.5.
func (c *Coordinator) SetTrust(agentID string, score float64) { c.evaluator.SetTrust(agentID, score) }

// SetRisk overrides the risk score used in permission scoring for a
// resource kind. Unknown resources default to 0.5.
func (c *Coordinator) SetRisk(resourceKind string, score float64) {
	c.evaluator.SetRisk(resourceKind, score)
}

// OpenTask creates (or resets, if id was previously closed) a task with
// the given budget limit and the resource kinds it requires permission
// for. Reopening an id that is still active is an error.
func (c *Coordinator) OpenTask(id string, budget int, requiredPermissions []string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.tasks[id]; ok {
		existing.mu.Lock()
		closed := existing.closed
		existing.mu.Unlock()
		if !closed {
			return nil, fmt.Errorf("coordinator: task %q already open", id)
		}
	}

	task := newTask(id, budget, requiredPermissions)
	c.tasks[id] = task
	c.persistBudgetsLocked()
	return task, nil
}

// Spend debits tokens from task's budget, appending reason to its
// persistent reason log. Returns pantheonerr.ErrBudgetExhausted without
// mutating state if the debit would exceed the limit, and
// pantheonerr.ErrTaskClosed if the task already closed.
func (c *Coordinator) Spend(task *Task, tokens int, reason string) (BudgetStatus, error) {
	task.mu.Lock()
	if task.closed {
		task.mu.Unlock()
		return "", pantheonerr.ErrTaskClosed
	}
	err := task.budget.debit(tokens, reason, time.Now())
	status := task.budget.Status
	task.mu.Unlock()

	if err != nil {
		c.incr("budget_exhausted")
		return status, err
	}
	c.persistBudgets()
	return status, nil
}

// Evaluate scores a permission request and appends the full inputs and
// computed score to the audit log, regardless of the outcome. taskID may
// be empty for a task-less evaluation; when non-empty and the resource
// kind is among the task's required permissions, a deny closes the task
// (a "fatal" permission failure per the task lifecycle).
func (c *Coordinator) Evaluate(taskID, agentID, resourceKind, justification, scope string) (grant bool, score float64, reason string, auditID string) {
	score = c.evaluator.score(agentID, resourceKind, justification)
	grant = score >= GrantThreshold

	if grant {
		reason = "score meets grant threshold"
	} else {
		reason = "score below grant threshold"
	}

	auditID = uuid.New().String()
	decision := "deny"
	if grant {
		decision = "grant"
	}

	grantKey := agentID + ":" + resourceKind
	c.mu.Lock()
	if grant {
		c.grants[grantKey] = true
	} else {
		delete(c.grants, grantKey)
	}
	c.mu.Unlock()

	_ = c.persist.appendAudit(auditEntry{
		ID:            auditID,
		Timestamp:     time.Now(),
		TaskID:        taskID,
		AgentID:       agentID,
		ResourceKind:  resourceKind,
		Justification: justification,
		Scope:         scope,
		Score:         score,
		Decision:      decision,
	})
	c.incr("permission_" + decision)

	if task, ok := c.lookupTask(taskID); ok {
		task.mu.Lock()
		if grant {
			task.grantedCount++
		} else {
			task.deniedCount++
		}
		fatal := !grant && containsString(task.Required, resourceKind)
		task.mu.Unlock()
		c.persistGrants()
		if fatal {
			_, _ = c.CloseTask(task)
		}
	}

	return grant, score, reason, auditID
}

// BBWrite writes a value into a task's blackboard. key must carry the
// "task:{id}:" or "agent:{name}:" prefix or the write fails with
// pantheonerr.ErrForbiddenKey.
func (c *Coordinator) BBWrite(task *Task, key, value string) error {
	if !validBlackboardKey(task.ID, key) {
		return pantheonerr.ErrForbiddenKey
	}

	task.mu.Lock()
	if task.closed {
		task.mu.Unlock()
		return pantheonerr.ErrTaskClosed
	}
	if _, exists := task.blackboard[key]; !exists {
		task.bbOrder = append(task.bbOrder, key)
	}
	task.blackboard[key] = value
	task.mu.Unlock()

	c.persistBlackboardDoc()
	return nil
}

// BBRead returns the last committed value for key, or ("", false) if
// never written.
func (c *Coordinator) BBRead(task *Task, key string) (string, bool) {
	task.mu.Lock()
	defer task.mu.Unlock()
	v, ok := task.blackboard[key]
	return v, ok
}

// CloseTask freezes task and returns its summary. Closing an
// already-closed task just returns the same summary again.
func (c *Coordinator) CloseTask(task *Task) (Summary, error) {
	task.mu.Lock()
	if !task.closed {
		task.closed = true
		task.closedAt = time.Now()
	}
	summary := Summary{
		TaskID:             task.ID,
		TokensUsed:         task.budget.Used,
		Status:             task.budget.Status,
		PermissionsGranted: task.grantedCount,
		PermissionsDenied:  task.deniedCount,
		BlackboardKeyCount: len(task.blackboard),
		Duration:           task.closedAt.Sub(task.openedAt),
	}
	task.mu.Unlock()

	c.persistBudgets()
	return summary, nil
}

func (c *Coordinator) lookupTask(id string) (*Task, bool) {
	if id == "" {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	return t, ok
}

func (c *Coordinator) persistBudgets() {
	c.mu.RLock()
	snapshot := make(map[string]budgetState, len(c.tasks))
	for id, t := range c.tasks {
		t.mu.Lock()
		snapshot[id] = t.budget
		t.mu.Unlock()
	}
	c.mu.RUnlock()
	if err := c.persist.writeBudgets(snapshot); err != nil {
		c.log.Error("failed to persist budget records", "error", err)
	}
}

// persistBudgetsLocked is persistBudgets for callers already holding c.mu.
func (c *Coordinator) persistBudgetsLocked() {
	snapshot := make(map[string]budgetState, len(c.tasks))
	for id, t := range c.tasks {
		t.mu.Lock()
		snapshot[id] = t.budget
		t.mu.Unlock()
	}
	if err := c.persist.writeBudgets(snapshot); err != nil {
		c.log.Error("failed to persist budget records", "error", err)
	}
}

func (c *Coordinator) persistGrants() {
	c.mu.RLock()
	snapshot := make(map[string]bool, len(c.grants))
	for k, v := range c.grants {
		snapshot[k] = v
	}
	c.mu.RUnlock()
	if err := c.persist.writeGrants(snapshot); err != nil {
		c.log.Error("failed to persist grants", "error", err)
	}
}

func (c *Coordinator) persistBlackboardDoc() {
	c.mu.RLock()
	ids := make([]string, 0, len(c.tasks))
	for id := range c.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		t := c.tasks[id]
		t.mu.Lock()
		for _, k := range t.bbOrder {
			fmt.Fprintf(&b, "%s: %s\n", k, t.blackboard[k])
		}
		t.mu.Unlock()
	}
	c.mu.RUnlock()

	if err := c.persist.writeBlackboardDoc(b.String()); err != nil {
		c.log.Error("failed to persist blackboard document", "error", err)
	}
}

func (c *Coordinator) incr(name string) {
	if c.recorder != nil {
		c.recorder.IncrCounter("coordinator", name)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
