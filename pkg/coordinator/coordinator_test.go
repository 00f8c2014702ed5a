package coordinator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return New(WithPersistenceDir(filepath.Join(t.TempDir(), "coordinator")))
}

// Scenario D — Budget exhaustion.
func TestScenarioDBudgetExhaustion(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.OpenTask("T1", 100, nil)
	require.NoError(t, err)

	status, err := c.Spend(task, 60, "first call")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	status, err = c.Spend(task, 40, "second call")
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, status)

	_, err = c.Spend(task, 1, "extra")
	assert.ErrorIs(t, err, pantheonerr.ErrBudgetExhausted)

	summary, err := c.CloseTask(task)
	require.NoError(t, err)
	assert.Equal(t, 100, summary.TokensUsed)
	assert.Equal(t, StatusExhausted, summary.Status)
}

// Scenario E — Permission deny.
func TestScenarioEPermissionDeny(t *testing.T) {
	c := newTestCoordinator(t)
	c.SetRisk("PAYMENTS", 0.9)

	grant, score, _, auditID := c.Evaluate("", "actor", "PAYMENTS", "do it", "")
	assert.False(t, grant)
	assert.InDelta(t, 0.308, score, 0.02)
	assert.NotEmpty(t, auditID)
}

func TestPermissionScoreExactlyHalfGrants(t *testing.T) {
	c := newTestCoordinator(t)
	// trust=0.75, risk=0.0, quality=0 (empty justification) →
	// 0.4*0.75 + 0.4*0 + 0.2*(1-0) = 0.3 + 0 + 0.2 = 0.5 exactly.
	c.SetTrust("agentY", 0.75)
	c.SetRisk("LOW_RISK", 0.0)
	grant, score, _, _ := c.Evaluate("", "agentY", "LOW_RISK", "", "")
	assert.Equal(t, 0.5, score)
	assert.True(t, grant)
}

func TestBudgetStatusThresholds(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.OpenTask("thresholds", 100, nil)
	require.NoError(t, err)

	status, err := c.Spend(task, 79, "below warning")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	status, err = c.Spend(task, 1, "enter warning")
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, status)

	status, err = c.Spend(task, 10, "enter critical")
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, status)
}

func TestBlackboardForbiddenKeyPrefix(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.OpenTask("bb1", 100, nil)
	require.NoError(t, err)

	err = c.BBWrite(task, "task:bb1:result", "done")
	require.NoError(t, err)

	err = c.BBWrite(task, "agent:scout:result", "found it")
	require.NoError(t, err)

	err = c.BBWrite(task, "not-allowed:key", "value")
	assert.ErrorIs(t, err, pantheonerr.ErrForbiddenKey)

	v, ok := c.BBRead(task, "task:bb1:result")
	assert.True(t, ok)
	assert.Equal(t, "done", v)

	_, ok = c.BBRead(task, "task:bb1:missing")
	assert.False(t, ok)
}

func TestBlackboardWriteRejectsOtherTasksKeyspace(t *testing.T) {
	c := newTestCoordinator(t)
	taskA, err := c.OpenTask("taskA", 100, nil)
	require.NoError(t, err)

	err = c.BBWrite(taskA, "task:taskB:result", "sneaky")
	assert.ErrorIs(t, err, pantheonerr.ErrForbiddenKey)
}

func TestCloseTaskSummaryCountsPermissionsAndKeys(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.OpenTask("perm-summary", 100, nil)
	require.NoError(t, err)

	c.SetTrust("agentA", 1.0)
	c.SetRisk("SAFE", 0.0)
	grant, _, _, _ := c.Evaluate(task.ID, "agentA", "SAFE", "because it is required for the handoff", "")
	require.True(t, grant)

	// A default-trust (0.5) agent: 0.4*0.5 + 0.4*0.22 + 0.2*0.1 = 0.308 → deny.
	c.SetRisk("PAYMENTS", 0.9)
	grant, _, _, _ = c.Evaluate(task.ID, "actor", "PAYMENTS", "do it", "")
	require.False(t, grant)

	require.NoError(t, c.BBWrite(task, "task:perm-summary:x", "1"))
	require.NoError(t, c.BBWrite(task, "task:perm-summary:y", "2"))

	summary, err := c.CloseTask(task)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PermissionsGranted)
	assert.Equal(t, 1, summary.PermissionsDenied)
	assert.Equal(t, 2, summary.BlackboardKeyCount)
}

func TestFatalRequiredPermissionDenialClosesTask(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.OpenTask("fatal", 100, []string{"PAYMENTS"})
	require.NoError(t, err)

	c.SetRisk("PAYMENTS", 0.9)
	grant, _, _, _ := c.Evaluate(task.ID, "actor", "PAYMENTS", "do it", "")
	require.False(t, grant)

	_, err = c.Spend(task, 1, "after fatal denial")
	assert.ErrorIs(t, err, pantheonerr.ErrTaskClosed)
}

func TestReopeningClosedTaskResetsState(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.OpenTask("reuse", 50, nil)
	require.NoError(t, err)
	_, err = c.Spend(task, 50, "spend it all")
	require.NoError(t, err)
	_, err = c.CloseTask(task)
	require.NoError(t, err)

	task2, err := c.OpenTask("reuse", 200, nil)
	require.NoError(t, err)
	status, err := c.Spend(task2, 10, "fresh budget")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestReopeningStillOpenTaskFails(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.OpenTask("busy", 50, nil)
	require.NoError(t, err)

	_, err = c.OpenTask("busy", 50, nil)
	assert.Error(t, err)
}
