package swfclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_StartWorkflowExecution_Duplicate(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, client.StartWorkflowExecution(ctx, "wf1", "DepositCrossref", "1", nil))
	err := client.StartWorkflowExecution(ctx, "wf1", "DepositCrossref", "1", nil)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestMemoryClient_StartEnqueuesDecisionTask(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, client.StartWorkflowExecution(ctx, "wf1", "DepositCrossref", "1", map[string]any{"run": "r1"}))

	task, err := client.PollForDecisionTask(ctx, "default", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "wf1", task.WorkflowID)
	assert.Equal(t, "r1", task.Input["run"])
}

func TestMemoryClient_PollForDecisionTask_Empty(t *testing.T) {
	client := NewMemoryClient()
	task, err := client.PollForDecisionTask(context.Background(), "default", "worker-1")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemoryClient_ScheduleAndPollActivityTask(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()
	require.NoError(t, client.StartWorkflowExecution(ctx, "wf1", "DepositCrossref", "1", nil))

	require.NoError(t, client.ScheduleActivityTask(ctx, "decision:wf1", ScheduleActivityTaskInput{
		WorkflowID:   "wf1",
		ActivityType: "DepositCrossref",
		ActivityID:   "deposit-crossref",
		Input:        map[string]any{"run": "r1"},
	}))

	task, err := client.PollForActivityTask(ctx, "default", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "DepositCrossref", task.ActivityType)
}

func TestMemoryClient_CompleteWorkflowExecution(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()
	require.NoError(t, client.StartWorkflowExecution(ctx, "wf1", "DepositCrossref", "1", nil))

	require.NoError(t, client.CompleteWorkflowExecution(ctx, "decision:wf1", nil))

	_, known, err := client.LastCompletedAt(ctx, "wf1")
	require.NoError(t, err)
	assert.True(t, known)

	// The execution is no longer running, so a fresh start is accepted.
	assert.NoError(t, client.StartWorkflowExecution(ctx, "wf1", "DepositCrossref", "1", nil))
}

func TestMemoryClient_LastCompletedAt_Unknown(t *testing.T) {
	client := NewMemoryClient()
	_, known, err := client.LastCompletedAt(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestMemoryClient_GetWorkflowExecutionHistoryPage_UnknownWorkflow(t *testing.T) {
	client := NewMemoryClient()
	_, _, err := client.GetWorkflowExecutionHistoryPage(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}
