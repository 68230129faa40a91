package swfclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// execution tracks one workflow execution's in-memory state for MemoryClient.
type execution struct {
	workflowID   string
	workflowName string
	running      bool
	completedAt  time.Time
	hasCompleted bool
	events       []HistoryEvent
}

// MemoryClient is an in-process fake of Client for unit tests, grounded on
// the same "define a thin interface, fake it entirely in-package for
// tests" idiom used by this module's object store facade.
type MemoryClient struct {
	mu         sync.Mutex
	executions map[string]*execution

	decisionTasks chan *DecisionTask
	activityTasks chan *ActivityTask
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		executions:    make(map[string]*execution),
		decisionTasks: make(chan *DecisionTask, 64),
		activityTasks: make(chan *ActivityTask, 64),
	}
}

func (m *MemoryClient) StartWorkflowExecution(ctx context.Context, workflowID, workflowName, workflowVersion string, input map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex, ok := m.executions[workflowID]; ok && ex.running {
		return ErrAlreadyStarted
	}

	m.executions[workflowID] = &execution{
		workflowID:   workflowID,
		workflowName: workflowName,
		running:      true,
		events:       []HistoryEvent{{Kind: "WorkflowExecutionStarted", OccurredAt: time.Now()}},
	}

	m.decisionTasks <- &DecisionTask{
		TaskToken:    "decision:" + workflowID,
		WorkflowType: workflowName,
		WorkflowID:   workflowID,
		Input:        input,
		Events:       m.executions[workflowID].events,
	}
	return nil
}

func (m *MemoryClient) PollForDecisionTask(ctx context.Context, taskList, identity string) (*DecisionTask, error) {
	select {
	case t := <-m.decisionTasks:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

func (m *MemoryClient) GetWorkflowExecutionHistoryPage(ctx context.Context, workflowID, nextPageToken string) ([]HistoryEvent, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.executions[workflowID]
	if !ok {
		return nil, "", ErrUnknownWorkflow
	}
	return ex.events, "", nil
}

func (m *MemoryClient) ScheduleActivityTask(ctx context.Context, taskToken string, in ScheduleActivityTaskInput) error {
	m.mu.Lock()
	ex, ok := m.executions[in.WorkflowID]
	if ok {
		ex.events = append(ex.events, HistoryEvent{Kind: "ActivityTaskScheduled", ActivityID: in.ActivityID, OccurredAt: time.Now()})
	}
	m.mu.Unlock()

	m.activityTasks <- &ActivityTask{
		TaskToken:    "activity:" + in.WorkflowID + ":" + in.ActivityID,
		ActivityType: in.ActivityType,
		ActivityID:   in.ActivityID,
		Input:        in.Input,
	}
	return nil
}

func (m *MemoryClient) CompleteWorkflowExecution(ctx context.Context, taskToken string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.executions {
		if "decision:"+ex.workflowID == taskToken {
			ex.running = false
			ex.hasCompleted = true
			ex.completedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("swfclient: unknown task token %s", taskToken)
}

func (m *MemoryClient) FailWorkflowExecution(ctx context.Context, taskToken, reason, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.executions {
		if "decision:"+ex.workflowID == taskToken {
			ex.running = false
			return nil
		}
	}
	return fmt.Errorf("swfclient: unknown task token %s", taskToken)
}

func (m *MemoryClient) PollForActivityTask(ctx context.Context, taskList, identity string) (*ActivityTask, error) {
	select {
	case t := <-m.activityTasks:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

func (m *MemoryClient) RespondActivityTaskCompleted(ctx context.Context, taskToken string, result map[string]any) error {
	return nil
}

func (m *MemoryClient) RespondActivityTaskFailed(ctx context.Context, taskToken, reason, details string) error {
	return nil
}

func (m *MemoryClient) RecordActivityTaskHeartbeat(ctx context.Context, taskToken string) error {
	return nil
}

func (m *MemoryClient) LastCompletedAt(ctx context.Context, workflowID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.executions[workflowID]
	if !ok || !ex.hasCompleted {
		return time.Time{}, false, nil
	}
	return ex.completedAt, true, nil
}

var _ Client = (*MemoryClient)(nil)
