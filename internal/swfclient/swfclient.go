// Package swfclient defines the Go interface this module programs against
// for the managed workflow backend. No concrete SDK for this kind of
// backend is wired here: the managed workflow backend is an out-of-scope
// external collaborator, named only by the interfaces the core consumes.
package swfclient

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyStarted is returned by StartWorkflowExecution when a workflow
// execution with the requested id is already running. Starters must
// swallow this specific error and log, per the starter family's
// duplicate-start policy.
var ErrAlreadyStarted = errors.New("swfclient: workflow execution already started")

// ErrUnknownWorkflow is returned by GetWorkflowExecutionHistoryPage when no
// execution with the given id has ever run.
var ErrUnknownWorkflow = errors.New("swfclient: unknown workflow execution")

// HistoryEvent is one entry in a workflow execution's event history.
type HistoryEvent struct {
	ID          int64
	Kind        string // e.g. "ActivityTaskCompleted", "ActivityTaskFailed", "WorkflowExecutionStarted"
	ActivityID  string
	Result      map[string]any
	FailReason  string
	FailDetails string
	OccurredAt  time.Time
}

// DecisionTask is the backend-delivered record the decider folds.
type DecisionTask struct {
	TaskToken     string
	WorkflowType  string
	WorkflowID    string
	Input         map[string]any
	Events        []HistoryEvent
	NextPageToken string // non-empty if more history pages remain
}

// ActivityTask is the backend-delivered record the worker dispatches.
type ActivityTask struct {
	TaskToken    string
	ActivityType string
	ActivityID   string
	Input        map[string]any
}

// TimeoutPolicy names the four timeout kinds every step declares.
type TimeoutPolicy struct {
	HeartbeatTimeout time.Duration
	ScheduleToStart  time.Duration
	ScheduleToClose  time.Duration
	StartToClose     time.Duration
}

// ScheduleActivityTaskInput schedules the next activity in a workflow run.
type ScheduleActivityTaskInput struct {
	WorkflowID   string
	ActivityType string
	ActivityID   string
	Input        map[string]any
	Timeouts     TimeoutPolicy
}

// Client is the full backend surface this module consumes.
type Client interface {
	// Decider-side
	PollForDecisionTask(ctx context.Context, taskList, identity string) (*DecisionTask, error)
	GetWorkflowExecutionHistoryPage(ctx context.Context, workflowID, nextPageToken string) ([]HistoryEvent, string, error)
	ScheduleActivityTask(ctx context.Context, taskToken string, in ScheduleActivityTaskInput) error
	CompleteWorkflowExecution(ctx context.Context, taskToken string, result map[string]any) error
	FailWorkflowExecution(ctx context.Context, taskToken, reason, details string) error

	// Worker-side
	PollForActivityTask(ctx context.Context, taskList, identity string) (*ActivityTask, error)
	RespondActivityTaskCompleted(ctx context.Context, taskToken string, result map[string]any) error
	RespondActivityTaskFailed(ctx context.Context, taskToken, reason, details string) error
	RecordActivityTaskHeartbeat(ctx context.Context, taskToken string) error

	// Starter-side
	StartWorkflowExecution(ctx context.Context, workflowID, workflowName, workflowVersion string, input map[string]any) error

	// Cron-side
	LastCompletedAt(ctx context.Context, workflowID string) (time.Time, bool, error)
}
