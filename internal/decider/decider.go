// Package decider implements the long-poll decider loop that drives a
// workflow's step graph forward by folding its event history.
package decider

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/swfclient"
	"github.com/elifesciences/pubflow/internal/workflow"
)

// Loop long-polls the decision task list, folds each task's history, and
// schedules the next step or completes the workflow. Grounded on this
// codebase's worker-pool poll/dispatch/report shape, generalized from a
// generic job queue to the backend's decision-task/schedule-activity/
// complete-workflow calls.
type Loop struct {
	client     swfclient.Client
	workflows  *workflow.Registry
	taskList   string
	identity   string
	logger     *logging.ContextLogger
	pollPeriod time.Duration

	running atomic.Bool
}

func NewLoop(client swfclient.Client, workflows *workflow.Registry, taskList, identity string, logger *logging.ContextLogger) *Loop {
	l := &Loop{
		client:     client,
		workflows:  workflows,
		taskList:   taskList,
		identity:   identity,
		logger:     logger,
		pollPeriod: 500 * time.Millisecond,
	}
	l.running.Store(true)
	return l
}

// Stop clears the run flag; the loop exits cleanly after finishing any
// in-flight decision.
func (l *Loop) Stop() { l.running.Store(false) }

// Run blocks polling until Stop is called or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for l.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := l.client.PollForDecisionTask(ctx, l.taskList, l.identity)
		if err != nil {
			l.logger.WithError(err).Warn("decider: poll failed")
			time.Sleep(l.pollPeriod)
			continue
		}
		if task == nil {
			time.Sleep(l.pollPeriod)
			continue
		}

		l.decide(ctx, task)
	}
}

func (l *Loop) decide(ctx context.Context, task *swfclient.DecisionTask) {
	logger := l.logger.WithFields(map[string]interface{}{
		"workflow_id":   task.WorkflowID,
		"workflow_type": task.WorkflowType,
	})

	events, err := l.pageHistory(ctx, task)
	if err != nil {
		logger.WithError(err).Error("decider: failed to page history, failing workflow")
		if ferr := l.client.FailWorkflowExecution(ctx, task.TaskToken, "PermanentRemote", err.Error()); ferr != nil {
			logger.WithError(ferr).Error("decider: fail_workflow_execution also failed")
		}
		return
	}

	def, ok := l.workflows.Lookup(task.WorkflowType)
	if !ok {
		logger.Warn("decider: unknown workflow type, failing this execution only")
		if err := l.client.FailWorkflowExecution(ctx, task.TaskToken, "UnknownWorkflowType", task.WorkflowType); err != nil {
			logger.WithError(err).Error("decider: fail_workflow_execution failed")
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("decider: recovered panic deciding workflow: %v", r)
		}
	}()

	decision := fold(events, def)

	switch decision.action {
	case actionScheduleStep:
		step := decision.step
		err := l.client.ScheduleActivityTask(ctx, task.TaskToken, swfclient.ScheduleActivityTaskInput{
			WorkflowID:   task.WorkflowID,
			ActivityType: step.ActivityType,
			ActivityID:   step.ActivityID,
			Input:        mergeInput(task.Input, step.Input),
			Timeouts: swfclient.TimeoutPolicy{
				HeartbeatTimeout: step.HeartbeatTimeout,
				ScheduleToStart:  step.ScheduleToStart,
				ScheduleToClose:  step.ScheduleToClose,
				StartToClose:     step.StartToClose,
			},
		})
		if err != nil {
			logger.WithError(err).Error("decider: schedule_activity_task failed")
		}
	case actionComplete:
		if err := l.client.CompleteWorkflowExecution(ctx, task.TaskToken, nil); err != nil {
			logger.WithError(err).Error("decider: complete_workflow_execution failed")
		}
	case actionFail:
		if err := l.client.FailWorkflowExecution(ctx, task.TaskToken, decision.failReason, decision.failDetail); err != nil {
			logger.WithError(err).Error("decider: fail_workflow_execution failed")
		}
	case actionNone:
		// Temporary failure awaiting the backend's own retry; nothing to
		// schedule until either a retry completes or the backend reports
		// retries exhausted on a later decision task.
	}
}

func (l *Loop) pageHistory(ctx context.Context, task *swfclient.DecisionTask) ([]swfclient.HistoryEvent, error) {
	events := append([]swfclient.HistoryEvent{}, task.Events...)
	token := task.NextPageToken
	for token != "" {
		page, next, err := l.client.GetWorkflowExecutionHistoryPage(ctx, task.WorkflowID, token)
		if err != nil {
			return nil, fmt.Errorf("decider: fetch history page: %w", err)
		}
		events = append(events, page...)
		token = next
	}
	return events, nil
}

func mergeInput(workflowInput map[string]any, stepInput map[string]any) map[string]any {
	out := make(map[string]any, len(workflowInput)+len(stepInput))
	for k, v := range workflowInput {
		out[k] = v
	}
	for k, v := range stepInput {
		out[k] = v
	}
	return out
}
