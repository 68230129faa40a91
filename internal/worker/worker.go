// Package worker implements the long-poll worker loop that dispatches
// activity tasks by type and reports their outcome.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/elifesciences/pubflow/internal/activity"
	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/monitor"
	"github.com/elifesciences/pubflow/internal/objectstore"
	"github.com/elifesciences/pubflow/internal/session"
	"github.com/elifesciences/pubflow/internal/settings"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

// Loop polls the activity task list, looks up the activity by type in the
// Activity Registry, and reports success/failure. Directly grounded on
// this codebase's worker-pool poll/dispatch/report shape
// (Dequeue/MarkProcessing/CompleteJob/FailJob generalized to the
// backend's task-token/respond-call surface).
type Loop struct {
	client    swfclient.Client
	registry  *activity.Registry
	taskList  string
	identity  string
	logger    *logging.ContextLogger
	settings  *settings.Settings
	sessions  session.Store
	objects   objectstore.Store
	sink      monitor.Sink

	pollPeriod time.Duration
	running    atomic.Bool
}

func NewLoop(
	client swfclient.Client,
	registry *activity.Registry,
	taskList, identity string,
	logger *logging.ContextLogger,
	st *settings.Settings,
	sessions session.Store,
	objects objectstore.Store,
	sink monitor.Sink,
) *Loop {
	l := &Loop{
		client:     client,
		registry:   registry,
		taskList:   taskList,
		identity:   identity,
		logger:     logger,
		settings:   st,
		sessions:   sessions,
		objects:    objects,
		sink:       sink,
		pollPeriod: 500 * time.Millisecond,
	}
	l.running.Store(true)
	return l
}

// Stop clears the run flag; the loop exits cleanly when cleared between
// polls.
func (l *Loop) Stop() { l.running.Store(false) }

func (l *Loop) Run(ctx context.Context) {
	for l.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := l.client.PollForActivityTask(ctx, l.taskList, l.identity)
		if err != nil {
			l.logger.WithError(err).Warn("worker: poll failed")
			time.Sleep(l.pollPeriod)
			continue
		}
		if task == nil {
			time.Sleep(l.pollPeriod)
			continue
		}

		l.process(ctx, task)
	}
}

func (l *Loop) process(ctx context.Context, task *swfclient.ActivityTask) {
	logger := l.logger.WithFields(map[string]interface{}{
		"activity_type": task.ActivityType,
		"activity_id":   task.ActivityID,
	})

	result := func() (res activity.Result) {
		defer func() {
			if r := recover(); r != nil {
				res = activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: "dispatch panic"}
			}
		}()

		a, ok := l.registry.Lookup(task.ActivityType)
		if !ok {
			return activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: "unknown activity type: " + task.ActivityType}
		}

		run, _ := task.Input["run"].(string)
		articleID, _ := task.Input["article_id"].(string)
		version, _ := task.Input["version"].(string)

		rt, err := activity.NewRuntime(l.settings, logger, l.sessions, l.objects, l.sink, run, task.ActivityID)
		if err != nil {
			return activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: err.Error()}
		}
		defer rt.Close()
		rt.ArticleID = articleID
		rt.Version = version

		defaults := a.Defaults()
		actCtx, cancel := context.WithTimeout(ctx, defaults.StartToClose)
		defer cancel()

		return activity.RunWithMonitorEvents(actCtx, a, rt, task.Input)
	}()

	switch result.Outcome {
	case activity.SUCCESS:
		if err := l.client.RespondActivityTaskCompleted(ctx, task.TaskToken, result.Output); err != nil {
			logger.WithError(err).Error("worker: respond_activity_task_completed failed")
		}
	case activity.TEMPORARY_FAILURE:
		if err := l.client.RespondActivityTaskFailed(ctx, task.TaskToken, "temporary", result.Detail); err != nil {
			logger.WithError(err).Error("worker: respond_activity_task_failed failed")
		}
	case activity.PERMANENT_FAILURE:
		if err := l.client.RespondActivityTaskFailed(ctx, task.TaskToken, "permanent", result.Detail); err != nil {
			logger.WithError(err).Error("worker: respond_activity_task_failed failed")
		}
	case activity.DEFERRED:
		// The activity owns heartbeats and will report its own outcome
		// later; no response here.
	}
}
