package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/elifesciences/pubflow/internal/cron"
	"github.com/elifesciences/pubflow/internal/decider"
	"github.com/elifesciences/pubflow/internal/queueworker"
	"github.com/elifesciences/pubflow/internal/settings"
	"github.com/elifesciences/pubflow/internal/starter"
	"github.com/elifesciences/pubflow/internal/worker"
)

var deciderCmd = &cobra.Command{
	Use:   "decider",
	Short: "long-poll the decision task list and drive workflows forward",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger("decider", st)

		workflows, err := loadWorkflowRegistry()
		if err != nil {
			return err
		}

		client := newBackendClient()
		loop := decider.NewLoop(client, workflows, st.DecisionTaskList, st.WorkerIdentity, logger)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go waitForShutdown(cancel, logger)
		loop.Run(ctx)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "long-poll the activity task list and execute activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger("worker", st)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sessions, err := newSessionStore(ctx, st)
		if err != nil {
			return err
		}
		objects, err := newObjectStore(ctx, st, logger)
		if err != nil {
			return err
		}
		sink, closeSink, err := newMonitorSink(ctx, st, logger)
		if err != nil {
			return err
		}
		defer closeSink()

		registry := newActivityRegistry(st)
		client := newBackendClient()

		loop := worker.NewLoop(client, registry, st.ActivityTaskList, st.WorkerIdentity, logger, st, sessions, objects, sink)

		go waitForShutdown(cancel, logger)
		loop.Run(ctx)
		return nil
	},
}

var queueWorkerCmd = &cobra.Command{
	Use:   "queueworker",
	Short: "long-poll S3 notifications, match routing rules, and enqueue workflow starts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger("queueworker", st)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		routes, err := loadRoutingTable()
		if err != nil {
			return err
		}

		notifications, starts, err := newQueueBackends(ctx, st)
		if err != nil {
			return err
		}

		loop := queueworker.NewLoop(notifications, starts, routes, logger)

		go waitForShutdown(cancel, logger)
		loop.Run(ctx)
		return nil
	},
}

var starterCmd = &cobra.Command{
	Use:   "starter",
	Short: "long-poll the workflow-starter queue and start workflow executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger("starter", st)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		source, err := newStartSource(ctx, st)
		if err != nil {
			return err
		}

		client := newBackendClient()
		registry := newStarterRegistry()
		loop := starter.NewLoop(source, client, registry, logger)

		go waitForShutdown(cancel, logger)
		loop.Run(ctx)
		return nil
	},
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "evaluate the conditional-start schedule table once a minute",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger("cron", st)

		entries, err := loadCronEntries()
		if err != nil {
			return err
		}

		client := newBackendClient()
		registry := newStarterRegistry()
		scheduler := cron.NewScheduler(client, registry, entries, time.Local, logger)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go waitForShutdown(cancel, logger)

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		scheduler.Tick(ctx, time.Now())
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				scheduler.Tick(ctx, now)
			}
		}
	},
}

// newQueueBackends selects the SQS or Redis notification/start queue pair
// based on the configured notification queue URL's scheme: an "https://"
// URL names an SQS queue, anything else the Redis development backend.
func newQueueBackends(ctx context.Context, st *settings.Settings) (queueworker.NotificationQueue, queueworker.StartQueue, error) {
	if isSQSQueueURL(st.NotificationQueueURL) {
		notifications, err := queueworker.NewSQSNotificationQueue(ctx, st.S3Region, st.NotificationQueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("cli: open sqs notification queue: %w", err)
		}
		starts, err := queueworker.NewSQSStartQueue(ctx, st.S3Region, st.StarterQueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("cli: open sqs start queue: %w", err)
		}
		return notifications, starts, nil
	}

	client, err := newRedisClient(st.NotificationQueueURL)
	if err != nil {
		return nil, nil, err
	}
	return queueworker.NewRedisNotificationQueue(client, "pubflow:notifications"),
		queueworker.NewRedisStartQueue(client, "pubflow:starts"), nil
}

// newStartSource selects the SQS or Redis workflow-starter queue consumer
// by the same scheme rule as newQueueBackends.
func newStartSource(ctx context.Context, st *settings.Settings) (queueworker.StartSource, error) {
	if isSQSQueueURL(st.StarterQueueURL) {
		source, err := queueworker.NewSQSStartSource(ctx, st.S3Region, st.StarterQueueURL)
		if err != nil {
			return nil, fmt.Errorf("cli: open sqs start source: %w", err)
		}
		return source, nil
	}

	client, err := newRedisClient(st.StarterQueueURL)
	if err != nil {
		return nil, err
	}
	return queueworker.NewRedisStartSource(client, "pubflow:starts"), nil
}
