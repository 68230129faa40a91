package starter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/queueworker"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

// Loop long-polls the workflow-starter queue and turns each start message
// into a workflow execution, the consuming counterpart of the Queue
// Worker's producing side.
type Loop struct {
	source   queueworker.StartSource
	client   swfclient.Client
	registry *Registry
	logger   *logging.ContextLogger

	pollPeriod time.Duration
	running    atomic.Bool
}

func NewLoop(source queueworker.StartSource, client swfclient.Client, registry *Registry, logger *logging.ContextLogger) *Loop {
	l := &Loop{
		source:     source,
		client:     client,
		registry:   registry,
		logger:     logger,
		pollPeriod: 2 * time.Second,
	}
	l.running.Store(true)
	return l
}

func (l *Loop) Stop() { l.running.Store(false) }

func (l *Loop) Run(ctx context.Context) {
	for l.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, handle, err := l.source.Receive(ctx)
		if err != nil {
			l.logger.WithError(err).Warn("starter: receive failed")
			time.Sleep(l.pollPeriod)
			continue
		}
		if msg == nil {
			time.Sleep(l.pollPeriod)
			continue
		}

		l.process(ctx, msg, handle)
	}
}

// process starts the requested workflow. An unknown starter name is a
// permanent, non-retryable configuration error: the message is deleted so
// it does not loop forever. A transient failure to start leaves the
// message in place for redelivery.
func (l *Loop) process(ctx context.Context, msg *queueworker.StartMessage, handle string) {
	logger := l.logger.WithField("starter", msg.Starter)

	st, ok := l.registry.Lookup(msg.Starter)
	if !ok {
		logger.Error("starter: unknown starter name, dropping message")
		if err := l.source.Delete(ctx, handle); err != nil {
			logger.WithError(err).Error("starter: delete undeliverable message failed")
		}
		return
	}

	in := Input{
		FileName: msg.Data.Key,
		Bucket:   msg.Data.Bucket,
		Run:      msg.Data.Run,
	}

	if err := Start(ctx, l.client, st, in, logger); err != nil {
		logger.WithError(err).Warn("starter: start failed, leaving message for retry")
		return
	}

	if err := l.source.Delete(ctx, handle); err != nil {
		logger.WithError(err).Error("starter: delete message failed")
	}
}
