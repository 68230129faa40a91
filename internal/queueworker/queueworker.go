// Package queueworker implements the S3-notification router: it long-polls
// a notification queue, matches each notification against a routing table,
// and forwards a workflow-start message to the starter queue.
package queueworker

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/elifesciences/pubflow/internal/logging"
)

// Notification is the parsed shape of one S3 event, independent of the
// transport (SQS in production, Redis in development) it arrived on.
type Notification struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	EventTime time.Time `json:"event_time"`
	EventName string    `json:"event_name"`
}

// Message is the inbound envelope the notification queue delivers: a
// notification of unspecified kind plus an opaque handle used to delete it
// after successful routing.
type Message struct {
	Kind         string
	Notification Notification
	Handle       string
}

// StartMessage is the outbound envelope pushed to the workflow-starter
// queue once a routing rule matches.
type StartMessage struct {
	Starter string       `json:"starter"`
	Data    StartPayload `json:"data"`
}

type StartPayload struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	EventTime time.Time `json:"event_time"`
	Run       string    `json:"run"`
}

// NotificationQueue is the inbound long-poll source.
type NotificationQueue interface {
	Receive(ctx context.Context) (*Message, error)
	Delete(ctx context.Context, handle string) error
}

// StartQueue is the outbound sink of workflow-start messages.
type StartQueue interface {
	Enqueue(ctx context.Context, msg StartMessage) error
}

// StartSource is the inbound long-poll side of the workflow-starter queue,
// consumed by the Starter process.
type StartSource interface {
	Receive(ctx context.Context) (*StartMessage, string, error) // handle is "" if msg is nil
	Delete(ctx context.Context, handle string) error
}

// Rule is one routing-table entry: the first rule whose bucket and key
// patterns both match a notification names the starter to invoke.
type Rule struct {
	Name              string `yaml:"name"`
	BucketNamePattern string `yaml:"bucket_name_pattern"`
	FileNamePattern   string `yaml:"file_name_pattern"`
	StarterName       string `yaml:"starter_name"`

	bucketRe *regexp.Regexp
	keyRe    *regexp.Regexp
}

// RoutingTable is an ordered list of compiled Rules.
type RoutingTable struct {
	rules []Rule
}

// CompileRules compiles raw rule patterns, preserving order. First-match-
// wins is the caller's contract when evaluating the compiled table.
func CompileRules(raw []Rule) (*RoutingTable, error) {
	compiled := make([]Rule, 0, len(raw))
	for _, r := range raw {
		bre, err := regexp.Compile(r.BucketNamePattern)
		if err != nil {
			return nil, fmt.Errorf("queueworker: compile bucket pattern for rule %q: %w", r.Name, err)
		}
		kre, err := regexp.Compile(r.FileNamePattern)
		if err != nil {
			return nil, fmt.Errorf("queueworker: compile key pattern for rule %q: %w", r.Name, err)
		}
		r.bucketRe = bre
		r.keyRe = kre
		compiled = append(compiled, r)
	}
	return &RoutingTable{rules: compiled}, nil
}

// Match returns the starter name for the first rule whose bucket and key
// patterns both match, or ok=false if no rule matches.
func (t *RoutingTable) Match(n Notification) (string, bool) {
	for _, r := range t.rules {
		if r.bucketRe.MatchString(n.Bucket) && r.keyRe.MatchString(n.Key) {
			return r.StarterName, true
		}
	}
	return "", false
}

// Loop long-polls the notification queue, routes each notification, and
// forwards a start message. Grounded on original_source/queue_worker.py's
// read/route/write/delete/sleep cycle, generalized away from its early
// return on an unmatched rule (which would silently stop routing for every
// later message) to a log-and-continue decision, and from boto.sqs polling
// to the NotificationQueue/StartQueue interfaces so the same loop serves
// both the SQS production backend and the Redis development backend.
type Loop struct {
	notifications NotificationQueue
	starts        StartQueue
	routes        *RoutingTable
	logger        *logging.ContextLogger
	pollPeriod    time.Duration

	running atomic.Bool
}

func NewLoop(notifications NotificationQueue, starts StartQueue, routes *RoutingTable, logger *logging.ContextLogger) *Loop {
	l := &Loop{
		notifications: notifications,
		starts:        starts,
		routes:        routes,
		logger:        logger,
		pollPeriod:    10 * time.Second,
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

		msg, err := l.notifications.Receive(ctx)
		if err != nil {
			l.logger.WithError(err).Warn("queueworker: receive failed")
			time.Sleep(l.pollPeriod)
			continue
		}
		if msg == nil {
			l.logger.Debug("queueworker: no messages available")
			time.Sleep(l.pollPeriod)
			continue
		}

		l.route(ctx, msg)
	}
}

func (l *Loop) route(ctx context.Context, msg *Message) {
	if msg.Kind != "S3Event" {
		l.logger.WithField("kind", msg.Kind).Info("queueworker: ignoring non-S3 notification")
		l.ack(ctx, l.logger, msg.Handle)
		return
	}

	logger := l.logger.WithFields(map[string]interface{}{
		"bucket": msg.Notification.Bucket,
		"key":    msg.Notification.Key,
	})

	starter, ok := l.routes.Match(msg.Notification)
	if !ok {
		logger.Info("queueworker: no routing rule matched, skipping")
		l.ack(ctx, logger, msg.Handle)
		return
	}

	start := StartMessage{
		Starter: starter,
		Data: StartPayload{
			Bucket:    msg.Notification.Bucket,
			Key:       msg.Notification.Key,
			EventTime: msg.Notification.EventTime,
			Run:       uuid.NewString(),
		},
	}

	if err := l.starts.Enqueue(ctx, start); err != nil {
		logger.WithError(err).Error("queueworker: enqueue start message failed, leaving source message for retry")
		return
	}

	l.ack(ctx, logger, msg.Handle)
}

// ack deletes a notification so it isn't redelivered; skipped files are
// acknowledged the same as routed ones, since dead-lettering is out of
// scope and leaving them in the queue would redeliver them forever.
func (l *Loop) ack(ctx context.Context, logger *logging.ContextLogger, handle string) {
	if err := l.notifications.Delete(ctx, handle); err != nil {
		logger.WithError(err).Error("queueworker: delete source message failed")
	}
}
