// Package monitor emits structured lifecycle events and property updates.
// Ordering is best-effort; a failure to emit never fails the calling
// activity.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/elifesciences/pubflow/internal/logging"
)

// Phase is the lifecycle phase of a monitor event.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
	PhaseError Phase = "error"
)

// Event is one emitted lifecycle event, keyed by (article_id, version, run).
type Event struct {
	ArticleID string    `json:"article_id"`
	Version   string    `json:"version,omitempty"`
	Run       string    `json:"run"`
	Component string    `json:"component"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PropertyUpdate names a property value attached to an article.
type PropertyUpdate struct {
	ArticleID string  `json:"article_id"`
	Key       string  `json:"key"`
	Value     any     `json:"value"`
	Type      string  `json:"type"`
	Version   *string `json:"version,omitempty"`
}

// Sink is the interface every activity emits through.
type Sink interface {
	Emit(ctx context.Context, articleID, version, run, component string, phase Phase, message string)
	SetProperty(ctx context.Context, articleID, key string, value any, typ string, version *string)
}

// Fanout is the production Sink: it logs every event, best-effort
// broadcasts over an optional websocket connection to a monitoring
// dashboard, and best-effort mirrors into a BigQuery sink. All three
// sub-sinks are fire-and-forget — a failure on any path is logged and
// swallowed, never propagated to the caller, per this component's
// EmitFailure error-handling policy.
type Fanout struct {
	logger    *logging.ContextLogger
	broadcast Broadcaster // may be nil
	analytics Analytics   // may be nil
}

// Broadcaster is the live-dashboard fan-out side-channel (websocket).
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Analytics is the data-warehouse mirroring side-channel (BigQuery).
type Analytics interface {
	InsertEvent(ctx context.Context, ev Event) error
}

func NewFanout(logger *logging.ContextLogger, broadcast Broadcaster, analytics Analytics) *Fanout {
	return &Fanout{logger: logger, broadcast: broadcast, analytics: analytics}
}

func (f *Fanout) Emit(ctx context.Context, articleID, version, run, component string, phase Phase, message string) {
	ev := Event{
		ArticleID:  articleID,
		Version:    version,
		Run:        run,
		Component:  component,
		Phase:      phase,
		Message:    message,
		OccurredAt: time.Now(),
	}

	f.logger.WithFields(map[string]interface{}{
		"article_id": articleID,
		"version":    version,
		"run":        run,
		"component":  component,
		"phase":      string(phase),
	}).Info(message)

	if f.broadcast != nil {
		if data, err := json.Marshal(ev); err == nil {
			f.broadcast.Broadcast(data)
		}
	}

	if f.analytics != nil {
		if err := f.analytics.InsertEvent(ctx, ev); err != nil {
			f.logger.WithError(err).Warn("monitor: analytics mirror failed, dropping event")
		}
	}
}

func (f *Fanout) SetProperty(ctx context.Context, articleID, key string, value any, typ string, version *string) {
	f.logger.WithFields(map[string]interface{}{
		"article_id": articleID,
		"key":        key,
		"value":      value,
		"type":       typ,
	}).Info("property set")

	if f.broadcast != nil {
		upd := PropertyUpdate{ArticleID: articleID, Key: key, Value: value, Type: typ, Version: version}
		if data, err := json.Marshal(upd); err == nil {
			f.broadcast.Broadcast(data)
		}
	}
}

var _ Sink = (*Fanout)(nil)
