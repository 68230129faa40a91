// Package bigquery streams monitor events into an analytics table,
// implementing monitor.Analytics. cloud.google.com/go/bigquery is the
// only BigQuery client library in the retrieval pack's manifests; no
// teacher file has an analytics sink, so the insert shape follows the
// library's own documented Inserter pattern.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/elifesciences/pubflow/internal/monitor"
)

// EventRow is one row streamed into the monitor-events analytics table.
type EventRow struct {
	ArticleID  string
	Version    string
	Run        string
	Component  string
	Phase      string
	Message    string
	OccurredAt time.Time
}

// Save implements bigquery.ValueSaver.
func (r EventRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"article_id":  r.ArticleID,
		"version":     r.Version,
		"run":         r.Run,
		"component":   r.Component,
		"phase":       r.Phase,
		"message":     r.Message,
		"occurred_at": r.OccurredAt,
	}, "", nil
}

type Sink struct {
	client    *bigquery.Client
	datasetID string
	tableID   string
}

func NewSink(ctx context.Context, projectID, datasetID, tableID string) (*Sink, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery: new client: %w", err)
	}
	return &Sink{client: client, datasetID: datasetID, tableID: tableID}, nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}

// InsertEvent implements monitor.Analytics. Errors are returned to the
// caller, who treats BigQuery mirroring as best-effort and swallows them.
func (s *Sink) InsertEvent(ctx context.Context, ev monitor.Event) error {
	row := EventRow{
		ArticleID:  ev.ArticleID,
		Version:    ev.Version,
		Run:        ev.Run,
		Component:  ev.Component,
		Phase:      string(ev.Phase),
		Message:    ev.Message,
		OccurredAt: ev.OccurredAt,
	}

	inserter := s.client.Dataset(s.datasetID).Table(s.tableID).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("bigquery: insert event: %w", err)
	}
	return nil
}

var _ monitor.Analytics = (*Sink)(nil)
