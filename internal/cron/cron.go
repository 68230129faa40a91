// Package cron implements the schedule table driving the conditional
// starts, run once per minute by an external trigger (a process-level
// ticker or an outside scheduler invoking Tick).
package cron

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/starter"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

// Entry is one schedule-table row: the conditions under which a starter
// should be considered, and the minimum interval enforced between starts
// of the same workflow id.
type Entry struct {
	Name            string        `yaml:"name"`
	StarterName     string        `yaml:"starter_name"`
	WorkflowID      string        `yaml:"workflow_id"`
	MinuteFrom      int           `yaml:"minute_from"`
	MinuteTo        int           `yaml:"minute_to"`
	Hour            *int          `yaml:"hour,omitempty"`
	UseLocalHour    bool          `yaml:"use_local_hour"`
	MinimumInterval time.Duration `yaml:"minimum_interval"`
}

type file struct {
	Schedule []Entry `yaml:"schedule"`
}

// matches reports whether e applies at the given local/UTC instant.
func (e Entry) matches(local, utc time.Time) bool {
	minute := utc.Minute()
	if e.MinuteFrom != 0 || e.MinuteTo != 0 {
		if minute < e.MinuteFrom || minute > e.MinuteTo {
			return false
		}
	}
	if e.Hour != nil {
		hour := utc.Hour()
		if e.UseLocalHour {
			hour = local.Hour()
		}
		if hour != *e.Hour {
			return false
		}
	}
	return true
}

// Scheduler holds the compiled schedule table and the backend/starter
// registry it drives.
type Scheduler struct {
	client   swfclient.Client
	starters *starter.Registry
	entries  []Entry
	logger   *logging.ContextLogger
	location *time.Location
}

func NewScheduler(client swfclient.Client, starters *starter.Registry, entries []Entry, location *time.Location, logger *logging.ContextLogger) *Scheduler {
	if location == nil {
		location = time.Local
	}
	return &Scheduler{client: client, starters: starters, entries: entries, logger: logger, location: location}
}

func LoadEntries(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cron: parse schedule: %w", err)
	}
	return f.Schedule, nil
}

// Tick evaluates every schedule-table entry against now and starts each
// whose conditions match and whose minimum interval has elapsed since the
// workflow id's last completed execution.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	utc := now.UTC()
	local := now.In(s.location)

	for _, e := range s.entries {
		if !e.matches(local, utc) {
			continue
		}

		logger := s.logger.WithFields(map[string]interface{}{
			"schedule_entry": e.Name,
			"workflow_id":    e.WorkflowID,
		})

		lastCompleted, known, err := s.client.LastCompletedAt(ctx, e.WorkflowID)
		if err != nil {
			logger.WithError(err).Warn("cron: failed to query last completed execution, skipping")
			continue
		}
		if known && now.Sub(lastCompleted) < e.MinimumInterval {
			logger.Debug("cron: minimum interval not yet elapsed, skipping")
			continue
		}

		st, ok := s.starters.Lookup(e.StarterName)
		if !ok {
			logger.Error("cron: unknown starter name in schedule entry")
			continue
		}

		if err := starter.Start(ctx, s.client, st, starter.Input{}, logger); err != nil {
			logger.WithError(err).Error("cron: starter failed")
		}
	}
}
