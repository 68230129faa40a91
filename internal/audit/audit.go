// Package audit persists one record per activity execution: the run it
// belonged to, the outcome, and its detail, queryable for operational
// history. Grounded on this codebase's MetricsRepository/ActionRun model,
// carried over gorm rather than the hand-rolled pgx repository since this
// domain needs no semantic/document/graph store alongside it.
package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ActionRun is one persisted activity execution, generalized from this
// codebase's ActionRun to the publication-automation domain's
// run/article/outcome fields.
type ActionRun struct {
	ID          uint   `gorm:"primaryKey"`
	Run         string `gorm:"index"`
	ArticleID   string `gorm:"index"`
	Version     string
	ActivityID  string `gorm:"index"`
	WorkflowID  string `gorm:"index"`
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Outcome     string
	Detail      string
	Attempt     int
}

func (ActionRun) TableName() string { return "action_runs" }

// Store persists and queries ActionRuns.
type Store struct {
	db *gorm.DB
}

// Open connects to the audit database and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := db.AutoMigrate(&ActionRun{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRun inserts one completed execution record.
func (s *Store) SaveRun(ctx context.Context, run ActionRun) error {
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("audit: save run: %w", err)
	}
	return nil
}

// History returns the most recent runs for one activity, newest first.
func (s *Store) History(ctx context.Context, activityID string, limit int) ([]ActionRun, error) {
	var runs []ActionRun
	err := s.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("start_time DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("audit: history: %w", err)
	}
	return runs, nil
}

// CountByOutcome returns how many runs of activityID ended with outcome
// within [from, to).
func (s *Store) CountByOutcome(ctx context.Context, activityID, outcome string, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ActionRun{}).
		Where("activity_id = ? AND outcome = ? AND start_time >= ? AND start_time < ?", activityID, outcome, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("audit: count by outcome: %w", err)
	}
	return count, nil
}
