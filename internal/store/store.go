package store

import (
	"context"
	"errors"

	"github.com/seantiz/hourglass/internal/model"
)

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total             int            `json:"total"`
	CountByStatus     map[string]int `json:"count_by_status"`
	CountByEvaluator  map[string]int `json:"count_by_evaluator"`
	AvgDurationMS     float64        `json:"avg_duration_ms"`
	TotalEvaluations  int            `json:"total_evaluations"`
	ExceededLimitRate float64        `json:"exceeded_limit_rate"`
}

// Store defines the persistence operations for runs and their audit trail.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertActivity(ctx context.Context, a *model.ActivityRecord) error
	ListActivities(ctx context.Context, runID string) ([]model.ActivityRecord, error)
	InsertEvaluation(ctx context.Context, e *model.Evaluation) error
	ListEvaluations(ctx context.Context, runID string) ([]model.Evaluation, error)
	InsertEvent(ctx context.Context, runID string, seq int, line string) error
	ListEvents(ctx context.Context, runID string) ([]model.Event, error)
	Ping(ctx context.Context) error
	Close() error
}
