package store

import (
	"context"
	"errors"

	"agentcore/internal/model"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate execution statistics.
type RunStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByWorkflow map[string]int `json:"count_by_workflow"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs and their step results.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, r *model.Run) error
	UpdateRunStatus(ctx context.Context, id, status string) error
	InsertStepResult(ctx context.Context, res *model.StepResult) error
	GetStepResults(ctx context.Context, runID string) ([]model.StepResult, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
