package store

import (
	"context"
	"errors"
	"time"

	"github.com/autolyrix/aligntrack/internal/model"
)

// ErrInvalidTransition is returned when a job state transition is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByState  map[string]int `json:"count_by_state"`
	CountByFormat map[string]int `json:"count_by_format"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for jobs and their artifacts.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobState(ctx context.Context, id, state string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	UpdateJobRun(ctx context.Context, id string, runID int64, runURL string, correlatedAt time.Time) error
	UpdateJob(ctx context.Context, j *model.Job) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertArtifact(ctx context.Context, a *model.Artifact) error
	GetArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error)
	Close() error
}
