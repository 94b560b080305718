// Package store defines the persistence interface for the screening pipeline
// and provides SQLite and Postgres implementations.
package store

import (
	"context"
	"time"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

// RunFilter specifies criteria for listing screening runs. Results are always
// ordered newest first: read paths prefer the most recently created run per
// project.
type RunFilter struct {
	ProjectID string          `json:"project_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Statuses  []model.RunStatus
	Limit     int `json:"limit,omitempty"`
	Offset    int `json:"offset,omitempty"`
}

// RunUpdate is a partial update applied to a screening run. Nil fields are
// left untouched.
type RunUpdate struct {
	Status            *model.RunStatus
	NeedsReview       *bool
	LowConfidenceKeys []string
	LastError         *string
	CompletedAt       *time.Time
}

// JobUpdate is a partial update applied to an ingestion or export job.
type JobUpdate struct {
	Status      *model.JobStatus
	LastError   *string
	FilePath    *string
	CompletedAt *time.Time
}

// Store is the persistence boundary for playbooks, field values, overrides,
// runs, scores, and the job entities the queue recovers on startup.
type Store interface {
	// Playbooks. Exactly one playbook is active; activation deactivates all
	// others in the same transaction.
	GetActivePlaybook(ctx context.Context) (*model.Playbook, error)
	CreatePlaybookVersion(ctx context.Context, version int, settings model.PlaybookSettings, activate bool) (*model.Playbook, error)
	ActivatePlaybook(ctx context.Context, playbookID string) (*model.Playbook, error)
	ListPlaybooks(ctx context.Context) ([]model.Playbook, error)

	// Field values, keyed uniquely by (run_id, field_key); upserts are
	// idempotent with last-write-wins semantics.
	ListFieldValues(ctx context.Context, runID string) ([]model.FieldValue, error)
	UpsertFieldValues(ctx context.Context, values []model.FieldValue) ([]model.FieldValue, error)

	// Overrides are append-only; listing returns them newest first.
	ListOverrides(ctx context.Context, projectID string, scope model.OverrideScope) ([]model.Override, error)
	CreateOverride(ctx context.Context, override model.Override) (*model.Override, error)

	// Screening runs.
	CreateRun(ctx context.Context, run model.ScreeningRun) (*model.ScreeningRun, error)
	GetRun(ctx context.Context, runID string) (*model.ScreeningRun, error)
	UpdateRun(ctx context.Context, runID string, update RunUpdate) (*model.ScreeningRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ScreeningRun, error)
	LatestRun(ctx context.Context, projectID string) (*model.ScreeningRun, error)
	ListProjectIDs(ctx context.Context) ([]string, error)

	// Scores, one-to-one with completed runs.
	UpsertScore(ctx context.Context, score model.ScoreBreakdown) error
	GetScore(ctx context.Context, runID string) (*model.ScoreBreakdown, error)

	// Ingestion jobs.
	CreateIngestionJob(ctx context.Context, job model.IngestionJob) (*model.IngestionJob, error)
	GetIngestionJob(ctx context.Context, jobID string) (*model.IngestionJob, error)
	UpdateIngestionJob(ctx context.Context, jobID string, update JobUpdate) (*model.IngestionJob, error)
	ListIngestionJobs(ctx context.Context, statuses []model.JobStatus) ([]model.IngestionJob, error)

	// Export jobs.
	CreateExportJob(ctx context.Context, job model.ExportJob) (*model.ExportJob, error)
	GetExportJob(ctx context.Context, jobID string) (*model.ExportJob, error)
	UpdateExportJob(ctx context.Context, jobID string, update JobUpdate) (*model.ExportJob, error)
	ListExportJobs(ctx context.Context, statuses []model.JobStatus) ([]model.ExportJob, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
