package model

import "time"

// RunStatus is the screening run state machine: queued -> running ->
// {complete | failed}. A failed run may transition back to queued on retry.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// TriggerReason records which mutation caused a recomputation.
type TriggerReason string

const (
	TriggerIntake         TriggerReason = "intake"
	TriggerManualRerun    TriggerReason = "manual_rerun"
	TriggerFieldUpdate    TriggerReason = "field_update"
	TriggerFieldOverride  TriggerReason = "field_override"
	TriggerPlaybookUpdate TriggerReason = "playbook_update"
)

// ScreeningRun is one computation attempt for a project. It snapshots the
// active playbook settings by value at creation time, so later playbook
// updates cannot retroactively change a historical run.
type ScreeningRun struct {
	ID                string           `json:"id"`
	ProjectID         string           `json:"project_id"`
	PlaybookVersion   int              `json:"playbook_version"`
	PlaybookSnapshot  PlaybookSettings `json:"playbook_snapshot"`
	Trigger           TriggerReason    `json:"trigger"`
	Status            RunStatus        `json:"status"`
	NeedsReview       bool             `json:"needs_review"`
	LowConfidenceKeys []string         `json:"low_confidence_keys,omitempty"`
	LastError         string           `json:"last_error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}
