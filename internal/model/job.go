package model

import (
	"encoding/json"
	"time"
)

// JobStatus is shared by ingestion and export jobs. It mirrors the run state
// machine: queued -> running -> {complete | failed}, with failed -> queued on
// retry. The persisted status, not queue membership, is the durable record of
// outstanding work.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// IngestionJob carries a document of pre-extracted field values waiting to be
// applied to a fresh screening run for its project.
type IngestionJob struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ExportJob renders a completed run's metrics and final scores to a workbook
// on disk.
type ExportJob struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	RunID       string     `json:"run_id"`
	Status      JobStatus  `json:"status"`
	FilePath    string     `json:"file_path,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IngestionPayload is the document shape accepted by the ingest endpoint: a
// list of raw field values in heterogeneous representations.
type IngestionPayload struct {
	Values []IngestionValue `json:"values"`
}

// IngestionValue is one raw field datum from an upstream extractor.
type IngestionValue struct {
	FieldKey    string   `json:"field_key"`
	ValueNumber *float64 `json:"value_number,omitempty"`
	ValueText   string   `json:"value_text,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Method      string   `json:"method,omitempty"`
	Citations   []string `json:"citations,omitempty"`
}
