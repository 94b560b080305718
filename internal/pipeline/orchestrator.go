// Package pipeline orchestrates screening recomputation: it creates runs,
// wires the job queue to the store, and recovers interrupted work on startup.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blakegallagher1/gpc-cres/internal/model"
	"github.com/blakegallagher1/gpc-cres/internal/queue"
	"github.com/blakegallagher1/gpc-cres/internal/screening"
	"github.com/blakegallagher1/gpc-cres/internal/store"
)

// Queue job types handled by the pipeline.
const (
	JobTypeScreening = "screening"
	JobTypeIngestion = "ingestion"
	JobTypeExport    = "export"
)

// Exporter renders a completed run to a file and returns its path.
type Exporter interface {
	WriteRun(run *model.ScreeningRun, values []model.FieldValue, score model.ScoreBreakdown) (string, error)
}

// Pipeline coordinates the store, the queue, and the scoring engine.
type Pipeline struct {
	store    store.Store
	queue    *queue.Queue
	exporter Exporter
}

// New creates a pipeline. Bind must be called with the queue before any
// operation that enqueues work.
func New(st store.Store, exporter Exporter) *Pipeline {
	return &Pipeline{store: st, exporter: exporter}
}

// Bind attaches the queue and registers the pipeline's job handlers.
func (p *Pipeline) Bind(q *queue.Queue) error {
	p.queue = q
	if err := q.Register(JobTypeScreening, p.handleScreening); err != nil {
		return err
	}
	if err := q.Register(JobTypeIngestion, p.handleIngestion); err != nil {
		return err
	}
	return q.Register(JobTypeExport, p.handleExport)
}

// StartRun creates a queued screening run for a project and enqueues its
// computation. The new run clones the previous run's field values, then
// applies delta on top, so each run owns an independent copy of its inputs.
func (p *Pipeline) StartRun(ctx context.Context, projectID string, trigger model.TriggerReason, delta []model.FieldValue) (*model.ScreeningRun, error) {
	if projectID == "" {
		return nil, eris.New("pipeline: project id is required")
	}

	snapshot := model.DefaultSettings()
	version := 0
	if active, err := p.store.GetActivePlaybook(ctx); err != nil {
		return nil, err
	} else if active != nil {
		snapshot = active.Settings
		version = active.Version
	}

	prior, err := p.store.LatestRun(ctx, projectID)
	if err != nil {
		return nil, err
	}

	run, err := p.store.CreateRun(ctx, model.ScreeningRun{
		ProjectID:        projectID,
		PlaybookVersion:  version,
		PlaybookSnapshot: snapshot,
		Trigger:          trigger,
		Status:           model.RunStatusQueued,
	})
	if err != nil {
		return nil, err
	}

	var values []model.FieldValue
	if prior != nil {
		priorValues, err := p.store.ListFieldValues(ctx, prior.ID)
		if err != nil {
			return nil, err
		}
		for _, fv := range priorValues {
			values = append(values, fv.CloneForRun(run.ID))
		}
	}
	for _, fv := range delta {
		fv.ID = ""
		fv.RunID = run.ID
		values = append(values, fv)
	}
	if _, err := p.store.UpsertFieldValues(ctx, values); err != nil {
		return nil, err
	}

	if err := p.queue.Enqueue(ctx, JobTypeScreening, queue.Payload{RunID: run.ID}); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: run queued",
		zap.String("run_id", run.ID),
		zap.String("project_id", projectID),
		zap.String("trigger", string(trigger)),
		zap.Int("playbook_version", version),
	)
	return run, nil
}

// handleScreening computes metrics and scores for one run.
func (p *Pipeline) handleScreening(ctx context.Context, payload queue.Payload) error {
	run, err := p.store.GetRun(ctx, payload.RunID)
	if err != nil {
		return err
	}

	running := model.RunStatusRunning
	if _, err := p.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &running}); err != nil {
		return err
	}

	values, err := p.store.ListFieldValues(ctx, run.ID)
	if err != nil {
		return err
	}
	overrides, err := p.store.ListOverrides(ctx, run.ProjectID, model.OverrideScopeField)
	if err != nil {
		return err
	}

	inputs := screening.ResolveInputs(values, overrides)
	computation := screening.Compute(run.PlaybookSnapshot, inputs)
	computation.Scores.RunID = run.ID

	if err := p.store.UpsertScore(ctx, computation.Scores); err != nil {
		return err
	}

	lowConfidence := screening.FindLowConfidenceKeys(values, run.PlaybookSnapshot.LowConfidenceThreshold, overrides)
	complete := model.RunStatusComplete
	needsReview := len(lowConfidence) > 0
	now := time.Now().UTC()
	emptyErr := ""
	if _, err := p.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:            &complete,
		NeedsReview:       &needsReview,
		LowConfidenceKeys: lowConfidence,
		LastError:         &emptyErr,
		CompletedAt:       &now,
	}); err != nil {
		return err
	}

	zap.L().Info("pipeline: run complete",
		zap.String("run_id", run.ID),
		zap.String("project_id", run.ProjectID),
		zap.Bool("needs_review", needsReview),
		zap.Bool("provisional", computation.Scores.IsProvisional),
		zap.Bool("hard_filter_failed", computation.Scores.HardFilterFailed),
	)
	return nil
}

// Ingest persists an intake document and queues it for processing.
func (p *Pipeline) Ingest(ctx context.Context, projectID string, payload model.IngestionPayload) (*model.IngestionJob, error) {
	doc, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal ingestion payload")
	}
	job, err := p.store.CreateIngestionJob(ctx, model.IngestionJob{
		ProjectID: projectID,
		Payload:   doc,
	})
	if err != nil {
		return nil, err
	}
	if err := p.queue.Enqueue(ctx, JobTypeIngestion, queue.Payload{JobID: job.ID}); err != nil {
		return nil, err
	}
	return job, nil
}

// handleIngestion applies an intake document as a new screening run.
func (p *Pipeline) handleIngestion(ctx context.Context, payload queue.Payload) error {
	job, err := p.store.GetIngestionJob(ctx, payload.JobID)
	if err != nil {
		return err
	}

	running := model.JobStatusRunning
	if _, err := p.store.UpdateIngestionJob(ctx, job.ID, store.JobUpdate{Status: &running}); err != nil {
		return err
	}

	var doc model.IngestionPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &doc); err != nil {
			return eris.Wrapf(err, "pipeline: decode ingestion payload for job %s", job.ID)
		}
	}

	delta := make([]model.FieldValue, 0, len(doc.Values))
	for _, v := range doc.Values {
		if v.FieldKey == "" {
			continue
		}
		delta = append(delta, model.FieldValue{
			FieldKey:    v.FieldKey,
			ValueNumber: v.ValueNumber,
			ValueText:   v.ValueText,
			Confidence:  v.Confidence,
			Method:      v.Method,
			Citations:   v.Citations,
		})
	}

	if _, err := p.StartRun(ctx, job.ProjectID, model.TriggerIntake, delta); err != nil {
		return err
	}

	complete := model.JobStatusComplete
	now := time.Now().UTC()
	emptyErr := ""
	_, err = p.store.UpdateIngestionJob(ctx, job.ID, store.JobUpdate{
		Status: &complete, LastError: &emptyErr, CompletedAt: &now,
	})
	return err
}

// RequestExport queues a workbook export for a run. An empty runID exports
// the project's latest run.
func (p *Pipeline) RequestExport(ctx context.Context, projectID, runID string) (*model.ExportJob, error) {
	if runID == "" {
		latest, err := p.store.LatestRun(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, eris.Errorf("pipeline: no runs for project %s", projectID)
		}
		runID = latest.ID
	}

	job, err := p.store.CreateExportJob(ctx, model.ExportJob{ProjectID: projectID, RunID: runID})
	if err != nil {
		return nil, err
	}
	if err := p.queue.Enqueue(ctx, JobTypeExport, queue.Payload{JobID: job.ID}); err != nil {
		return nil, err
	}
	return job, nil
}

// handleExport renders a run's final scores to a workbook.
func (p *Pipeline) handleExport(ctx context.Context, payload queue.Payload) error {
	job, err := p.store.GetExportJob(ctx, payload.JobID)
	if err != nil {
		return err
	}

	running := model.JobStatusRunning
	if _, err := p.store.UpdateExportJob(ctx, job.ID, store.JobUpdate{Status: &running}); err != nil {
		return err
	}

	run, err := p.store.GetRun(ctx, job.RunID)
	if err != nil {
		return err
	}
	values, err := p.store.ListFieldValues(ctx, run.ID)
	if err != nil {
		return err
	}
	score, err := p.FinalScores(ctx, run.ID)
	if err != nil {
		return err
	}
	if score == nil {
		return eris.Errorf("pipeline: run %s has no score to export", run.ID)
	}

	path, err := p.exporter.WriteRun(run, values, *score)
	if err != nil {
		return err
	}

	complete := model.JobStatusComplete
	now := time.Now().UTC()
	emptyErr := ""
	_, err = p.store.UpdateExportJob(ctx, job.ID, store.JobUpdate{
		Status: &complete, FilePath: &path, LastError: &emptyErr, CompletedAt: &now,
	})
	return err
}

// FinalScores returns a run's stored breakdown with the project's score-scope
// overrides applied. The stored breakdown is never mutated; overrides are a
// read-time layer.
func (p *Pipeline) FinalScores(ctx context.Context, runID string) (*model.ScoreBreakdown, error) {
	score, err := p.store.GetScore(ctx, runID)
	if err != nil {
		return nil, err
	}
	if score == nil {
		return nil, nil
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	overrides, err := p.store.ListOverrides(ctx, run.ProjectID, model.OverrideScopeScore)
	if err != nil {
		return nil, err
	}

	final := screening.ApplyScoreOverrides(*score, overrides)
	return &final, nil
}

// CreateOverride records a manual correction. A field-scope override queues a
// recomputation; a score-scope override takes effect at read time without one.
func (p *Pipeline) CreateOverride(ctx context.Context, override model.Override) (*model.Override, error) {
	created, err := p.store.CreateOverride(ctx, override)
	if err != nil {
		return nil, err
	}

	if created.Scope == model.OverrideScopeField {
		if _, err := p.StartRun(ctx, created.ProjectID, model.TriggerFieldOverride, nil); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// UpdateFields applies edited field values as a new screening run.
func (p *Pipeline) UpdateFields(ctx context.Context, projectID string, values []model.FieldValue) (*model.ScreeningRun, error) {
	if len(values) == 0 {
		return nil, eris.New("pipeline: no field values to update")
	}
	return p.StartRun(ctx, projectID, model.TriggerFieldUpdate, values)
}

// MarkReviewed clears a run's review flag after an analyst signs off on its
// low-confidence inputs.
func (p *Pipeline) MarkReviewed(ctx context.Context, runID string) (*model.ScreeningRun, error) {
	reviewed := false
	return p.store.UpdateRun(ctx, runID, store.RunUpdate{NeedsReview: &reviewed})
}

// ActivatePlaybook switches the active playbook and queues a recomputation
// for every project with screening history, so no stale score survives a
// parameter change.
func (p *Pipeline) ActivatePlaybook(ctx context.Context, playbookID string) (*model.Playbook, error) {
	pb, err := p.store.ActivatePlaybook(ctx, playbookID)
	if err != nil {
		return nil, err
	}

	projectIDs, err := p.store.ListProjectIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, projectID := range projectIDs {
		if _, err := p.StartRun(ctx, projectID, model.TriggerPlaybookUpdate, nil); err != nil {
			zap.L().Error("pipeline: rescreen after playbook activation failed",
				zap.String("project_id", projectID),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("pipeline: playbook activated",
		zap.String("playbook_id", pb.ID),
		zap.Int("version", pb.Version),
		zap.Int("projects_rescreened", len(projectIDs)),
	)
	return pb, nil
}

// OnRetry persists "queued" with the error on the owning entity before the
// queue's backoff sleep, keeping the persisted status the source of truth for
// crash recovery.
func (p *Pipeline) OnRetry(job queue.Job, err error, _ time.Duration) {
	ctx := context.Background()
	queued := model.RunStatusQueued
	jobQueued := model.JobStatusQueued
	msg := err.Error()

	switch job.Type {
	case JobTypeScreening:
		if _, uerr := p.store.UpdateRun(ctx, job.Payload.RunID, store.RunUpdate{Status: &queued, LastError: &msg}); uerr != nil {
			zap.L().Error("pipeline: persist retry state failed", zap.String("run_id", job.Payload.RunID), zap.Error(uerr))
		}
	case JobTypeIngestion:
		if _, uerr := p.store.UpdateIngestionJob(ctx, job.Payload.JobID, store.JobUpdate{Status: &jobQueued, LastError: &msg}); uerr != nil {
			zap.L().Error("pipeline: persist retry state failed", zap.String("job_id", job.Payload.JobID), zap.Error(uerr))
		}
	case JobTypeExport:
		if _, uerr := p.store.UpdateExportJob(ctx, job.Payload.JobID, store.JobUpdate{Status: &jobQueued, LastError: &msg}); uerr != nil {
			zap.L().Error("pipeline: persist retry state failed", zap.String("job_id", job.Payload.JobID), zap.Error(uerr))
		}
	}
}

// OnFail persists terminal failure with the error on the owning entity.
func (p *Pipeline) OnFail(job queue.Job, err error) {
	ctx := context.Background()
	runFailed := model.RunStatusFailed
	jobFailed := model.JobStatusFailed
	msg := err.Error()

	switch job.Type {
	case JobTypeScreening:
		if _, uerr := p.store.UpdateRun(ctx, job.Payload.RunID, store.RunUpdate{Status: &runFailed, LastError: &msg}); uerr != nil {
			zap.L().Error("pipeline: persist failure state failed", zap.String("run_id", job.Payload.RunID), zap.Error(uerr))
		}
	case JobTypeIngestion:
		if _, uerr := p.store.UpdateIngestionJob(ctx, job.Payload.JobID, store.JobUpdate{Status: &jobFailed, LastError: &msg}); uerr != nil {
			zap.L().Error("pipeline: persist failure state failed", zap.String("job_id", job.Payload.JobID), zap.Error(uerr))
		}
	case JobTypeExport:
		if _, uerr := p.store.UpdateExportJob(ctx, job.Payload.JobID, store.JobUpdate{Status: &jobFailed, LastError: &msg}); uerr != nil {
			zap.L().Error("pipeline: persist failure state failed", zap.String("job_id", job.Payload.JobID), zap.Error(uerr))
		}
	}
}
