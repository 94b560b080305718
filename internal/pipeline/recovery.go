package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/blakegallagher1/gpc-cres/internal/model"
	"github.com/blakegallagher1/gpc-cres/internal/queue"
	"github.com/blakegallagher1/gpc-cres/internal/store"
)

// Recover re-enqueues work interrupted by a crash or restart. Persisted
// status is the source of truth: anything still queued or running gets one
// queue job, and running entities are reset to queued first so the state
// machine never observes a running entity with no worker behind it.
func (p *Pipeline) Recover(ctx context.Context) error {
	recovered := 0

	runs, err := p.store.ListRuns(ctx, store.RunFilter{
		Statuses: []model.RunStatus{model.RunStatusQueued, model.RunStatusRunning},
		Limit:    10000,
	})
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run.Status == model.RunStatusRunning {
			queued := model.RunStatusQueued
			if _, err := p.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &queued}); err != nil {
				return err
			}
		}
		if err := p.queue.Enqueue(ctx, JobTypeScreening, queue.Payload{RunID: run.ID}); err != nil {
			return err
		}
		recovered++
	}

	pendingStatuses := []model.JobStatus{model.JobStatusQueued, model.JobStatusRunning}

	ingestions, err := p.store.ListIngestionJobs(ctx, pendingStatuses)
	if err != nil {
		return err
	}
	for _, job := range ingestions {
		if job.Status == model.JobStatusRunning {
			queued := model.JobStatusQueued
			if _, err := p.store.UpdateIngestionJob(ctx, job.ID, store.JobUpdate{Status: &queued}); err != nil {
				return err
			}
		}
		if err := p.queue.Enqueue(ctx, JobTypeIngestion, queue.Payload{JobID: job.ID}); err != nil {
			return err
		}
		recovered++
	}

	exports, err := p.store.ListExportJobs(ctx, pendingStatuses)
	if err != nil {
		return err
	}
	for _, job := range exports {
		if job.Status == model.JobStatusRunning {
			queued := model.JobStatusQueued
			if _, err := p.store.UpdateExportJob(ctx, job.ID, store.JobUpdate{Status: &queued}); err != nil {
				return err
			}
		}
		if err := p.queue.Enqueue(ctx, JobTypeExport, queue.Payload{JobID: job.ID}); err != nil {
			return err
		}
		recovered++
	}

	if recovered > 0 {
		zap.L().Info("pipeline: recovered interrupted work", zap.Int("jobs", recovered))
	}
	return nil
}
