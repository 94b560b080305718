package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blakegallagher1/gpc-cres/internal/model"
	"github.com/blakegallagher1/gpc-cres/internal/queue"
	"github.com/blakegallagher1/gpc-cres/internal/store"
)

func TestRecover_ResumesQueuedAndRunningWork(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// A run that a previous process died holding.
	stuck, err := env.store.CreateRun(ctx, model.ScreeningRun{
		ProjectID:        "proj-1",
		PlaybookSnapshot: model.DefaultSettings(),
		Trigger:          model.TriggerIntake,
	})
	require.NoError(t, err)
	_, err = env.store.UpsertFieldValues(ctx, withRunID(intakeValues(), stuck.ID))
	require.NoError(t, err)
	running := model.RunStatusRunning
	_, err = env.store.UpdateRun(ctx, stuck.ID, store.RunUpdate{Status: &running})
	require.NoError(t, err)

	// An ingestion job that never started.
	ingJob, err := env.store.CreateIngestionJob(ctx, model.IngestionJob{
		ProjectID: "proj-2",
		Payload:   []byte(`{"values":[{"field_key":"asking_price","value_number":5000000}]}`),
	})
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Recover(ctx))

	done := env.waitRunComplete(t, stuck.ID)
	assert.Equal(t, model.RunStatusComplete, done.Status)

	waitFor(t, "recovered ingestion job", func() bool {
		j, err := env.store.GetIngestionJob(ctx, ingJob.ID)
		return err == nil && j.Status == model.JobStatusComplete
	})
}

func TestRecover_ResumesInterruptedExport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	run, err := env.pipeline.StartRun(ctx, "proj-1", model.TriggerManualRerun, intakeValues())
	require.NoError(t, err)
	env.waitRunComplete(t, run.ID)

	expJob, err := env.store.CreateExportJob(ctx, model.ExportJob{ProjectID: "proj-1", RunID: run.ID})
	require.NoError(t, err)
	running := model.JobStatusRunning
	_, err = env.store.UpdateExportJob(ctx, expJob.ID, store.JobUpdate{Status: &running})
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Recover(ctx))

	waitFor(t, "recovered export job", func() bool {
		j, err := env.store.GetExportJob(ctx, expJob.ID)
		return err == nil && j.Status == model.JobStatusComplete && j.FilePath != ""
	})
}

func TestRecover_NothingPendingIsANoOp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	run, err := env.pipeline.StartRun(ctx, "proj-1", model.TriggerManualRerun, intakeValues())
	require.NoError(t, err)
	env.waitRunComplete(t, run.ID)

	require.NoError(t, env.pipeline.Recover(ctx))
	// Settled state stays settled: no new runs appear.
	time.Sleep(20 * time.Millisecond)

	runs, err := env.store.ListRuns(ctx, store.RunFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
}

func TestRecover_ScanEnqueuesExactlyOneJobPerEntity(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "screening.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	// Counting handlers on a stopped queue: jobs from both scans accumulate
	// in the buffer, so each scan's contribution is observable.
	var mu sync.Mutex
	counts := map[string]int{}
	q := queue.New(queue.Config{Workers: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	for _, jobType := range []string{JobTypeScreening, JobTypeIngestion, JobTypeExport} {
		jt := jobType
		require.NoError(t, q.Register(jt, func(ctx context.Context, payload queue.Payload) error {
			mu.Lock()
			counts[jt]++
			mu.Unlock()
			return nil
		}))
	}
	p := &Pipeline{store: st, queue: q}

	run, err := st.CreateRun(ctx, model.ScreeningRun{
		ProjectID:        "proj-1",
		PlaybookSnapshot: model.DefaultSettings(),
		Trigger:          model.TriggerIntake,
	})
	require.NoError(t, err)
	ingJob, err := st.CreateIngestionJob(ctx, model.IngestionJob{ProjectID: "proj-1"})
	require.NoError(t, err)
	expJob, err := st.CreateExportJob(ctx, model.ExportJob{ProjectID: "proj-1", RunID: run.ID})
	require.NoError(t, err)

	require.NoError(t, p.Recover(ctx))
	require.NoError(t, p.Recover(ctx))

	qctx, cancel := context.WithCancel(ctx)
	q.Start(qctx)
	t.Cleanup(func() {
		cancel()
		q.Stop()
	})

	waitFor(t, "both scans to drain", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[JobTypeScreening] >= 2 && counts[JobTypeIngestion] >= 2 && counts[JobTypeExport] >= 2
	})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, map[string]int{JobTypeScreening: 2, JobTypeIngestion: 2, JobTypeExport: 2}, counts,
		"each scan enqueues exactly one job per pending entity")
	mu.Unlock()

	// The scan re-enqueues queue jobs; it never duplicates the entities.
	runs, err := st.ListRuns(ctx, store.RunFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	ingestions, err := st.ListIngestionJobs(ctx, nil)
	require.NoError(t, err)
	require.Len(t, ingestions, 1)
	assert.Equal(t, ingJob.ID, ingestions[0].ID)

	exports, err := st.ListExportJobs(ctx, nil)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, expJob.ID, exports[0].ID)
}

func withRunID(values []model.FieldValue, runID string) []model.FieldValue {
	out := make([]model.FieldValue, len(values))
	for i, fv := range values {
		fv.RunID = runID
		out[i] = fv
	}
	return out
}
