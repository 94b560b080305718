package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "screening.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fptr(v float64) *float64 { return &v }

func TestSQLite_PlaybookLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	active, err := s.GetActivePlaybook(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "fresh store has no active playbook")

	v1, err := s.CreatePlaybookVersion(ctx, 1, model.DefaultSettings(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.True(t, v1.IsActive)

	settings := model.DefaultSettings()
	settings.HardFilters.MinDSCR = 1.35
	v2, err := s.CreatePlaybookVersion(ctx, 2, settings, false)
	require.NoError(t, err)
	assert.False(t, v2.IsActive)

	active, err = s.GetActivePlaybook(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v1.ID, active.ID)

	activated, err := s.ActivatePlaybook(ctx, v2.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)
	assert.Equal(t, 1.35, activated.Settings.HardFilters.MinDSCR)

	active, err = s.GetActivePlaybook(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, v2.ID, active.ID, "activation is exclusive")

	playbooks, err := s.ListPlaybooks(ctx)
	require.NoError(t, err)
	require.Len(t, playbooks, 2)
	assert.Equal(t, 2, playbooks[0].Version, "newest version first")
}

func TestSQLite_PlaybookVersionMustIncrease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreatePlaybookVersion(ctx, 3, model.DefaultSettings(), true)
	require.NoError(t, err)

	_, err = s.CreatePlaybookVersion(ctx, 2, model.DefaultSettings(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not greater")

	// Version 0 means "next".
	pb, err := s.CreatePlaybookVersion(ctx, 0, model.DefaultSettings(), false)
	require.NoError(t, err)
	assert.Equal(t, 4, pb.Version)
}

func TestSQLite_ActivateUnknownPlaybook(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ActivatePlaybook(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func createTestRun(t *testing.T, s *SQLiteStore, projectID string) *model.ScreeningRun {
	t.Helper()
	run, err := s.CreateRun(context.Background(), model.ScreeningRun{
		ProjectID:        projectID,
		PlaybookVersion:  1,
		PlaybookSnapshot: model.DefaultSettings(),
		Trigger:          model.TriggerIntake,
	})
	require.NoError(t, err)
	return run
}

func TestSQLite_FieldValueUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := createTestRun(t, s, "proj-1")

	first, err := s.UpsertFieldValues(ctx, []model.FieldValue{
		{RunID: run.ID, FieldKey: "asking_price", ValueNumber: fptr(10_000_000), Confidence: fptr(0.9), Method: "extracted", Citations: []string{"om.pdf#p3"}},
		{RunID: run.ID, FieldKey: "noi_in_place", ValueText: "$1,050,000", Confidence: fptr(0.8)},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Second write for the same (run, key) replaces the value, not duplicates it.
	_, err = s.UpsertFieldValues(ctx, []model.FieldValue{
		{RunID: run.ID, FieldKey: "asking_price", ValueNumber: fptr(9_500_000), Confidence: fptr(0.95)},
	})
	require.NoError(t, err)

	values, err := s.ListFieldValues(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, values, 2)

	byKey := map[string]model.FieldValue{}
	for _, fv := range values {
		byKey[fv.FieldKey] = fv
	}
	require.NotNil(t, byKey["asking_price"].ValueNumber)
	assert.Equal(t, 9_500_000.0, *byKey["asking_price"].ValueNumber)
	assert.Equal(t, "$1,050,000", byKey["noi_in_place"].ValueText)
}

func TestSQLite_OverridesAppendOnlyWithMonotonicSeq(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateOverride(ctx, model.Override{
		ProjectID: "proj-1", Scope: model.OverrideScopeField, FieldKey: "asking_price", ValueNumber: fptr(9_000_000),
	})
	require.NoError(t, err)
	second, err := s.CreateOverride(ctx, model.Override{
		ProjectID: "proj-1", Scope: model.OverrideScopeField, FieldKey: "asking_price", ValueNumber: fptr(8_500_000),
	})
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	_, err = s.CreateOverride(ctx, model.Override{
		ProjectID: "proj-1", Scope: model.OverrideScopeScore, FieldKey: "overall_score", ValueNumber: fptr(4.0),
	})
	require.NoError(t, err)

	fieldOnly, err := s.ListOverrides(ctx, "proj-1", model.OverrideScopeField)
	require.NoError(t, err)
	require.Len(t, fieldOnly, 2)

	all, err := s.ListOverrides(ctx, "proj-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.CreateOverride(ctx, model.Override{ProjectID: "proj-1", Scope: "bogus", FieldKey: "x"})
	require.Error(t, err)
}

func TestSQLite_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := createTestRun(t, s, "proj-1")
	assert.Equal(t, model.RunStatusQueued, run.Status)

	running := model.RunStatusRunning
	updated, err := s.UpdateRun(ctx, run.ID, RunUpdate{Status: &running})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, updated.Status)

	complete := model.RunStatusComplete
	needsReview := true
	now := time.Now().UTC()
	updated, err = s.UpdateRun(ctx, run.ID, RunUpdate{
		Status:            &complete,
		NeedsReview:       &needsReview,
		LowConfidenceKeys: []string{"noi_in_place"},
		CompletedAt:       &now,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, updated.Status)
	assert.True(t, updated.NeedsReview)
	assert.Equal(t, []string{"noi_in_place"}, updated.LowConfidenceKeys)
	require.NotNil(t, updated.CompletedAt)

	fetched, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TriggerIntake, fetched.Trigger)
	assert.Equal(t, 1.25, fetched.PlaybookSnapshot.HardFilters.MinDSCR)
}

func TestSQLite_ListRunsAndLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a1 := createTestRun(t, s, "proj-a")
	_, err := s.UpdateRun(ctx, a1.ID, RunUpdate{Status: statusPtr(model.RunStatusComplete)})
	require.NoError(t, err)

	// Later run for the same project.
	a2, err := s.CreateRun(ctx, model.ScreeningRun{
		ProjectID:        "proj-a",
		PlaybookVersion:  1,
		PlaybookSnapshot: model.DefaultSettings(),
		Trigger:          model.TriggerFieldUpdate,
		CreatedAt:        a1.CreatedAt.Add(time.Second),
	})
	require.NoError(t, err)
	createTestRun(t, s, "proj-b")

	latest, err := s.LatestRun(ctx, "proj-a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, a2.ID, latest.ID)

	none, err := s.LatestRun(ctx, "proj-zzz")
	require.NoError(t, err)
	assert.Nil(t, none)

	queued, err := s.ListRuns(ctx, RunFilter{Statuses: []model.RunStatus{model.RunStatusQueued, model.RunStatusRunning}})
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	forA, err := s.ListRuns(ctx, RunFilter{ProjectID: "proj-a"})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	ids, err := s.ListProjectIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"proj-a", "proj-b"}, ids)
}

func TestSQLite_ScoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := createTestRun(t, s, "proj-1")

	missing, err := s.GetScore(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	score := model.ScoreBreakdown{
		RunID:          run.ID,
		OverallScore:   fptr(3.25),
		FinancialScore: fptr(3.0),
		IsProvisional:  true,
		MissingKeys:    []string{"square_feet"},
		MetricScores:   map[string]*float64{"dscr": fptr(4), "cash_on_cash": nil},
		Metrics:        model.ComputedMetrics{DSCR: fptr(1.61), CapRateUsed: fptr(0.085)},
	}
	require.NoError(t, s.UpsertScore(ctx, score))

	// Upsert replaces in place.
	score.OverallScore = fptr(3.5)
	require.NoError(t, s.UpsertScore(ctx, score))

	got, err := s.GetScore(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3.5, *got.OverallScore)
	assert.True(t, got.IsProvisional)
	assert.Equal(t, []string{"square_feet"}, got.MissingKeys)
	require.NotNil(t, got.Metrics.DSCR)
	assert.Equal(t, 1.61, *got.Metrics.DSCR)
	require.Contains(t, got.MetricScores, "dscr")
	assert.Equal(t, 4.0, *got.MetricScores["dscr"])
}

func TestSQLite_IngestionJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.CreateIngestionJob(ctx, model.IngestionJob{
		ProjectID: "proj-1",
		Payload:   []byte(`{"values":[{"field_key":"asking_price","value_text":"$10,000,000"}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	running := model.JobStatusRunning
	_, err = s.UpdateIngestionJob(ctx, job.ID, JobUpdate{Status: &running})
	require.NoError(t, err)

	failedStatus := model.JobStatusFailed
	lastErr := "store unavailable"
	updated, err := s.UpdateIngestionJob(ctx, job.ID, JobUpdate{Status: &failedStatus, LastError: &lastErr})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, updated.Status)
	assert.Equal(t, "store unavailable", updated.LastError)

	fetched, err := s.GetIngestionJob(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(job.Payload), string(fetched.Payload))

	pending, err := s.ListIngestionJobs(ctx, []model.JobStatus{model.JobStatusQueued, model.JobStatusRunning})
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := s.ListIngestionJobs(ctx, []model.JobStatus{model.JobStatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestSQLite_ExportJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := createTestRun(t, s, "proj-1")

	job, err := s.CreateExportJob(ctx, model.ExportJob{ProjectID: "proj-1", RunID: run.ID})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	complete := model.JobStatusComplete
	path := "/tmp/exports/proj-1.xlsx"
	now := time.Now().UTC()
	updated, err := s.UpdateExportJob(ctx, job.ID, JobUpdate{Status: &complete, FilePath: &path, CompletedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, updated.Status)
	assert.Equal(t, path, updated.FilePath)
	require.NotNil(t, updated.CompletedAt)

	all, err := s.ListExportJobs(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func statusPtr(s model.RunStatus) *model.RunStatus { return &s }
