package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, project_id, playbook_version`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActivePlaybook_NoneConfigured(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, version, settings, is_active, created_at FROM screening_playbooks WHERE is_active`).
		WillReturnError(pgx.ErrNoRows)

	pb, err := s.GetActivePlaybook(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pb)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetScore_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT breakdown FROM screening_scores`).
		WithArgs("run-1").
		WillReturnError(pgx.ErrNoRows)

	score, err := s.GetScore(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Nil(t, score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(run_id\) DO UPDATE`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	overall := 3.5
	err := s.UpsertScore(context.Background(), model.ScoreBreakdown{RunID: "run-1", OverallScore: &overall})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOverride_ReturnsSeq(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO screening_overrides .* RETURNING seq`).
		WithArgs(pgxmock.AnyArg(), "proj-1", "field", "asking_price", pgxmock.AnyArg(), "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	value := 9_000_000.0
	ov, err := s.CreateOverride(context.Background(), model.Override{
		ProjectID:   "proj-1",
		Scope:       model.OverrideScopeField,
		FieldKey:    "asking_price",
		ValueNumber: &value,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ov.Seq)
	assert.NotEmpty(t, ov.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOverride_RejectsUnknownScope(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.CreateOverride(context.Background(), model.Override{
		ProjectID: "proj-1", Scope: "bogus", FieldKey: "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown override scope")
}

func TestPostgresStore_UpdateRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE screening_runs SET`).
		WithArgs(pgxmock.AnyArg(), "running", "missing-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	running := model.RunStatusRunning
	_, err := s.UpdateRun(context.Background(), "missing-run", RunUpdate{Status: &running})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateExportJob_SetsFilePath(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	path := "/var/exports/proj-1.xlsx"
	complete := model.JobStatusComplete
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE export_jobs SET`).
		WithArgs(pgxmock.AnyArg(), "complete", path, pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`SELECT id, project_id, run_id, status, file_path`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "project_id", "run_id", "status", "file_path", "last_error", "created_at", "updated_at", "completed_at",
		}).AddRow("job-1", "proj-1", "run-1", "complete", path, "", now, now, &now))

	job, err := s.UpdateExportJob(context.Background(), "job-1", JobUpdate{
		Status: &complete, FilePath: &path, CompletedAt: &now,
	})
	require.NoError(t, err)
	assert.Equal(t, path, job.FilePath)
	assert.Equal(t, model.JobStatusComplete, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListIngestionJobs_FiltersByStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM ingestion_jobs WHERE status IN \(\$1, \$2\)`).
		WithArgs("queued", "running").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "project_id", "status", "payload", "last_error", "created_at", "updated_at", "completed_at",
		}).AddRow("job-1", "proj-1", "queued", []byte(`{"values":[]}`), "", now, now, nil))

	jobs, err := s.ListIngestionJobs(context.Background(), []model.JobStatus{model.JobStatusQueued, model.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStatusQueued, jobs[0].Status)
	assert.JSONEq(t, `{"values":[]}`, string(jobs[0].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}
