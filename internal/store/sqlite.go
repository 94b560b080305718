package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS screening_playbooks (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL UNIQUE,
	settings   TEXT NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS screening_runs (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	playbook_version    INTEGER NOT NULL,
	playbook_snapshot   TEXT NOT NULL,
	trigger_reason      TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	needs_review        INTEGER NOT NULL DEFAULT 0,
	low_confidence_keys TEXT,
	last_error          TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	completed_at        DATETIME
);

CREATE TABLE IF NOT EXISTS field_values (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES screening_runs(id),
	field_key    TEXT NOT NULL,
	value_number REAL,
	value_text   TEXT NOT NULL DEFAULT '',
	value_json   TEXT,
	confidence   REAL,
	method       TEXT NOT NULL DEFAULT '',
	citations    TEXT,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	UNIQUE (run_id, field_key)
);

CREATE TABLE IF NOT EXISTS screening_overrides (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	project_id   TEXT NOT NULL,
	scope        TEXT NOT NULL,
	field_key    TEXT NOT NULL,
	value_number REAL,
	value_text   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS screening_scores (
	run_id     TEXT PRIMARY KEY REFERENCES screening_runs(id),
	breakdown  TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	payload      TEXT,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS export_jobs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	file_path    TEXT NOT NULL DEFAULT '',
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_project_created ON screening_runs(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON screening_runs(status);
CREATE INDEX IF NOT EXISTS idx_field_values_run ON field_values(run_id);
CREATE INDEX IF NOT EXISTS idx_overrides_project_scope ON screening_overrides(project_id, scope);
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_status ON ingestion_jobs(status);
CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Playbooks ---

func (s *SQLiteStore) GetActivePlaybook(ctx context.Context) (*model.Playbook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, settings, is_active, created_at
		 FROM screening_playbooks WHERE is_active = 1 LIMIT 1`,
	)
	pb, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get active playbook")
	}
	return pb, nil
}

func (s *SQLiteStore) CreatePlaybookVersion(ctx context.Context, version int, settings model.PlaybookSettings, activate bool) (*model.Playbook, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal playbook settings")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin playbook tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM screening_playbooks`).Scan(&maxVersion); err != nil {
		return nil, eris.Wrap(err, "sqlite: query max playbook version")
	}
	if version <= 0 {
		version = int(maxVersion.Int64) + 1
	} else if maxVersion.Valid && int64(version) <= maxVersion.Int64 {
		return nil, eris.Errorf("sqlite: playbook version %d is not greater than current %d", version, maxVersion.Int64)
	}

	pb := &model.Playbook{
		ID:        uuid.New().String(),
		Version:   version,
		Settings:  settings,
		IsActive:  activate,
		CreatedAt: time.Now().UTC(),
	}

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE screening_playbooks SET is_active = 0`); err != nil {
			return nil, eris.Wrap(err, "sqlite: deactivate playbooks")
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO screening_playbooks (id, version, settings, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		pb.ID, pb.Version, string(settingsJSON), boolToInt(pb.IsActive), pb.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert playbook")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit playbook")
	}
	return pb, nil
}

func (s *SQLiteStore) ActivatePlaybook(ctx context.Context, playbookID string) (*model.Playbook, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin activate tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE screening_playbooks SET is_active = 0`); err != nil {
		return nil, eris.Wrap(err, "sqlite: deactivate playbooks")
	}
	res, err := tx.ExecContext(ctx, `UPDATE screening_playbooks SET is_active = 1 WHERE id = ?`, playbookID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: activate playbook %s", playbookID)
	}
	if err := checkRowsAffected(res, "playbook", playbookID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit activate")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, settings, is_active, created_at FROM screening_playbooks WHERE id = ?`, playbookID)
	pb, err := scanPlaybook(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: reload playbook")
	}
	return pb, nil
}

func (s *SQLiteStore) ListPlaybooks(ctx context.Context) ([]model.Playbook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, settings, is_active, created_at
		 FROM screening_playbooks ORDER BY version DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list playbooks")
	}
	defer rows.Close()

	var playbooks []model.Playbook
	for rows.Next() {
		pb, err := scanPlaybook(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan playbook")
		}
		playbooks = append(playbooks, *pb)
	}
	return playbooks, eris.Wrap(rows.Err(), "sqlite: list playbooks iterate")
}

// --- Field values ---

func (s *SQLiteStore) ListFieldValues(ctx context.Context, runID string) ([]model.FieldValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, field_key, value_number, value_text, value_json, confidence, method, citations, created_at, updated_at
		 FROM field_values WHERE run_id = ? ORDER BY field_key`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list field values for run %s", runID)
	}
	defer rows.Close()

	var values []model.FieldValue
	for rows.Next() {
		fv, err := scanFieldValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, *fv)
	}
	return values, eris.Wrap(rows.Err(), "sqlite: list field values iterate")
}

func (s *SQLiteStore) UpsertFieldValues(ctx context.Context, values []model.FieldValue) ([]model.FieldValue, error) {
	if len(values) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	out := make([]model.FieldValue, 0, len(values))
	for _, fv := range values {
		if fv.RunID == "" || fv.FieldKey == "" {
			return nil, eris.New("sqlite: field value requires run_id and field_key")
		}
		if fv.ID == "" {
			fv.ID = uuid.New().String()
		}
		if fv.CreatedAt.IsZero() {
			fv.CreatedAt = now
		}
		fv.UpdatedAt = now

		var citationsJSON any
		if len(fv.Citations) > 0 {
			b, err := json.Marshal(fv.Citations)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: marshal citations")
			}
			citationsJSON = string(b)
		}
		var valueJSON any
		if len(fv.ValueJSON) > 0 {
			valueJSON = string(fv.ValueJSON)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO field_values
				(id, run_id, field_key, value_number, value_text, value_json, confidence, method, citations, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, field_key) DO UPDATE SET
				value_number = excluded.value_number,
				value_text   = excluded.value_text,
				value_json   = excluded.value_json,
				confidence   = excluded.confidence,
				method       = excluded.method,
				citations    = excluded.citations,
				updated_at   = excluded.updated_at`,
			fv.ID, fv.RunID, fv.FieldKey, fv.ValueNumber, fv.ValueText, valueJSON,
			fv.Confidence, fv.Method, citationsJSON, fv.CreatedAt, fv.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert field value %s/%s", fv.RunID, fv.FieldKey)
		}
		out = append(out, fv)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert")
	}
	return out, nil
}

// --- Overrides ---

func (s *SQLiteStore) ListOverrides(ctx context.Context, projectID string, scope model.OverrideScope) ([]model.Override, error) {
	query := `SELECT seq, id, project_id, scope, field_key, value_number, value_text, created_at
	          FROM screening_overrides WHERE project_id = ?`
	args := []any{projectID}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, string(scope))
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list overrides for project %s", projectID)
	}
	defer rows.Close()

	var overrides []model.Override
	for rows.Next() {
		var ov model.Override
		var valueNumber sql.NullFloat64
		if err := rows.Scan(&ov.Seq, &ov.ID, &ov.ProjectID, &ov.Scope, &ov.FieldKey, &valueNumber, &ov.ValueText, &ov.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan override")
		}
		if valueNumber.Valid {
			v := valueNumber.Float64
			ov.ValueNumber = &v
		}
		overrides = append(overrides, ov)
	}
	return overrides, eris.Wrap(rows.Err(), "sqlite: list overrides iterate")
}

func (s *SQLiteStore) CreateOverride(ctx context.Context, override model.Override) (*model.Override, error) {
	if override.ProjectID == "" || override.FieldKey == "" {
		return nil, eris.New("sqlite: override requires project_id and field_key")
	}
	if override.Scope != model.OverrideScopeField && override.Scope != model.OverrideScopeScore {
		return nil, eris.Errorf("sqlite: unknown override scope %q", override.Scope)
	}
	if override.ID == "" {
		override.ID = uuid.New().String()
	}
	if override.CreatedAt.IsZero() {
		override.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO screening_overrides (id, project_id, scope, field_key, value_number, value_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		override.ID, override.ProjectID, string(override.Scope), override.FieldKey,
		override.ValueNumber, override.ValueText, override.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert override")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: override last insert id")
	}
	override.Seq = seq
	return &override, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.ScreeningRun) (*model.ScreeningRun, error) {
	if run.ProjectID == "" {
		return nil, eris.New("sqlite: run requires project_id")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	snapshotJSON, err := json.Marshal(run.PlaybookSnapshot)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal playbook snapshot")
	}
	keysJSON, err := marshalStringList(run.LowConfidenceKeys)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO screening_runs
			(id, project_id, playbook_version, playbook_snapshot, trigger_reason, status,
			 needs_review, low_confidence_keys, last_error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, run.PlaybookVersion, string(snapshotJSON), string(run.Trigger),
		string(run.Status), boolToInt(run.NeedsReview), keysJSON, run.LastError,
		run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.ScreeningRun, error) {
	row := s.db.QueryRowContext(ctx, selectRunSQL+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, runID string, update RunUpdate) (*model.ScreeningRun, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.NeedsReview != nil {
		sets = append(sets, "needs_review = ?")
		args = append(args, boolToInt(*update.NeedsReview))
	}
	if update.LowConfidenceKeys != nil {
		keysJSON, err := marshalStringList(update.LowConfidenceKeys)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "low_confidence_keys = ?")
		args = append(args, keysJSON)
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *update.LastError)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	args = append(args, runID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE screening_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update run %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return nil, err
	}
	return s.GetRun(ctx, runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScreeningRun, error) {
	query := selectRunSQL + ` WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ScreeningRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LatestRun(ctx context.Context, projectID string) (*model.ScreeningRun, error) {
	row := s.db.QueryRowContext(ctx,
		selectRunSQL+` WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, projectID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest run for project %s", projectID)
	}
	return run, nil
}

func (s *SQLiteStore) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM screening_runs ORDER BY project_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list project ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list project ids iterate")
}

// --- Scores ---

func (s *SQLiteStore) UpsertScore(ctx context.Context, score model.ScoreBreakdown) error {
	if score.RunID == "" {
		return eris.New("sqlite: score requires run_id")
	}
	now := time.Now().UTC()
	if score.CreatedAt.IsZero() {
		score.CreatedAt = now
	}
	score.UpdatedAt = now

	breakdownJSON, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score breakdown")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO screening_scores (run_id, breakdown, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			breakdown  = excluded.breakdown,
			updated_at = excluded.updated_at`,
		score.RunID, string(breakdownJSON), score.CreatedAt, score.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert score for run %s", score.RunID)
}

func (s *SQLiteStore) GetScore(ctx context.Context, runID string) (*model.ScoreBreakdown, error) {
	var breakdownJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT breakdown FROM screening_scores WHERE run_id = ?`, runID,
	).Scan(&breakdownJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get score for run %s", runID)
	}

	var score model.ScoreBreakdown
	if err := json.Unmarshal([]byte(breakdownJSON), &score); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal score breakdown")
	}
	return &score, nil
}

// --- Ingestion jobs ---

func (s *SQLiteStore) CreateIngestionJob(ctx context.Context, job model.IngestionJob) (*model.IngestionJob, error) {
	if job.ProjectID == "" {
		return nil, eris.New("sqlite: ingestion job requires project_id")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	var payload any
	if len(job.Payload) > 0 {
		payload = string(job.Payload)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (id, project_id, status, payload, last_error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, string(job.Status), payload, job.LastError,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert ingestion job")
	}
	return &job, nil
}

func (s *SQLiteStore) GetIngestionJob(ctx context.Context, jobID string) (*model.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, status, payload, last_error, created_at, updated_at, completed_at
		 FROM ingestion_jobs WHERE id = ?`, jobID)
	job, err := scanIngestionJob(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: ingestion job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ingestion job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateIngestionJob(ctx context.Context, jobID string, update JobUpdate) (*model.IngestionJob, error) {
	sets, args := jobUpdateClauses(update)
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update ingestion job %s", jobID)
	}
	if err := checkRowsAffected(res, "ingestion job", jobID); err != nil {
		return nil, err
	}
	return s.GetIngestionJob(ctx, jobID)
}

func (s *SQLiteStore) ListIngestionJobs(ctx context.Context, statuses []model.JobStatus) ([]model.IngestionJob, error) {
	query := `SELECT id, project_id, status, payload, last_error, created_at, updated_at, completed_at
	          FROM ingestion_jobs`
	query, args := appendStatusFilter(query, statuses)
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingestion jobs")
	}
	defer rows.Close()

	var jobs []model.IngestionJob
	for rows.Next() {
		job, err := scanIngestionJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingestion job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list ingestion jobs iterate")
}

// --- Export jobs ---

func (s *SQLiteStore) CreateExportJob(ctx context.Context, job model.ExportJob) (*model.ExportJob, error) {
	if job.ProjectID == "" || job.RunID == "" {
		return nil, eris.New("sqlite: export job requires project_id and run_id")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_jobs (id, project_id, run_id, status, file_path, last_error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, job.RunID, string(job.Status), job.FilePath, job.LastError,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert export job")
	}
	return &job, nil
}

func (s *SQLiteStore) GetExportJob(ctx context.Context, jobID string) (*model.ExportJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, run_id, status, file_path, last_error, created_at, updated_at, completed_at
		 FROM export_jobs WHERE id = ?`, jobID)
	job, err := scanExportJob(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: export job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get export job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateExportJob(ctx context.Context, jobID string, update JobUpdate) (*model.ExportJob, error) {
	sets, args := jobUpdateClauses(update)
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE export_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update export job %s", jobID)
	}
	if err := checkRowsAffected(res, "export job", jobID); err != nil {
		return nil, err
	}
	return s.GetExportJob(ctx, jobID)
}

func (s *SQLiteStore) ListExportJobs(ctx context.Context, statuses []model.JobStatus) ([]model.ExportJob, error) {
	query := `SELECT id, project_id, run_id, status, file_path, last_error, created_at, updated_at, completed_at
	          FROM export_jobs`
	query, args := appendStatusFilter(query, statuses)
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list export jobs")
	}
	defer rows.Close()

	var jobs []model.ExportJob
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan export job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list export jobs iterate")
}

// --- helpers ---

const selectRunSQL = `SELECT id, project_id, playbook_version, playbook_snapshot, trigger_reason, status,
	needs_review, low_confidence_keys, last_error, created_at, updated_at, completed_at
	FROM screening_runs`

type scannable interface {
	Scan(dest ...any) error
}

func scanPlaybook(row scannable) (*model.Playbook, error) {
	var pb model.Playbook
	var settingsJSON string
	var isActive int
	if err := row.Scan(&pb.ID, &pb.Version, &settingsJSON, &isActive, &pb.CreatedAt); err != nil {
		return nil, err
	}
	settings, err := model.SettingsFromJSON([]byte(settingsJSON))
	if err != nil {
		return nil, err
	}
	pb.Settings = settings
	pb.IsActive = isActive != 0
	return &pb, nil
}

func scanRun(row scannable) (*model.ScreeningRun, error) {
	var run model.ScreeningRun
	var snapshotJSON string
	var keysJSON sql.NullString
	var needsReview int
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.ProjectID, &run.PlaybookVersion, &snapshotJSON, &run.Trigger,
		&run.Status, &needsReview, &keysJSON, &run.LastError, &run.CreatedAt, &run.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	snapshot, err := model.SettingsFromJSON([]byte(snapshotJSON))
	if err != nil {
		return nil, err
	}
	run.PlaybookSnapshot = snapshot
	run.NeedsReview = needsReview != 0
	if keysJSON.Valid && keysJSON.String != "" {
		if err := json.Unmarshal([]byte(keysJSON.String), &run.LowConfidenceKeys); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal low confidence keys")
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

func scanFieldValue(row scannable) (*model.FieldValue, error) {
	var fv model.FieldValue
	var valueNumber, confidence sql.NullFloat64
	var valueJSON, citationsJSON sql.NullString

	err := row.Scan(&fv.ID, &fv.RunID, &fv.FieldKey, &valueNumber, &fv.ValueText, &valueJSON,
		&confidence, &fv.Method, &citationsJSON, &fv.CreatedAt, &fv.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan field value")
	}
	if valueNumber.Valid {
		v := valueNumber.Float64
		fv.ValueNumber = &v
	}
	if confidence.Valid {
		c := confidence.Float64
		fv.Confidence = &c
	}
	if valueJSON.Valid && valueJSON.String != "" {
		fv.ValueJSON = json.RawMessage(valueJSON.String)
	}
	if citationsJSON.Valid && citationsJSON.String != "" {
		if err := json.Unmarshal([]byte(citationsJSON.String), &fv.Citations); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal citations")
		}
	}
	return &fv, nil
}

func scanIngestionJob(row scannable) (*model.IngestionJob, error) {
	var job model.IngestionJob
	var payload sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.ProjectID, &job.Status, &payload, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		job.Payload = json.RawMessage(payload.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func scanExportJob(row scannable) (*model.ExportJob, error) {
	var job model.ExportJob
	var completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.ProjectID, &job.RunID, &job.Status, &job.FilePath, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func jobUpdateClauses(update JobUpdate) ([]string, []any) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *update.LastError)
	}
	if update.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, *update.FilePath)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	return sets, args
}

func appendStatusFilter(query string, statuses []model.JobStatus) (string, []any) {
	if len(statuses) == 0 {
		return query, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return query + ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`, args
}

func marshalStringList(list []string) (any, error) {
	if list == nil {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal string list")
	}
	return string(b), nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
