package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/blakegallagher1/gpc-cres/internal/db"
	"github.com/blakegallagher1/gpc-cres/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS screening_playbooks (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL UNIQUE,
	settings   JSONB NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS screening_runs (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	playbook_version    INTEGER NOT NULL,
	playbook_snapshot   JSONB NOT NULL,
	trigger_reason      TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	needs_review        BOOLEAN NOT NULL DEFAULT FALSE,
	low_confidence_keys JSONB,
	last_error          TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS field_values (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES screening_runs(id),
	field_key    TEXT NOT NULL,
	value_number DOUBLE PRECISION,
	value_text   TEXT NOT NULL DEFAULT '',
	value_json   JSONB,
	confidence   DOUBLE PRECISION,
	method       TEXT NOT NULL DEFAULT '',
	citations    JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, field_key)
);

CREATE TABLE IF NOT EXISTS screening_overrides (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	project_id   TEXT NOT NULL,
	scope        TEXT NOT NULL,
	field_key    TEXT NOT NULL,
	value_number DOUBLE PRECISION,
	value_text   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS screening_scores (
	run_id     TEXT PRIMARY KEY REFERENCES screening_runs(id),
	breakdown  JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	payload      JSONB,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS export_jobs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	file_path    TEXT NOT NULL DEFAULT '',
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_project_created ON screening_runs(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON screening_runs(status);
CREATE INDEX IF NOT EXISTS idx_field_values_run ON field_values(run_id);
CREATE INDEX IF NOT EXISTS idx_overrides_project_scope ON screening_overrides(project_id, scope);
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_status ON ingestion_jobs(status);
CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	} else {
		s.pool.Close()
	}
	return nil
}

// --- Playbooks ---

const selectPlaybookSQL = `SELECT id, version, settings, is_active, created_at FROM screening_playbooks`

func (s *PostgresStore) GetActivePlaybook(ctx context.Context) (*model.Playbook, error) {
	row := s.pool.QueryRow(ctx, selectPlaybookSQL+` WHERE is_active LIMIT 1`)
	pb, err := scanPgPlaybook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get active playbook")
	}
	return pb, nil
}

func (s *PostgresStore) CreatePlaybookVersion(ctx context.Context, version int, settings model.PlaybookSettings, activate bool) (*model.Playbook, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal playbook settings")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin playbook tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var maxVersion *int
	if err := tx.QueryRow(ctx, `SELECT MAX(version) FROM screening_playbooks`).Scan(&maxVersion); err != nil {
		return nil, eris.Wrap(err, "postgres: query max playbook version")
	}
	current := 0
	if maxVersion != nil {
		current = *maxVersion
	}
	if version <= 0 {
		version = current + 1
	} else if version <= current {
		return nil, eris.Errorf("postgres: playbook version %d is not greater than current %d", version, current)
	}

	pb := &model.Playbook{
		ID:        uuid.New().String(),
		Version:   version,
		Settings:  settings,
		IsActive:  activate,
		CreatedAt: time.Now().UTC(),
	}

	if activate {
		if _, err := tx.Exec(ctx, `UPDATE screening_playbooks SET is_active = FALSE`); err != nil {
			return nil, eris.Wrap(err, "postgres: deactivate playbooks")
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO screening_playbooks (id, version, settings, is_active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		pb.ID, pb.Version, string(settingsJSON), pb.IsActive, pb.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert playbook")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit playbook")
	}
	return pb, nil
}

func (s *PostgresStore) ActivatePlaybook(ctx context.Context, playbookID string) (*model.Playbook, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin activate tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE screening_playbooks SET is_active = FALSE`); err != nil {
		return nil, eris.Wrap(err, "postgres: deactivate playbooks")
	}
	tag, err := tx.Exec(ctx, `UPDATE screening_playbooks SET is_active = TRUE WHERE id = $1`, playbookID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: activate playbook %s", playbookID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Errorf("playbook not found: %s", playbookID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit activate")
	}

	row := s.pool.QueryRow(ctx, selectPlaybookSQL+` WHERE id = $1`, playbookID)
	pb, err := scanPgPlaybook(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: reload playbook")
	}
	return pb, nil
}

func (s *PostgresStore) ListPlaybooks(ctx context.Context) ([]model.Playbook, error) {
	rows, err := s.pool.Query(ctx, selectPlaybookSQL+` ORDER BY version DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list playbooks")
	}
	defer rows.Close()

	var playbooks []model.Playbook
	for rows.Next() {
		pb, err := scanPgPlaybook(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan playbook")
		}
		playbooks = append(playbooks, *pb)
	}
	return playbooks, eris.Wrap(rows.Err(), "postgres: list playbooks iterate")
}

// --- Field values ---

var fieldValueColumns = []string{
	"id", "run_id", "field_key", "value_number", "value_text", "value_json",
	"confidence", "method", "citations", "created_at", "updated_at",
}

func (s *PostgresStore) ListFieldValues(ctx context.Context, runID string) ([]model.FieldValue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, field_key, value_number, value_text, value_json, confidence, method, citations, created_at, updated_at
		 FROM field_values WHERE run_id = $1 ORDER BY field_key`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list field values for run %s", runID)
	}
	defer rows.Close()

	var values []model.FieldValue
	for rows.Next() {
		var fv model.FieldValue
		var valueJSON, citationsJSON []byte
		err := rows.Scan(&fv.ID, &fv.RunID, &fv.FieldKey, &fv.ValueNumber, &fv.ValueText, &valueJSON,
			&fv.Confidence, &fv.Method, &citationsJSON, &fv.CreatedAt, &fv.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan field value")
		}
		if len(valueJSON) > 0 {
			fv.ValueJSON = json.RawMessage(valueJSON)
		}
		if len(citationsJSON) > 0 {
			if err := json.Unmarshal(citationsJSON, &fv.Citations); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal citations")
			}
		}
		values = append(values, fv)
	}
	return values, eris.Wrap(rows.Err(), "postgres: list field values iterate")
}

// UpsertFieldValues bulk-upserts via COPY into a temp table: intake documents
// routinely carry dozens of fields per deal and row-at-a-time inserts showed
// up in ingestion latency.
func (s *PostgresStore) UpsertFieldValues(ctx context.Context, values []model.FieldValue) ([]model.FieldValue, error) {
	if len(values) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	out := make([]model.FieldValue, 0, len(values))
	rows := make([][]any, 0, len(values))
	for _, fv := range values {
		if fv.RunID == "" || fv.FieldKey == "" {
			return nil, eris.New("postgres: field value requires run_id and field_key")
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
				return nil, eris.Wrap(err, "postgres: marshal citations")
			}
			citationsJSON = string(b)
		}
		var valueJSON any
		if len(fv.ValueJSON) > 0 {
			valueJSON = string(fv.ValueJSON)
		}

		rows = append(rows, []any{
			fv.ID, fv.RunID, fv.FieldKey, fv.ValueNumber, fv.ValueText, valueJSON,
			fv.Confidence, fv.Method, citationsJSON, fv.CreatedAt, fv.UpdatedAt,
		})
		out = append(out, fv)
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "field_values",
		Columns:      fieldValueColumns,
		ConflictKeys: []string{"run_id", "field_key"},
		UpdateCols:   []string{"value_number", "value_text", "value_json", "confidence", "method", "citations", "updated_at"},
	}, rows)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Overrides ---

func (s *PostgresStore) ListOverrides(ctx context.Context, projectID string, scope model.OverrideScope) ([]model.Override, error) {
	query := `SELECT seq, id, project_id, scope, field_key, value_number, value_text, created_at
	          FROM screening_overrides WHERE project_id = $1`
	args := []any{projectID}
	if scope != "" {
		query += ` AND scope = $2`
		args = append(args, string(scope))
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list overrides for project %s", projectID)
	}
	defer rows.Close()

	var overrides []model.Override
	for rows.Next() {
		var ov model.Override
		if err := rows.Scan(&ov.Seq, &ov.ID, &ov.ProjectID, &ov.Scope, &ov.FieldKey, &ov.ValueNumber, &ov.ValueText, &ov.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan override")
		}
		overrides = append(overrides, ov)
	}
	return overrides, eris.Wrap(rows.Err(), "postgres: list overrides iterate")
}

func (s *PostgresStore) CreateOverride(ctx context.Context, override model.Override) (*model.Override, error) {
	if override.ProjectID == "" || override.FieldKey == "" {
		return nil, eris.New("postgres: override requires project_id and field_key")
	}
	if override.Scope != model.OverrideScopeField && override.Scope != model.OverrideScopeScore {
		return nil, eris.Errorf("postgres: unknown override scope %q", override.Scope)
	}
	if override.ID == "" {
		override.ID = uuid.New().String()
	}
	if override.CreatedAt.IsZero() {
		override.CreatedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO screening_overrides (id, project_id, scope, field_key, value_number, value_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
		override.ID, override.ProjectID, string(override.Scope), override.FieldKey,
		override.ValueNumber, override.ValueText, override.CreatedAt,
	).Scan(&override.Seq)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert override")
	}
	return &override, nil
}

// --- Runs ---

const selectPgRunSQL = `SELECT id, project_id, playbook_version, playbook_snapshot, trigger_reason, status,
	needs_review, low_confidence_keys, last_error, created_at, updated_at, completed_at
	FROM screening_runs`

func (s *PostgresStore) CreateRun(ctx context.Context, run model.ScreeningRun) (*model.ScreeningRun, error) {
	if run.ProjectID == "" {
		return nil, eris.New("postgres: run requires project_id")
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
		return nil, eris.Wrap(err, "postgres: marshal playbook snapshot")
	}
	keysJSON, err := marshalStringList(run.LowConfidenceKeys)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO screening_runs
			(id, project_id, playbook_version, playbook_snapshot, trigger_reason, status,
			 needs_review, low_confidence_keys, last_error, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.ProjectID, run.PlaybookVersion, string(snapshotJSON), string(run.Trigger),
		string(run.Status), run.NeedsReview, keysJSON, run.LastError,
		run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.ScreeningRun, error) {
	row := s.pool.QueryRow(ctx, selectPgRunSQL+` WHERE id = $1`, runID)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, runID string, update RunUpdate) (*model.ScreeningRun, error) {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		args = append(args, string(*update.Status))
		sets = append(sets, "status = $"+strconv.Itoa(len(args)))
	}
	if update.NeedsReview != nil {
		args = append(args, *update.NeedsReview)
		sets = append(sets, "needs_review = $"+strconv.Itoa(len(args)))
	}
	if update.LowConfidenceKeys != nil {
		keysJSON, err := marshalStringList(update.LowConfidenceKeys)
		if err != nil {
			return nil, err
		}
		args = append(args, keysJSON)
		sets = append(sets, "low_confidence_keys = $"+strconv.Itoa(len(args)))
	}
	if update.LastError != nil {
		args = append(args, *update.LastError)
		sets = append(sets, "last_error = $"+strconv.Itoa(len(args)))
	}
	if update.CompletedAt != nil {
		args = append(args, *update.CompletedAt)
		sets = append(sets, "completed_at = $"+strconv.Itoa(len(args)))
	}
	args = append(args, runID)

	tag, err := s.pool.Exec(ctx,
		`UPDATE screening_runs SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return s.GetRun(ctx, runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScreeningRun, error) {
	query := selectPgRunSQL + ` WHERE TRUE`
	var args []any

	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += ` AND project_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			args = append(args, string(st))
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ScreeningRun
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LatestRun(ctx context.Context, projectID string) (*model.ScreeningRun, error) {
	row := s.pool.QueryRow(ctx,
		selectPgRunSQL+` WHERE project_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, projectID)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest run for project %s", projectID)
	}
	return run, nil
}

func (s *PostgresStore) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT project_id FROM screening_runs ORDER BY project_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list project ids iterate")
}

// --- Scores ---

func (s *PostgresStore) UpsertScore(ctx context.Context, score model.ScoreBreakdown) error {
	if score.RunID == "" {
		return eris.New("postgres: score requires run_id")
	}
	now := time.Now().UTC()
	if score.CreatedAt.IsZero() {
		score.CreatedAt = now
	}
	score.UpdatedAt = now

	breakdownJSON, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score breakdown")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO screening_scores (run_id, breakdown, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET
			breakdown  = EXCLUDED.breakdown,
			updated_at = EXCLUDED.updated_at`,
		score.RunID, string(breakdownJSON), score.CreatedAt, score.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert score for run %s", score.RunID)
}

func (s *PostgresStore) GetScore(ctx context.Context, runID string) (*model.ScoreBreakdown, error) {
	var breakdownJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT breakdown FROM screening_scores WHERE run_id = $1`, runID,
	).Scan(&breakdownJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get score for run %s", runID)
	}

	var score model.ScoreBreakdown
	if err := json.Unmarshal(breakdownJSON, &score); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal score breakdown")
	}
	return &score, nil
}

// --- Ingestion jobs ---

func (s *PostgresStore) CreateIngestionJob(ctx context.Context, job model.IngestionJob) (*model.IngestionJob, error) {
	if job.ProjectID == "" {
		return nil, eris.New("postgres: ingestion job requires project_id")
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_jobs (id, project_id, status, payload, last_error, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.ProjectID, string(job.Status), payload, job.LastError,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert ingestion job")
	}
	return &job, nil
}

func (s *PostgresStore) GetIngestionJob(ctx context.Context, jobID string) (*model.IngestionJob, error) {
	var job model.IngestionJob
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, status, payload, last_error, created_at, updated_at, completed_at
		 FROM ingestion_jobs WHERE id = $1`, jobID,
	).Scan(&job.ID, &job.ProjectID, &job.Status, &payload, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: ingestion job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ingestion job %s", jobID)
	}
	if len(payload) > 0 {
		job.Payload = json.RawMessage(payload)
	}
	return &job, nil
}

func (s *PostgresStore) UpdateIngestionJob(ctx context.Context, jobID string, update JobUpdate) (*model.IngestionJob, error) {
	query, args := pgJobUpdateSQL("ingestion_jobs", jobID, update)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update ingestion job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Errorf("ingestion job not found: %s", jobID)
	}
	return s.GetIngestionJob(ctx, jobID)
}

func (s *PostgresStore) ListIngestionJobs(ctx context.Context, statuses []model.JobStatus) ([]model.IngestionJob, error) {
	query := `SELECT id, project_id, status, payload, last_error, created_at, updated_at, completed_at
	          FROM ingestion_jobs`
	query, args := pgStatusFilter(query, statuses)
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingestion jobs")
	}
	defer rows.Close()

	var jobs []model.IngestionJob
	for rows.Next() {
		var job model.IngestionJob
		var payload []byte
		if err := rows.Scan(&job.ID, &job.ProjectID, &job.Status, &payload, &job.LastError,
			&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingestion job")
		}
		if len(payload) > 0 {
			job.Payload = json.RawMessage(payload)
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list ingestion jobs iterate")
}

// --- Export jobs ---

func (s *PostgresStore) CreateExportJob(ctx context.Context, job model.ExportJob) (*model.ExportJob, error) {
	if job.ProjectID == "" || job.RunID == "" {
		return nil, eris.New("postgres: export job requires project_id and run_id")
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO export_jobs (id, project_id, run_id, status, file_path, last_error, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.ProjectID, job.RunID, string(job.Status), job.FilePath, job.LastError,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert export job")
	}
	return &job, nil
}

func (s *PostgresStore) GetExportJob(ctx context.Context, jobID string) (*model.ExportJob, error) {
	var job model.ExportJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, run_id, status, file_path, last_error, created_at, updated_at, completed_at
		 FROM export_jobs WHERE id = $1`, jobID,
	).Scan(&job.ID, &job.ProjectID, &job.RunID, &job.Status, &job.FilePath, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: export job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get export job %s", jobID)
	}
	return &job, nil
}

func (s *PostgresStore) UpdateExportJob(ctx context.Context, jobID string, update JobUpdate) (*model.ExportJob, error) {
	query, args := pgJobUpdateSQL("export_jobs", jobID, update)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update export job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Errorf("export job not found: %s", jobID)
	}
	return s.GetExportJob(ctx, jobID)
}

func (s *PostgresStore) ListExportJobs(ctx context.Context, statuses []model.JobStatus) ([]model.ExportJob, error) {
	query := `SELECT id, project_id, run_id, status, file_path, last_error, created_at, updated_at, completed_at
	          FROM export_jobs`
	query, args := pgStatusFilter(query, statuses)
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list export jobs")
	}
	defer rows.Close()

	var jobs []model.ExportJob
	for rows.Next() {
		var job model.ExportJob
		if err := rows.Scan(&job.ID, &job.ProjectID, &job.RunID, &job.Status, &job.FilePath, &job.LastError,
			&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan export job")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list export jobs iterate")
}

// --- helpers ---

func scanPgPlaybook(row pgx.Row) (*model.Playbook, error) {
	var pb model.Playbook
	var settingsJSON []byte
	if err := row.Scan(&pb.ID, &pb.Version, &settingsJSON, &pb.IsActive, &pb.CreatedAt); err != nil {
		return nil, err
	}
	settings, err := model.SettingsFromJSON(settingsJSON)
	if err != nil {
		return nil, err
	}
	pb.Settings = settings
	return &pb, nil
}

func scanPgRun(row pgx.Row) (*model.ScreeningRun, error) {
	var run model.ScreeningRun
	var snapshotJSON, keysJSON []byte

	err := row.Scan(&run.ID, &run.ProjectID, &run.PlaybookVersion, &snapshotJSON, &run.Trigger,
		&run.Status, &run.NeedsReview, &keysJSON, &run.LastError, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}

	snapshot, err := model.SettingsFromJSON(snapshotJSON)
	if err != nil {
		return nil, err
	}
	run.PlaybookSnapshot = snapshot
	if len(keysJSON) > 0 {
		if err := json.Unmarshal(keysJSON, &run.LowConfidenceKeys); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal low confidence keys")
		}
	}
	return &run, nil
}

func pgJobUpdateSQL(table, jobID string, update JobUpdate) (string, []any) {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		args = append(args, string(*update.Status))
		sets = append(sets, "status = $"+strconv.Itoa(len(args)))
	}
	if update.LastError != nil {
		args = append(args, *update.LastError)
		sets = append(sets, "last_error = $"+strconv.Itoa(len(args)))
	}
	if update.FilePath != nil && table == "export_jobs" {
		args = append(args, *update.FilePath)
		sets = append(sets, "file_path = $"+strconv.Itoa(len(args)))
	}
	if update.CompletedAt != nil {
		args = append(args, *update.CompletedAt)
		sets = append(sets, "completed_at = $"+strconv.Itoa(len(args)))
	}
	args = append(args, jobID)

	return `UPDATE ` + table + ` SET ` + strings.Join(sets, ", ") + ` WHERE id = $` + strconv.Itoa(len(args)), args
}

func pgStatusFilter(query string, statuses []model.JobStatus) (string, []any) {
	if len(statuses) == 0 {
		return query, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = string(st)
	}
	return query + ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`, args
}
