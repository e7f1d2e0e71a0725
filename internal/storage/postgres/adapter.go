package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
	"github.com/kurihiro0119/project-analytics/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR(64) PRIMARY KEY,
		kind VARCHAR(32) NOT NULL,
		sources TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind_status ON runs(kind, status);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_steps (
		id BIGSERIAL PRIMARY KEY,
		run_id VARCHAR(64) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		stage VARCHAR(32) NOT NULL,
		table_name VARCHAR(128) NOT NULL,
		rows BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// StartRun inserts a run in progress
func (s *postgresStorage) StartRun(ctx context.Context, run *domain.Run) error {
	if run.Status == "" {
		run.Status = domain.RunStatusInProgress
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, sources, status, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.Kind, storage.EncodeSources(run.Sources), run.Status, run.Error, run.StartedAt)
	return err
}

// FinishRun stores the final status of a run
func (s *postgresStorage) FinishRun(ctx context.Context, run *domain.Run) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4
	`, run.Status, run.Error, finished, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NewNotFoundError("run " + run.ID)
	}
	return nil
}

// RecordStep appends a step to a run
func (s *postgresStorage) RecordStep(ctx context.Context, step *domain.Step) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, stage, table_name, rows, status, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, step.RunID, string(step.Stage), step.Table, step.Rows, step.Status, step.Error,
		step.Duration.Milliseconds(), step.CreatedAt)
	return err
}

// GetRun retrieves a run with its steps
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, sources, status, error, started_at, finished_at
		FROM runs WHERE id = $1
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, stage, table_name, rows, status, error, duration_ms, created_at
		FROM run_steps WHERE run_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var step domain.Step
		var stage string
		var durationMS int64
		if err := rows.Scan(&step.RunID, &stage, &step.Table, &step.Rows, &step.Status, &step.Error, &durationMS, &step.CreatedAt); err != nil {
			return nil, err
		}
		step.Stage = domain.Stage(stage)
		step.Duration = time.Duration(durationMS) * time.Millisecond
		run.Steps = append(run.Steps, &step)
	}
	return run, rows.Err()
}

// ListRuns retrieves the most recent runs, newest first
func (s *postgresStorage) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, sources, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastSuccessfulRun retrieves the newest completed run of a kind
func (s *postgresStorage) LastSuccessfulRun(ctx context.Context, kind string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, sources, status, error, started_at, finished_at
		FROM runs WHERE kind = $1 AND status = $2
		ORDER BY started_at DESC LIMIT 1
	`, kind, domain.RunStatusCompleted)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("successful %s run", kind))
	}
	return run, err
}

func scanRun(row interface{ Scan(...any) error }) (*domain.Run, error) {
	var run domain.Run
	var sources string
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Kind, &sources, &run.Status, &run.Error, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.Sources = storage.DecodeSources(sources)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
