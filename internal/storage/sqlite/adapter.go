package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
	"github.com/kurihiro0119/project-analytics/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		sources TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind_status ON runs(kind, status);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_steps (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		stage TEXT NOT NULL,
		table_name TEXT NOT NULL,
		rows INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// StartRun inserts a run in progress
func (s *sqliteStorage) StartRun(ctx context.Context, run *domain.Run) error {
	if run.Status == "" {
		run.Status = domain.RunStatusInProgress
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, sources, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, storage.EncodeSources(run.Sources), run.Status, run.Error, run.StartedAt.UTC())
	return err
}

// FinishRun stores the final status of a run
func (s *sqliteStorage) FinishRun(ctx context.Context, run *domain.Run) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
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
func (s *sqliteStorage) RecordStep(ctx context.Context, step *domain.Step) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, stage, table_name, rows, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, step.RunID, string(step.Stage), step.Table, step.Rows, step.Status, step.Error,
		step.Duration.Milliseconds(), step.CreatedAt.UTC())
	return err
}

// GetRun retrieves a run with its steps
func (s *sqliteStorage) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, sources, status, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	if err != nil {
		return nil, err
	}

	steps, err := s.getSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// ListRuns retrieves the most recent runs, newest first
func (s *sqliteStorage) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, sources, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
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
func (s *sqliteStorage) LastSuccessfulRun(ctx context.Context, kind string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, sources, status, error, started_at, finished_at
		FROM runs WHERE kind = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1
	`, kind, domain.RunStatusCompleted)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("successful %s run", kind))
	}
	return run, err
}

func (s *sqliteStorage) getSteps(ctx context.Context, runID string) ([]*domain.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, stage, table_name, rows, status, error, duration_ms, created_at
		FROM run_steps WHERE run_id = ? ORDER BY created_at, rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*domain.Step
	for rows.Next() {
		var step domain.Step
		var stage string
		var durationMS int64
		if err := rows.Scan(&step.RunID, &stage, &step.Table, &step.Rows, &step.Status, &step.Error, &durationMS, &step.CreatedAt); err != nil {
			return nil, err
		}
		step.Stage = domain.Stage(stage)
		step.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
