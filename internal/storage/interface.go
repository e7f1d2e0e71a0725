package storage

import (
	"context"

	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// Storage is the abstract interface for the run log. It records every
// ingest and ETL run and the per-table steps inside it.
type Storage interface {
	// Run operations
	StartRun(ctx context.Context, run *domain.Run) error
	FinishRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	LastSuccessfulRun(ctx context.Context, kind string) (*domain.Run, error)

	// Step operations
	RecordStep(ctx context.Context, step *domain.Step) error

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
