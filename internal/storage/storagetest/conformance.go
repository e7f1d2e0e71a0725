// Package storagetest holds shared tests for run log adapters.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
	"github.com/kurihiro0119/project-analytics/internal/storage"
)

// RunConformance exercises a Storage implementation against the run log
// contract. Adapter packages call it from their own tests.
func RunConformance(t *testing.T, s storage.Storage) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	older := &domain.Run{ID: uuid.NewString(), Kind: "etl", Sources: []domain.Source{domain.SourceGitHub}, StartedAt: base.Add(-time.Hour)}
	require.NoError(t, s.StartRun(ctx, older))
	assert.Equal(t, domain.RunStatusInProgress, older.Status)

	older.Status = domain.RunStatusCompleted
	require.NoError(t, s.FinishRun(ctx, older))

	newer := &domain.Run{ID: uuid.NewString(), Kind: "etl", Sources: []domain.Source{domain.SourcePyPI, domain.SourceDocs}, StartedAt: base}
	require.NoError(t, s.StartRun(ctx, newer))
	require.NoError(t, s.RecordStep(ctx, &domain.Step{RunID: newer.ID, Stage: domain.StageExtract, Table: "pypi_downloads", Rows: 42, Status: domain.RunStatusCompleted, Duration: 1500 * time.Millisecond}))
	require.NoError(t, s.RecordStep(ctx, &domain.Step{RunID: newer.ID, Stage: domain.StageTransform, Table: "pypi_downloads", Status: domain.RunStatusFailed, Error: "boom"}))
	newer.Status = domain.RunStatusFailed
	newer.Error = "boom"
	require.NoError(t, s.FinishRun(ctx, newer))

	got, err := s.GetRun(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Source{domain.SourcePyPI, domain.SourceDocs}, got.Sources)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	require.NotNil(t, got.FinishedAt)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, domain.StageExtract, got.Steps[0].Stage)
	assert.EqualValues(t, 42, got.Steps[0].Rows)
	assert.Equal(t, 1500*time.Millisecond, got.Steps[0].Duration)
	assert.Equal(t, "boom", got.Steps[1].Error)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(runs), 2)
	assert.Equal(t, newer.ID, runs[0].ID)

	last, err := s.LastSuccessfulRun(ctx, "etl")
	require.NoError(t, err)
	assert.Equal(t, older.ID, last.ID)

	_, err = s.LastSuccessfulRun(ctx, "ingest")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	err = s.FinishRun(ctx, &domain.Run{ID: "missing", Status: domain.RunStatusCompleted})
	assert.True(t, apperrors.IsNotFound(err))
}
