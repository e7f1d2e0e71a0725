package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/project-analytics/internal/config"
	"github.com/kurihiro0119/project-analytics/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:         dir,
		DuckDBPath:      filepath.Join(dir, "catalog.ddb"),
		StorageType:     "sqlite",
		SQLitePath:      filepath.Join(dir, "runs.db"),
		RefreshInterval: time.Minute,
		Project:         config.DefaultProject(),
	}
}

func TestOpenAndClose(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), nil)
	require.NoError(t, err)

	run, err := a.Pipeline.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	tables, err := a.Aggregator().Tables(ctx)
	require.NoError(t, err)
	for _, tbl := range tables {
		assert.False(t, tbl.Loaded)
	}

	require.NoError(t, a.Close())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageType = "mysql"

	_, err := Open(context.Background(), cfg, nil)
	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCollectorsRequireCredentials(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Collectors(ctx, []domain.Source{domain.SourceGitHub})
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "GITHUB_TOKEN", cfgErr.Field)

	cfg.GitHubToken = "token"
	cfg.ZulipKey = "key"
	cfg.ZulipEmail = "bot@example.com"
	cfg.GoatToken = "goat"
	collectors, err := a.Collectors(ctx, []domain.Source{domain.SourceGitHub, domain.SourceZulip, domain.SourceDocs})
	require.NoError(t, err)
	require.Len(t, collectors, 3)
	assert.Equal(t, domain.SourceDocs, collectors[2].Source())
}
