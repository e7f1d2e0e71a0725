// Package app wires configuration into the catalog, run log and pipeline
// shared by the CLI and the API server.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/kurihiro0119/project-analytics/internal/aggregator"
	"github.com/kurihiro0119/project-analytics/internal/backup"
	"github.com/kurihiro0119/project-analytics/internal/catalog"
	"github.com/kurihiro0119/project-analytics/internal/collector"
	"github.com/kurihiro0119/project-analytics/internal/config"
	"github.com/kurihiro0119/project-analytics/internal/domain"
	"github.com/kurihiro0119/project-analytics/internal/etl"
	"github.com/kurihiro0119/project-analytics/internal/storage"
	"github.com/kurihiro0119/project-analytics/internal/storage/postgres"
	"github.com/kurihiro0119/project-analytics/internal/storage/sqlite"
)

// MirrorDir holds the parquet copies of finalized tables under the lake
const MirrorDir = "tables"

// App holds the long-lived resources of one process
type App struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Runs     storage.Storage
	Raw      *collector.RawStore
	Pipeline *etl.Pipeline
	Logger   *slog.Logger

	uploader catalog.Uploader
	closers  []io.Closer
}

// GetStorage opens the configured run log
func GetStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// Open validates cfg and opens the catalog, run log and optional GCS
// mirror
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Raw: collector.NewRawStore(cfg.DataDir)}

	cat, err := catalog.Open(cfg.DuckDBPath)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat
	a.closers = append(a.closers, cat)

	runs, err := GetStorage(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Runs = runs
	a.closers = append(a.closers, runs)

	if cfg.GCSBucket != "" {
		mirror, err := catalog.NewGCSMirror(ctx, cfg.GCSBucket, "")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.uploader = mirror
		a.closers = append(a.closers, mirror)
	}

	a.Pipeline = etl.NewPipeline(cat, a.Raw, runs, etl.Options{
		Params: etl.Params{
			ExcludedStreams: cfg.Project.ExcludedStreams,
			BotLogins:       cfg.Project.BotLogins,
		},
		MirrorDir: filepath.Join(cfg.DataDir, MirrorDir),
		Uploader:  a.uploader,
		Logger:    logger,
	})
	return a, nil
}

// Aggregator returns a metrics reader over the catalog
func (a *App) Aggregator() aggregator.Aggregator {
	return aggregator.NewAggregator(a.Catalog)
}

// Backup returns a snapshot writer for the lake
func (a *App) Backup() *backup.Backup {
	return backup.New(a.Raw, a.Catalog, a.Config.DataDir, a.uploader, a.Logger)
}

// Collectors builds a collector for each source. Missing credentials fail
// before anything is fetched.
func (a *App) Collectors(ctx context.Context, sources []domain.Source) ([]collector.Collector, error) {
	cfg := a.Config
	var out []collector.Collector
	for _, src := range sources {
		switch src {
		case domain.SourceGitHub:
			if err := cfg.ValidateGitHub(); err != nil {
				return nil, err
			}
			c, err := collector.NewGitHubCollector(cfg.GitHubToken, cfg.Project.Repos, a.Raw, collector.GitHubOptions{})
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		case domain.SourceZulip:
			if err := cfg.ValidateZulip(); err != nil {
				return nil, err
			}
			out = append(out, collector.NewZulipCollector(cfg.Project.ZulipURL, cfg.ZulipEmail, cfg.ZulipKey, a.Raw))
		case domain.SourceDocs:
			if err := cfg.ValidateDocs(); err != nil {
				return nil, err
			}
			out = append(out, collector.NewDocsCollector(cfg.Project.DocsURL, cfg.GoatToken, a.Raw, collector.DocsOptions{}))
		case domain.SourcePyPI:
			if err := cfg.ValidatePyPI(); err != nil {
				return nil, err
			}
			bq, err := collector.NewBigQueryDownloads(ctx, cfg.BQProjectID)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, bq)
			out = append(out, collector.NewPyPICollector(bq, a.Catalog, a.Raw, cfg.Project.Packages, cfg.Project.BackfillDays))
		default:
			return nil, fmt.Errorf("unknown source %q", src)
		}
	}
	return out, nil
}

// Close releases resources in reverse order of opening
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
