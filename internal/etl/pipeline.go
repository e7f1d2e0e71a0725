// Package etl extracts raw ingest files into staging tables, transforms
// them with DuckDB SQL and loads the finalized tables into the catalog.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/project-analytics/internal/catalog"
	"github.com/kurihiro0119/project-analytics/internal/collector"
	"github.com/kurihiro0119/project-analytics/internal/domain"
	"github.com/kurihiro0119/project-analytics/internal/storage"
)

// Run kinds recorded in the run log
const (
	KindIngest = "ingest"
	KindETL    = "etl"
)

// Options configures a Pipeline
type Options struct {
	Params Params
	// MirrorDir receives <table>/data.parquet after each load; empty disables
	MirrorDir string
	// Uploader copies mirrored files to object storage; nil keeps them local
	Uploader catalog.Uploader
	Logger   *slog.Logger
}

// Pipeline runs ingest and ETL and records both in the run log
type Pipeline struct {
	catalog   *catalog.Catalog
	raw       *collector.RawStore
	runs      storage.Storage
	params    Params
	mirrorDir string
	uploader  catalog.Uploader
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a pipeline over the catalog and raw store
func NewPipeline(cat *catalog.Catalog, raw *collector.RawStore, runs storage.Storage, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		catalog:   cat,
		raw:       raw,
		runs:      runs,
		params:    opts.Params,
		mirrorDir: opts.MirrorDir,
		uploader:  opts.Uploader,
		logger:    logger,
		now:       time.Now,
	}
}

// Run extracts, transforms and loads every asset fed by sources. A failing
// asset is recorded and skipped; the returned error joins all failures.
func (p *Pipeline) Run(ctx context.Context, sources []domain.Source) (*domain.Run, error) {
	run, err := p.startRun(ctx, KindETL, sources)
	if err != nil {
		return nil, err
	}

	extractedAt := p.now().UTC()
	var errs []error
	for _, a := range AssetsFor(sources) {
		if err := p.runAsset(ctx, run, a, extractedAt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Table, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	return run, p.finishRun(ctx, run, errors.Join(errs...))
}

type assetStage struct {
	stage domain.Stage
	table string
	fn    func() (int64, error)
}

func (p *Pipeline) runAsset(ctx context.Context, run *domain.Run, a Asset, extractedAt time.Time) error {
	stages := []assetStage{
		{domain.StageExtract, a.StagingTable(), func() (int64, error) { return p.Extract(ctx, a, extractedAt) }},
		{domain.StageTransform, a.TransformTable(), func() (int64, error) { return p.Transform(ctx, a) }},
		{domain.StageLoad, string(a.Table), func() (int64, error) { return p.Load(ctx, a) }},
	}
	if p.mirrorDir != "" {
		stages = append(stages, assetStage{domain.StageMirror, string(a.Table), func() (int64, error) { return p.Mirror(ctx, a) }})
	}

	for _, s := range stages {
		start := p.now()
		rows, err := s.fn()
		p.recordStep(ctx, run, s.stage, s.table, rows, start, err)
		if err != nil {
			p.logger.Error("stage failed", "run", run.ID, "stage", s.stage, "table", s.table, "error", err)
			return err
		}
		p.logger.Info("stage completed", "run", run.ID, "stage", s.stage, "table", s.table, "rows", rows)
	}
	return nil
}

// Ingest runs each collector and records one step per source. Failing
// collectors do not stop the others.
func (p *Pipeline) Ingest(ctx context.Context, collectors []collector.Collector) (*domain.Run, error) {
	sources := make([]domain.Source, len(collectors))
	for i, c := range collectors {
		sources[i] = c.Source()
	}
	run, err := p.startRun(ctx, KindIngest, sources)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, c := range collectors {
		start := p.now()
		p.logger.Info("ingesting", "run", run.ID, "source", c.Source())
		files, err := c.Ingest(ctx)
		p.recordStep(ctx, run, domain.StageIngest, string(c.Source()), int64(files), start, err)
		if err != nil {
			p.logger.Error("ingest failed", "run", run.ID, "source", c.Source(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Source(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		p.logger.Info("ingest completed", "run", run.ID, "source", c.Source(), "files", files)
	}

	return run, p.finishRun(ctx, run, errors.Join(errs...))
}

func (p *Pipeline) startRun(ctx context.Context, kind string, sources []domain.Source) (*domain.Run, error) {
	run := &domain.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Sources:   sources,
		Status:    domain.RunStatusInProgress,
		StartedAt: p.now(),
	}
	if err := p.runs.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	p.logger.Info("run started", "run", run.ID, "kind", kind, "sources", sources)
	return run, nil
}

func (p *Pipeline) finishRun(ctx context.Context, run *domain.Run, runErr error) error {
	finished := p.now()
	run.FinishedAt = &finished
	run.Status = domain.RunStatusCompleted
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = runErr.Error()
	}

	// the run outcome is still recorded when ctx was cancelled
	if err := p.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to record run: %w", err))
	}
	p.logger.Info("run finished", "run", run.ID, "status", run.Status, "duration", finished.Sub(run.StartedAt).Round(time.Millisecond))
	return runErr
}

func (p *Pipeline) recordStep(ctx context.Context, run *domain.Run, stage domain.Stage, table string, rows int64, start time.Time, err error) {
	step := &domain.Step{
		RunID:     run.ID,
		Stage:     stage,
		Table:     table,
		Rows:      rows,
		Status:    domain.RunStatusCompleted,
		Duration:  p.now().Sub(start),
		CreatedAt: p.now(),
	}
	if err != nil {
		step.Status = domain.RunStatusFailed
		step.Error = err.Error()
	}
	run.Steps = append(run.Steps, step)
	if err := p.runs.RecordStep(context.WithoutCancel(ctx), step); err != nil {
		p.logger.Warn("failed to record step", "run", run.ID, "stage", stage, "table", table, "error", err)
	}
}

// CleanLake drops every staging, transform and finalized table and removes
// their parquet mirrors. Raw ingest files are kept.
func (p *Pipeline) CleanLake(ctx context.Context) error {
	for _, a := range Assets {
		for _, table := range []string{a.StagingTable(), a.TransformTable(), string(a.Table)} {
			if err := p.catalog.DropTable(ctx, table); err != nil {
				return fmt.Errorf("failed to drop %s: %w", table, err)
			}
		}
		if p.mirrorDir != "" {
			if err := os.RemoveAll(filepath.Join(p.mirrorDir, string(a.Table))); err != nil {
				return err
			}
		}
	}
	p.logger.Info("lake cleaned")
	return nil
}
