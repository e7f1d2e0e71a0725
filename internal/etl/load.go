package etl

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/project-analytics/internal/catalog"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

// Load overwrites the destination table with the transform output
func (p *Pipeline) Load(ctx context.Context, a Asset) (int64, error) {
	table := string(a.Table)
	n, err := p.catalog.WriteTable(ctx, table, "SELECT * FROM "+catalog.QuoteIdent(a.TransformTable()))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperrors.NewEmptyTableError(table)
	}
	return n, nil
}

// Mirror exports the loaded table as parquet under the mirror directory and
// uploads it when an uploader is configured. It runs as its own step so a
// failed upload does not mark the load as failed.
func (p *Pipeline) Mirror(ctx context.Context, a Asset) (int64, error) {
	table := string(a.Table)
	if err := p.catalog.Publish(ctx, []string{table}, p.mirrorDir, p.uploader); err != nil {
		return 0, fmt.Errorf("failed to mirror %s: %w", table, err)
	}
	return 1, nil
}
