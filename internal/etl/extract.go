package etl

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kurihiro0119/project-analytics/internal/catalog"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

// Extract reads the asset's raw files, normalizes column names, stamps
// extracted_at and replaces the staging table with the rows. Staging only
// ever holds the current extraction, so rows the source stopped returning
// drop out of the finalized table. An empty read leaves staging untouched.
func (p *Pipeline) Extract(ctx context.Context, a Asset, extractedAt time.Time) (int64, error) {
	glob := a.Glob(p.raw)
	matches, err := filepath.Glob(glob)
	if err != nil {
		return 0, fmt.Errorf("invalid raw glob %s: %w", glob, err)
	}
	if len(matches) == 0 {
		return 0, apperrors.NewEmptyTableError(a.StagingTable())
	}

	read := a.Read(glob)
	cols, err := p.catalog.Columns(ctx, read)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", glob, err)
	}

	query := extractQuery(read, cols, extractedAt)
	n, err := p.catalog.CountQuery(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", glob, err)
	}
	if n == 0 {
		return 0, apperrors.NewEmptyTableError(a.StagingTable())
	}

	return p.catalog.WriteTable(ctx, a.StagingTable(), query)
}

// extractQuery wraps read so extracted_at comes first and every column is
// snake_case
func extractQuery(read string, cols []string, extractedAt time.Time) string {
	list := make([]string, 0, len(cols)+1)
	list = append(list, fmt.Sprintf("TIMESTAMP %s AS extracted_at", catalog.QuoteLiteral(extractedAt.UTC().Format("2006-01-02 15:04:05.000000"))))
	for _, c := range cols {
		if c == "extracted_at" {
			continue
		}
		list = append(list, catalog.QuoteIdent(c)+" AS "+catalog.QuoteIdent(SnakeCase(c)))
	}
	return "SELECT " + strings.Join(list, ", ") + " FROM (" + read + ")"
}
