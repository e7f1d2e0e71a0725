package etl

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

// Params are project settings the transforms depend on
type Params struct {
	ExcludedStreams []int64
	BotLogins       []string
}

type transformData struct {
	Params
	Input string
}

var funcs = template.FuncMap{
	"strings": sqlStrings,
	"ints":    sqlInts,
}

// TransformQuery renders the asset's transform over its deduplicated
// staging rows
func TransformQuery(a Asset, params Params) (string, error) {
	tmpl, err := template.New(string(a.Table)).Funcs(funcs).Parse(a.Transform)
	if err != nil {
		return "", fmt.Errorf("failed to parse transform for %s: %w", a.Table, err)
	}
	var body bytes.Buffer
	if err := tmpl.Execute(&body, transformData{Params: params, Input: "deduped"}); err != nil {
		return "", fmt.Errorf("failed to render transform for %s: %w", a.Table, err)
	}

	dedup := fmt.Sprintf(
		"SELECT * FROM %s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY extracted_at DESC) = 1",
		a.StagingTable(), strings.Join(a.Key, ", "),
	)
	return "WITH deduped AS (" + dedup + ")" + body.String(), nil
}

// Transform deduplicates the staging table on the natural key and
// materializes the asset's transform
func (p *Pipeline) Transform(ctx context.Context, a Asset) (int64, error) {
	query, err := TransformQuery(a, p.params)
	if err != nil {
		return 0, err
	}
	n, err := p.catalog.WriteTable(ctx, a.TransformTable(), query)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperrors.NewEmptyTableError(a.TransformTable())
	}
	return n, nil
}
