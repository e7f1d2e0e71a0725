package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// PyPIDataset is the public BigQuery table of PyPI file downloads
const PyPIDataset = "bigquery-public-data.pypi.file_downloads"

// DownloadRow is one day of downloads for a version/platform combination
type DownloadRow struct {
	Timestamp   time.Time `json:"timestamp"`
	CountryCode string    `json:"country_code"`
	Project     string    `json:"project"`
	Version     string    `json:"version"`
	Python      string    `json:"python"`
	System      string    `json:"system"`
	Downloads   int64     `json:"downloads"`
}

// DownloadsSource streams download rows for a package
type DownloadsSource interface {
	Downloads(ctx context.Context, project string, backfillDays int, fn func(DownloadRow) error) error
}

// ParquetConverter rewrites a newline-delimited JSON file as parquet
type ParquetConverter interface {
	JSONToParquet(ctx context.Context, src, dst string) error
}

// pypiCollector writes per-package download files
type pypiCollector struct {
	source    DownloadsSource
	converter ParquetConverter
	raw       *RawStore
	packages  []string
	backfill  int
}

// NewPyPICollector creates a collector over packages
func NewPyPICollector(source DownloadsSource, converter ParquetConverter, raw *RawStore, packages []string, backfillDays int) Collector {
	return &pypiCollector{
		source:    source,
		converter: converter,
		raw:       raw,
		packages:  packages,
		backfill:  backfillDays,
	}
}

func (c *pypiCollector) Source() domain.Source {
	return domain.SourcePyPI
}

func (c *pypiCollector) Ingest(ctx context.Context) (int, error) {
	written := 0
	for _, pkg := range c.packages {
		ok, err := c.ingestPackage(ctx, pkg)
		if err != nil {
			return written, fmt.Errorf("failed to ingest %s: %w", pkg, err)
		}
		if ok {
			written++
		}
	}
	return written, nil
}

func (c *pypiCollector) ingestPackage(ctx context.Context, pkg string) (bool, error) {
	dst := c.raw.PyPIFile(pkg)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "downloads-*.jsonl")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	rows := 0
	err = c.source.Downloads(ctx, pkg, c.backfill, func(row DownloadRow) error {
		rows++
		return enc.Encode(row)
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, err
	}

	if rows == 0 {
		slog.Warn("no downloads returned", "package", pkg)
		return false, nil
	}
	if err := c.converter.JSONToParquet(ctx, tmp.Name(), dst); err != nil {
		return false, err
	}
	slog.Info("wrote pypi downloads", "package", pkg, "rows", rows, "path", dst)
	return true, nil
}

// BigQueryDownloads reads downloads from the public PyPI dataset
type BigQueryDownloads struct {
	client *bigquery.Client
}

// NewBigQueryDownloads creates a client billed to projectID
func NewBigQueryDownloads(ctx context.Context, projectID string, opts ...option.ClientOption) (*BigQueryDownloads, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	return &BigQueryDownloads{client: client}, nil
}

// Close releases the BigQuery client
func (b *BigQueryDownloads) Close() error {
	return b.client.Close()
}

const downloadsQuery = `
SELECT
  TIMESTAMP_TRUNC(timestamp, DAY) AS day,
  country_code,
  file.project AS project,
  file.version AS version,
  details.python AS python,
  details.system.name AS system,
  COUNT(*) AS downloads
FROM ` + "`" + PyPIDataset + "`" + `
WHERE file.project = @project
  AND DATE(timestamp) BETWEEN DATE_SUB(CURRENT_DATE(), INTERVAL @backfill DAY) AND CURRENT_DATE()
GROUP BY day, country_code, project, version, python, system`

type bqDownloadRow struct {
	Day         time.Time           `bigquery:"day"`
	CountryCode bigquery.NullString `bigquery:"country_code"`
	Project     string              `bigquery:"project"`
	Version     string              `bigquery:"version"`
	Python      bigquery.NullString `bigquery:"python"`
	System      bigquery.NullString `bigquery:"system"`
	Downloads   int64               `bigquery:"downloads"`
}

// Downloads runs the daily downloads query for project
func (b *BigQueryDownloads) Downloads(ctx context.Context, project string, backfillDays int, fn func(DownloadRow) error) error {
	q := b.client.Query(downloadsQuery)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "project", Value: project},
		{Name: "backfill", Value: int64(backfillDays)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to query downloads: %w", err)
	}
	for {
		var row bqDownloadRow
		err := it.Next(&row)
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read downloads: %w", err)
		}
		if err := fn(DownloadRow{
			Timestamp:   row.Day,
			CountryCode: row.CountryCode.StringVal,
			Project:     row.Project,
			Version:     row.Version,
			Python:      row.Python.StringVal,
			System:      row.System.StringVal,
			Downloads:   row.Downloads,
		}); err != nil {
			return err
		}
	}
}
