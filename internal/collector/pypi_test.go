package collector

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloads map[string][]DownloadRow

func (f fakeDownloads) Downloads(_ context.Context, project string, _ int, fn func(DownloadRow) error) error {
	for _, row := range f[project] {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// copyConverter stands in for the parquet conversion by copying the input
type copyConverter struct{}

func (copyConverter) JSONToParquet(_ context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func TestPyPIIngest(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := fakeDownloads{
		"ibis-framework": {
			{Timestamp: day, CountryCode: "US", Project: "ibis-framework", Version: "8.0.0", Python: "3.11.4", System: "Linux", Downloads: 10},
			{Timestamp: day, CountryCode: "DE", Project: "ibis-framework", Version: "8.0.0", Python: "3.12.1", System: "Darwin", Downloads: 3},
		},
	}
	raw := NewRawStore(t.TempDir())
	c := NewPyPICollector(src, copyConverter{}, raw, []string{"ibis-framework", "ibis-empty"}, 30)

	n, err := c.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(raw.PyPIFile("ibis-framework"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var row DownloadRow
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, "US", row.CountryCode)
	assert.EqualValues(t, 10, row.Downloads)

	_, err = os.Stat(raw.PyPIFile("ibis-empty"))
	assert.True(t, os.IsNotExist(err))
}
