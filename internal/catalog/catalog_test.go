package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWriteTableOverwrites(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	n, err := c.WriteTable(ctx, "numbers", "SELECT range AS n FROM range(5)")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = c.WriteTable(ctx, "numbers", "SELECT range AS n FROM range(2)")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	cols, err := c.Columns(ctx, "SELECT * FROM numbers")
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, cols)
}

func TestListAndDropTables(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	for _, name := range []string{"extract_a", "extract_b", "gh_stars"} {
		_, err := c.WriteTable(ctx, name, "SELECT 1 AS x")
		require.NoError(t, err)
	}

	tables, err := c.ListTables(ctx, "extract_")
	require.NoError(t, err)
	assert.Equal(t, []string{"extract_a", "extract_b"}, tables)

	require.NoError(t, c.DropTable(ctx, "extract_a"))
	ok, err := c.HasTable(ctx, "extract_a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Count(ctx, "extract_a")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	_, err := c.WriteTable(ctx, "x; DROP TABLE y", "SELECT 1")
	assert.True(t, apperrors.IsBadRequest(err))
	assert.True(t, apperrors.IsBadRequest(c.DropTable(ctx, "a-b")))

	assert.True(t, ValidIdent("gh_stars"))
	assert.False(t, ValidIdent("1abc"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
	assert.Equal(t, `'it''s'`, QuoteLiteral("it's"))
}

type fakeUploader struct {
	objects []string
}

func (f *fakeUploader) Upload(_ context.Context, localPath, object string) error {
	if filepath.Base(localPath) != "data.parquet" {
		return fmt.Errorf("unexpected file %s", localPath)
	}
	f.objects = append(f.objects, object)
	return nil
}

func TestPublishExportsParquet(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	dir := t.TempDir()

	_, err := c.WriteTable(ctx, "docs", "SELECT range AS id FROM range(3)")
	require.NoError(t, err)

	up := &fakeUploader{}
	require.NoError(t, c.Publish(ctx, []string{"docs"}, dir, up))
	assert.Equal(t, []string{"docs/data.parquet"}, up.objects)

	path := filepath.Join(dir, "docs", "data.parquet")
	n, err := c.CountQuery(ctx, "SELECT * FROM read_parquet("+QuoteLiteral(path)+")")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestJSONToParquet(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "rows.jsonl")
	require.NoError(t, os.WriteFile(src, []byte("{\"a\":1,\"b\":\"x\"}\n{\"a\":2,\"b\":\"y\"}\n"), 0o644))

	dst := filepath.Join(dir, "out", "rows.parquet")
	require.NoError(t, c.JSONToParquet(ctx, src, dst))

	n, err := c.CountQuery(ctx, "SELECT * FROM read_parquet("+QuoteLiteral(dst)+")")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
