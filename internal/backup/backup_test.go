package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/project-analytics/internal/catalog"
	"github.com/kurihiro0119/project-analytics/internal/collector"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

type recordingUploader struct {
	objects []string
}

func (r *recordingUploader) Upload(_ context.Context, _, object string) error {
	r.objects = append(r.objects, object)
	return nil
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	lake := t.TempDir()
	raw := collector.NewRawStore(lake)

	payload := strings.Repeat(`{"login":"octocat"}`, 200)
	require.NoError(t, raw.WriteJSON(raw.GitHubPage("ibis", "stargazers", 1), map[string]string{"body": payload}))
	require.NoError(t, raw.WriteJSON(raw.ZulipFile(collector.ZulipMember), []string{"a", "b"}))

	cat, err := catalog.Open("")
	require.NoError(t, err)
	defer cat.Close()
	_, err = cat.WriteTable(ctx, "gh_stars", "SELECT 'a' AS login")
	require.NoError(t, err)

	up := &recordingUploader{}
	b := New(raw, cat, lake, up, nil)
	b.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	res, err := b.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(lake, Dir, "20240501T120000Z"), res.Dir)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, []string{"gh_stars"}, res.Tables)
	assert.Positive(t, res.Bytes)
	assert.Contains(t, up.objects, "backup/20240501T120000Z/_raw/zulip/members.json.sz")
	assert.Contains(t, up.objects, "backup/20240501T120000Z/tables/gh_stars/data.parquet")

	snapshots, err := b.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"20240501T120000Z"}, snapshots)

	original, err := os.ReadFile(raw.ZulipFile(collector.ZulipMember))
	require.NoError(t, err)
	require.NoError(t, raw.Clean())

	n, err := b.Restore("20240501T120000Z")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	restored, err := os.ReadFile(raw.ZulipFile(collector.ZulipMember))
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestBackupEmptyLake(t *testing.T) {
	lake := t.TempDir()
	b := New(collector.NewRawStore(lake), nil, lake, nil, nil)

	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Files)
	assert.Empty(t, res.Tables)

	_, err = b.Restore("missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRestoreRejectsUnknownSnapshots(t *testing.T) {
	ctx := context.Background()
	lake := t.TempDir()
	raw := collector.NewRawStore(lake)
	require.NoError(t, raw.WriteJSON(raw.ZulipFile(collector.ZulipMember), []string{"a"}))

	b := New(raw, nil, lake, nil, nil)
	_, err := b.Run(ctx)
	require.NoError(t, err)

	for _, name := range []string{"..", "../..", "../_raw", "", "20240501T120000Z/../.."} {
		n, err := b.Restore(name)
		assert.True(t, apperrors.IsNotFound(err), name)
		assert.Zero(t, n, name)
	}
}
