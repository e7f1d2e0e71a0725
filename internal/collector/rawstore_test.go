package collector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawStoreLayout(t *testing.T) {
	s := NewRawStore("lake")

	assert.Equal(t, filepath.Join("lake", "_raw", "github", "repo_name=ibis", "issues.000003.json"), s.GitHubPage("ibis", "issues", 3))
	assert.Equal(t, filepath.Join("lake", "_raw", "github", "repo_name=*", "forks.*.json"), s.GitHubGlob("forks"))
	assert.Equal(t, filepath.Join("lake", "_raw", "zulip", "members.json"), s.ZulipFile(ZulipMember))
	assert.Equal(t, filepath.Join("lake", "_raw", "docs", "goatcounter.csv.gz"), s.DocsFile())
	assert.Equal(t, filepath.Join("lake", "_raw", "pypi", "ibis-framework", "file_downloads.parquet"), s.PyPIFile("ibis-framework"))
}

func TestRawStoreWriteAndClean(t *testing.T) {
	s := NewRawStore(t.TempDir())

	files, err := s.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, s.WriteJSON(s.GitHubPage("ibis", "forks", 1), []map[string]any{{"name": "fork"}}))
	require.NoError(t, s.WriteFile(s.DocsFile(), strings.NewReader("csv")))

	data, err := os.ReadFile(s.DocsFile())
	require.NoError(t, err)
	assert.Equal(t, "csv", string(data))

	files, err = s.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("docs", "goatcounter.csv.gz"),
		filepath.Join("github", "repo_name=ibis", "forks.000001.json"),
	}, files)

	require.NoError(t, s.Clean())
	_, err = os.Stat(s.Root())
	assert.True(t, os.IsNotExist(err))
}
