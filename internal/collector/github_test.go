package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGitHub struct {
	mu       sync.Mutex
	requests int
	fail     map[string]bool
}

func queryName(q string) string {
	for _, name := range []string{"pullRequests", "issues", "stargazers", "watchers", "forks", "history"} {
		if strings.Contains(q, name+"(") {
			if name == "history" {
				return "commits"
			}
			return name
		}
	}
	return ""
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"resources":{"graphql":{"limit":5000,"remaining":4000,"reset":%d}}}`, time.Now().Add(time.Hour).Unix())
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		f.mu.Unlock()

		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		name := queryName(req.Query)
		w.Header().Set("X-RateLimit-Remaining", "3999")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
		if f.fail[name] {
			fmt.Fprint(w, `{"data":null,"errors":[{"message":"boom"}]}`)
			return
		}

		hasNext := name == "issues" && req.Variables["cursor"] == nil
		conn := fmt.Sprintf(`{"edges":[{"node":{"number":%d}}],"pageInfo":{"endCursor":"c1","hasNextPage":%t}}`, len(f.fail), hasNext)
		if name == "commits" {
			fmt.Fprintf(w, `{"data":{"repository":{"defaultBranchRef":{"target":{"history":%s}}}}}`, conn)
			return
		}
		fmt.Fprintf(w, `{"data":{"repository":{"%s":%s}}}`, name, conn)
	})
	return mux
}

func newTestGitHub(t *testing.T, f *fakeGitHub, repos []string) (Collector, *RawStore) {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	raw := NewRawStore(t.TempDir())
	c, err := NewGitHubCollector("secret", repos, raw, GitHubOptions{
		GraphQLURL: srv.URL + "/graphql",
		RESTURL:    srv.URL + "/api/",
		MinDelay:   time.Millisecond,
	})
	require.NoError(t, err)
	return c, raw
}

func TestGitHubIngestWritesPages(t *testing.T) {
	f := &fakeGitHub{}
	c, raw := newTestGitHub(t, f, []string{"ibis-project/ibis"})

	pages, err := c.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(GitHubQueries)+1, pages)
	assert.Equal(t, len(GitHubQueries)+1, f.requests)

	for _, name := range []string{"issues.000001", "issues.000002", "commits.000001", "stargazers.000001"} {
		path := filepath.Join(raw.Root(), "github", "repo_name=ibis", name+".json")
		data, err := os.ReadFile(path)
		require.NoError(t, err, name)

		var edges []map[string]any
		require.NoError(t, json.Unmarshal(data, &edges))
		assert.Len(t, edges, 1)
	}
}

func TestGitHubIngestSkipsFailedQueries(t *testing.T) {
	f := &fakeGitHub{fail: map[string]bool{"watchers": true}}
	c, raw := newTestGitHub(t, f, []string{"ibis-project/ibis"})

	pages, err := c.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(GitHubQueries), pages)

	_, err = os.Stat(raw.GitHubPage("ibis", "watchers", 1))
	assert.True(t, os.IsNotExist(err))
}

func TestGitHubIngestFailsWhenEverythingFails(t *testing.T) {
	fail := map[string]bool{}
	for _, q := range GitHubQueries {
		fail[q.Name] = true
	}
	c, _ := newTestGitHub(t, &fakeGitHub{fail: fail}, []string{"ibis-project/ibis"})

	_, err := c.Ingest(context.Background())
	assert.Error(t, err)
}

func TestGitHubRejectsBadRepo(t *testing.T) {
	_, err := NewGitHubCollector("secret", []string{"no-owner"}, NewRawStore(t.TempDir()), GitHubOptions{})
	assert.Error(t, err)
}

func TestExtractConnectionMissingPath(t *testing.T) {
	_, err := extractConnection(json.RawMessage(`{"repository":null}`), []string{"repository", "issues"})
	assert.Error(t, err)
}
