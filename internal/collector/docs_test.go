package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

func TestDocsIngestPollsUntilFinished(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer goat", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":7}`))
	})
	mux.HandleFunc("GET /api/v0/export/7", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			w.Write([]byte(`{"id":7,"finished_at":null}`))
			return
		}
		w.Write([]byte(`{"id":7,"finished_at":"2024-01-01T00:00:00Z"}`))
	})
	mux.HandleFunc("GET /api/v0/export/7/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("gzipped-csv"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	raw := NewRawStore(t.TempDir())
	c := NewDocsCollector(srv.URL, "goat", raw, DocsOptions{InitialDelay: -1, PollInterval: time.Millisecond})

	n, err := c.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 3, polls.Load())

	data, err := os.ReadFile(raw.DocsFile())
	require.NoError(t, err)
	assert.Equal(t, "gzipped-csv", string(data))
}

func TestDocsIngestGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"finished_at":null}`))
	}))
	defer srv.Close()

	c := NewDocsCollector(srv.URL, "goat", NewRawStore(t.TempDir()), DocsOptions{InitialDelay: -1, PollInterval: time.Millisecond, MaxPolls: 2})
	_, err := c.Ingest(context.Background())
	assert.ErrorContains(t, err, "did not finish")
}

func TestDocsIngestUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewDocsCollector(srv.URL, "bad", NewRawStore(t.TempDir()), DocsOptions{InitialDelay: -1})
	_, err := c.Ingest(context.Background())
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, appErr.Code)
}
