package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*Client, *[]string) {
	t.Helper()
	var queries []string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/v1/overview", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Write([]byte(`{"data":{"totals":[{"table":"gh_stars","title":"Stars","value":12}],"total_days":28}}`))
	})
	mux.HandleFunc("GET /api/v1/tables/{table}/rolling", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Write([]byte(`{"data":{"table":"` + r.PathValue("table") + `","kind":"rolling","window_days":7,"data_points":[{"timestamp":"2024-01-01T00:00:00Z","value":3}]}}`))
	})
	mux.HandleFunc("GET /api/v1/tables/{table}/truncated", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Write([]byte(`{"data":{"table":"gh_issues","granularity":"month","group_by":"state","data_points":[{"timestamp":"2024-01-01T00:00:00Z","group":"open","value":2}]}}`))
	})
	mux.HandleFunc("GET /api/v1/tables/{table}/total", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"table nope not found"}}`))
	})
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Write([]byte(`{"data":[{"id":"r1","kind":"etl","sources":["gh"],"status":"completed","started_at":"2024-01-01T00:00:00Z"}]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/"), &queries
}

func TestClientReads(t *testing.T) {
	ctx := context.Background()
	c, queries := newServer(t)

	require.NoError(t, c.HealthCheck(ctx))

	overview, err := c.GetOverview(ctx, Range{Last: "28d"})
	require.NoError(t, err)
	require.Len(t, overview.Totals, 1)
	assert.Equal(t, 12.0, overview.Totals[0].Value)

	series, err := c.GetRolling(ctx, "gh_stars", 7, Range{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "gh_stars", string(series.Table))
	assert.Equal(t, 7, series.WindowDays)
	require.Len(t, series.DataPoints, 1)

	grouped, err := c.GetTruncated(ctx, "gh_issues", "month", "state", Range{Last: "all"})
	require.NoError(t, err)
	assert.Equal(t, "open", grouped.DataPoints[0].Group)

	runs, err := c.GetRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)

	assert.Equal(t, []string{
		"last=28d",
		"days=7&end=2024-01-31&start=2024-01-01",
		"group_by=state&last=all&unit=month",
		"limit=5",
	}, *queries)
}

func TestClientErrors(t *testing.T) {
	c, _ := newServer(t)

	_, err := c.GetTotal(context.Background(), "nope", Range{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "table nope not found", apiErr.Message)
}
