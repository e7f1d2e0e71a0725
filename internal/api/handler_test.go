package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/project-analytics/internal/aggregator"
	"github.com/kurihiro0119/project-analytics/internal/catalog"
	"github.com/kurihiro0119/project-analytics/internal/domain"
	"github.com/kurihiro0119/project-analytics/internal/storage"
	"github.com/kurihiro0119/project-analytics/internal/storage/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	agg    aggregator.Aggregator
	runs   storage.Storage
	hub    *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	_, err = cat.WriteTable(ctx, "gh_stars", `
		SELECT * FROM (VALUES
			('ibis', 'a', 'Acme', TIMESTAMP '2024-01-01 10:00:00'),
			('ibis', 'b', NULL,   TIMESTAMP '2024-01-02 12:00:00'),
			('ibis', 'c', 'Acme', TIMESTAMP '2024-02-03 09:00:00')
		) AS t(repo_name, login, company, starred_at)`)
	require.NoError(t, err)

	runs, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	agg := aggregator.NewAggregator(cat)
	handler := NewHandler(agg, runs, 7)
	handler.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	return &fixture{router: SetupRoutes(handler, hub, nil), agg: agg, runs: runs, hub: hub}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

type envelope[T any] struct {
	Data  T `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealthAndIndex(t *testing.T) {
	f := newFixture(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, f.get(t, "/health", &health))
	assert.Equal(t, "ok", health["status"])

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "plotly")
}

func TestOverviewAndTables(t *testing.T) {
	f := newFixture(t)

	var overview envelope[domain.Overview]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/overview?last=all", &overview))
	require.Len(t, overview.Data.Totals, 1)
	assert.Equal(t, 3.0, overview.Data.Totals[0].Value)

	var tables envelope[[]domain.TableStatus]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/tables", &tables))
	assert.Len(t, tables.Data, len(domain.Tables))
}

func TestTotalWithDates(t *testing.T) {
	f := newFixture(t)

	var total envelope[domain.TableTotal]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/tables/gh_stars/total?start=2024-01-01&end=2024-01-02", &total))
	// end covers the whole day
	assert.Equal(t, 2.0, total.Data.Value)
}

func TestRollingUsesDefaultWindow(t *testing.T) {
	f := newFixture(t)

	var series envelope[domain.TimeSeriesData]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/tables/gh_stars/rolling?start=2024-01-01&end=2024-01-10", &series))
	assert.Equal(t, 7, series.Data.WindowDays)
	require.Len(t, series.Data.DataPoints, 10)
	assert.Equal(t, 2.0, series.Data.DataPoints[6].Value)
	assert.Equal(t, 1.0, series.Data.DataPoints[7].Value)

	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/tables/gh_stars/rolling?days=1&start=2024-01-01&end=2024-01-02", &series))
	assert.Equal(t, 1, series.Data.WindowDays)
}

func TestTruncatedAndSeries(t *testing.T) {
	f := newFixture(t)

	var grouped envelope[domain.GroupedSeriesData]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/tables/gh_stars/truncated?last=all&unit=month&group_by=company", &grouped))
	assert.Equal(t, "month", grouped.Data.Granularity)
	assert.Len(t, grouped.Data.DataPoints, 3)

	var series envelope[domain.TimeSeriesData]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/tables/gh_stars/series?last=all", &series))
	require.Len(t, series.Data.DataPoints, 3)
	assert.Equal(t, 3.0, series.Data.DataPoints[2].Value)
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/v1/tables/nope/total", http.StatusNotFound, "NOT_FOUND"},
		{"/api/v1/tables/gh_forks/total", http.StatusNotFound, "NOT_FOUND"},
		{"/api/v1/overview?last=3w", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/v1/overview?last=3d", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/v1/tables/gh_stars/total?start=01-01-2024", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/v1/tables/gh_stars/total?start=2024-02-01&end=2024-01-01", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/v1/tables/gh_stars/rolling?days=-1", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/v1/tables/gh_stars/truncated?group_by=login", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/v1/tables/gh_stars/truncated?unit=hour", http.StatusBadRequest, "BAD_REQUEST"},
		{"/api/v1/runs/missing", http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var body envelope[any]
			assert.Equal(t, tt.status, f.get(t, tt.path, &body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var empty envelope[[]domain.Run]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/runs", &empty))
	assert.NotNil(t, empty.Data)
	assert.Empty(t, empty.Data)

	run := &domain.Run{ID: uuid.NewString(), Kind: "etl", Sources: domain.AllSources, StartedAt: time.Now()}
	require.NoError(t, f.runs.StartRun(ctx, run))
	require.NoError(t, f.runs.RecordStep(ctx, &domain.Step{RunID: run.ID, Stage: domain.StageLoad, Table: "gh_stars", Rows: 3, Status: domain.RunStatusCompleted}))

	var list envelope[[]domain.Run]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/runs?limit=5", &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, run.ID, list.Data[0].ID)

	var one envelope[domain.Run]
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/runs/"+run.ID, &one))
	require.Len(t, one.Data.Steps, 1)
	assert.EqualValues(t, 3, one.Data.Steps[0].Rows)
}
