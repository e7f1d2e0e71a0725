package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// Client is the API client for the project-analytics dashboard
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Range selects the time range of a request. Last ("28d", "all") takes
// precedence over Start/End.
type Range struct {
	Last  string
	Start time.Time
	End   time.Time
}

// APIError is returned for non-2xx responses
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d %s: %s", e.Status, e.Code, e.Message)
}

// GetOverview retrieves the value boxes
func (c *Client) GetOverview(ctx context.Context, r Range) (*domain.Overview, error) {
	var response struct {
		Data *domain.Overview `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/overview", r.params(), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetTables retrieves the load status of every table
func (c *Client) GetTables(ctx context.Context) ([]domain.TableStatus, error) {
	var response struct {
		Data []domain.TableStatus `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/tables", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetTotal retrieves one table's aggregate over the range
func (c *Client) GetTotal(ctx context.Context, table string, r Range) (*domain.TableTotal, error) {
	var response struct {
		Data *domain.TableTotal `json:"data"`
	}
	if err := c.get(ctx, tablePath(table, "total"), r.params(), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRolling retrieves a trailing-window series. days <= 0 uses the
// server default.
func (c *Client) GetRolling(ctx context.Context, table string, days int, r Range) (*domain.TimeSeriesData, error) {
	params := r.params()
	if days > 0 {
		params.Set("days", strconv.Itoa(days))
	}
	var response struct {
		Data *domain.TimeSeriesData `json:"data"`
	}
	if err := c.get(ctx, tablePath(table, "rolling"), params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetTruncated retrieves counts per period, split by groupBy when set
func (c *Client) GetTruncated(ctx context.Context, table, unit, groupBy string, r Range) (*domain.GroupedSeriesData, error) {
	params := r.params()
	if unit != "" {
		params.Set("unit", unit)
	}
	if groupBy != "" {
		params.Set("group_by", groupBy)
	}
	var response struct {
		Data *domain.GroupedSeriesData `json:"data"`
	}
	if err := c.get(ctx, tablePath(table, "truncated"), params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSeries retrieves the running total
func (c *Client) GetSeries(ctx context.Context, table string, r Range) (*domain.TimeSeriesData, error) {
	var response struct {
		Data *domain.TimeSeriesData `json:"data"`
	}
	if err := c.get(ctx, tablePath(table, "series"), r.params(), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRuns retrieves recent pipeline runs
func (c *Client) GetRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var response struct {
		Data []*domain.Run `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/runs", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun retrieves one run with its steps
func (c *Client) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var response struct {
		Data *domain.Run `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func tablePath(table, kind string) string {
	return "/api/v1/tables/" + url.PathEscape(table) + "/" + kind
}

func (r Range) params() url.Values {
	params := url.Values{}
	if r.Last != "" {
		params.Set("last", r.Last)
		return params
	}
	if !r.Start.IsZero() {
		params.Set("start", r.Start.Format("2006-01-02"))
	}
	if !r.End.IsZero() {
		params.Set("end", r.End.Format("2006-01-02"))
	}
	return params
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
