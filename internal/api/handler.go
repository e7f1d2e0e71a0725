package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/project-analytics/internal/aggregator"
	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
	"github.com/kurihiro0119/project-analytics/internal/storage"
)

// Handler handles API requests
type Handler struct {
	aggregator  aggregator.Aggregator
	runs        storage.Storage
	rollingDays int
	defaultLast string
	now         func() time.Time
}

// NewHandler creates a new API handler. rollingDays is the default window
// for rolling series.
func NewHandler(agg aggregator.Aggregator, runs storage.Storage, rollingDays int) *Handler {
	if rollingDays <= 0 {
		rollingDays = 28
	}
	return &Handler{
		aggregator:  agg,
		runs:        runs,
		rollingDays: rollingDays,
		defaultLast: "365d",
		now:         time.Now,
	}
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// GetOverview returns the value boxes
// GET /api/v1/overview
func (h *Handler) GetOverview(c *gin.Context) {
	timeRange, err := h.parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	overview, err := h.aggregator.Overview(c.Request.Context(), timeRange)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": overview,
	})
}

// GetTables lists finalized tables and whether they are loaded
// GET /api/v1/tables
func (h *Handler) GetTables(c *gin.Context) {
	tables, err := h.aggregator.Tables(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": tables,
	})
}

// GetTotal aggregates one table over the range
// GET /api/v1/tables/:table/total
func (h *Handler) GetTotal(c *gin.Context) {
	timeRange, err := h.parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	total, err := h.aggregator.Total(c.Request.Context(), c.Param("table"), timeRange)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": total,
	})
}

// GetRolling returns the trailing N-day sum for each day
// GET /api/v1/tables/:table/rolling?days=28
func (h *Handler) GetRolling(c *gin.Context) {
	timeRange, err := h.parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}
	days, err := parseIntQuery(c, "days", h.rollingDays)
	if err != nil {
		respondError(c, err)
		return
	}

	series, err := h.aggregator.Rolling(c.Request.Context(), c.Param("table"), days, timeRange)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": series,
	})
}

// GetTruncated returns counts per period, optionally split by a column
// GET /api/v1/tables/:table/truncated?unit=month&group_by=state
func (h *Handler) GetTruncated(c *gin.Context) {
	timeRange, err := h.parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}
	unit := c.DefaultQuery("unit", "day")

	data, err := h.aggregator.Truncated(c.Request.Context(), c.Param("table"), unit, c.Query("group_by"), timeRange)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": data,
	})
}

// GetSeries returns the running total
// GET /api/v1/tables/:table/series
func (h *Handler) GetSeries(c *gin.Context) {
	timeRange, err := h.parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	series, err := h.aggregator.Series(c.Request.Context(), c.Param("table"), timeRange)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": series,
	})
}

// GetRuns lists recent pipeline runs
// GET /api/v1/runs?limit=20
func (h *Handler) GetRuns(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", 20)
	if err != nil {
		respondError(c, err)
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns one run with its steps
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// parseIntQuery parses a positive integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) (int, error) {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return 0, apperrors.NewBadRequestError(fmt.Sprintf("%s must be a positive integer", key))
	}
	return value, nil
}

// parseTimeRange reads either start/end (YYYY-MM-DD) or one of the range
// shortcuts in last. An end date covers that whole day.
func (h *Handler) parseTimeRange(c *gin.Context) (domain.TimeRange, error) {
	now := h.now().UTC()
	startStr := c.Query("start")
	endStr := c.Query("end")

	if startStr == "" && endStr == "" {
		last := c.DefaultQuery("last", h.defaultLast)
		r, err := domain.LastRange(last, now)
		if err != nil {
			return domain.TimeRange{}, apperrors.NewBadRequestError(fmt.Sprintf("last must be one of %v", domain.Ranges))
		}
		return r, nil
	}

	start := domain.Epoch
	end := now
	if startStr != "" {
		t, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return domain.TimeRange{}, apperrors.NewBadRequestError("start must be YYYY-MM-DD")
		}
		start = t
	}
	if endStr != "" {
		t, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return domain.TimeRange{}, apperrors.NewBadRequestError("end must be YYYY-MM-DD")
		}
		end = t.Add(24*time.Hour - time.Microsecond)
	}
	if end.Before(start) {
		return domain.TimeRange{}, apperrors.NewBadRequestError("end is before start")
	}

	return domain.TimeRange{Start: start, End: end, Granularity: "day"}, nil
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeForbidden:
			status = http.StatusForbidden
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeUpstream:
			status = http.StatusBadGateway
		case apperrors.ErrCodeEmptyTable:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
