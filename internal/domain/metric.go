package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TimeRange represents a time range for metrics
type TimeRange struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity"` // "day", "week", "month", "year"
}

// Days returns the number of whole days covered by the range
func (r TimeRange) Days() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Epoch is used as the start of an unbounded range
var Epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Ranges are the accepted range shortcuts
var Ranges = []string{"7d", "14d", "28d", "91d", "182d", "365d", "730d", "all"}

// LastRange parses one of Ranges into the last N whole days plus today. The
// range ends at the end of now's UTC day, so every call within a day yields
// the same range.
func LastRange(last string, now time.Time) (TimeRange, error) {
	if !slices.Contains(Ranges, last) {
		return TimeRange{}, fmt.Errorf("invalid range %q", last)
	}
	today := now.UTC().Truncate(24 * time.Hour)
	end := today.Add(24*time.Hour - time.Microsecond)
	if last == "all" {
		return TimeRange{Start: Epoch, End: end, Granularity: "day"}, nil
	}
	days, err := strconv.Atoi(strings.TrimSuffix(last, "d"))
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid range %q", last)
	}
	return TimeRange{Start: today.AddDate(0, 0, -days), End: end, Granularity: "day"}, nil
}

// TimeSeriesMetric represents a single data point in a time series
type TimeSeriesMetric struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// GroupedMetric is a data point split by a group column
type GroupedMetric struct {
	Timestamp time.Time `json:"timestamp"`
	Group     string    `json:"group"`
	Value     float64   `json:"value"`
}

// TimeSeriesData represents time series data for a table
type TimeSeriesData struct {
	Table       Table              `json:"table"`
	Kind        string             `json:"kind"` // "rolling", "running", "truncated"
	Granularity string             `json:"granularity,omitempty"`
	WindowDays  int                `json:"window_days,omitempty"`
	DataPoints  []TimeSeriesMetric `json:"data_points"`
}

// GroupedSeriesData is a truncated series split by a column
type GroupedSeriesData struct {
	Table       Table           `json:"table"`
	Granularity string          `json:"granularity"`
	GroupBy     string          `json:"group_by"`
	DataPoints  []GroupedMetric `json:"data_points"`
}

// TableTotal is a point-in-time aggregate over a range
type TableTotal struct {
	Table     Table     `json:"table"`
	Title     string    `json:"title"`
	Value     float64   `json:"value"`
	TimeRange TimeRange `json:"time_range"`
}

// Overview holds the value boxes shown at the top of the dashboard
type Overview struct {
	Totals      []TableTotal `json:"totals"`
	TotalDays   int          `json:"total_days"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// TableStatus reports whether a finalized table is loaded
type TableStatus struct {
	Name         Table    `json:"name"`
	Title        string   `json:"title"`
	Source       Source   `json:"source"`
	TimeColumn   string   `json:"time_column"`
	GroupColumns []string `json:"group_columns"`
	Loaded       bool     `json:"loaded"`
	Rows         int64    `json:"rows"`
}
