package aggregator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/kurihiro0119/project-analytics/internal/catalog"
	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

// Units accepted by Truncated
var Units = []string{"day", "week", "month", "year"}

// Aggregator defines the interface for computing dashboard metrics
type Aggregator interface {
	// Tables reports every finalized table and its row count
	Tables(ctx context.Context) ([]domain.TableStatus, error)

	// Total aggregates a table over a range
	Total(ctx context.Context, table string, timeRange domain.TimeRange) (*domain.TableTotal, error)

	// Rolling returns a trailing N-day sum for every day in the range
	Rolling(ctx context.Context, table string, days int, timeRange domain.TimeRange) (*domain.TimeSeriesData, error)

	// Truncated aggregates per truncated period, optionally split by a column
	Truncated(ctx context.Context, table, unit, groupBy string, timeRange domain.TimeRange) (*domain.GroupedSeriesData, error)

	// Series returns the running total for each day with data in the range
	Series(ctx context.Context, table string, timeRange domain.TimeRange) (*domain.TimeSeriesData, error)

	// Overview aggregates every loaded table for the value boxes
	Overview(ctx context.Context, timeRange domain.TimeRange) (*domain.Overview, error)

	// Invalidate drops cached results after the catalog changes
	Invalidate()
}

// Store is the read side of the catalog
type Store interface {
	DB() *sql.DB
	HasTable(ctx context.Context, table string) (bool, error)
	Count(ctx context.Context, table string) (int64, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	store Store
	now   func() time.Time

	mu         sync.Mutex
	cache      map[string]any
	generation uint64
}

// NewAggregator creates a new aggregator
func NewAggregator(store Store) Aggregator {
	return &aggregator{
		store: store,
		now:   time.Now,
		cache: make(map[string]any),
	}
}

func (a *aggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]any)
	a.generation++
}

// cached returns the value stored under key or computes it. Results
// computed while an Invalidate ran are not stored.
func cached[T any](a *aggregator, key string, compute func() (T, error)) (T, error) {
	a.mu.Lock()
	if v, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return v.(T), nil
	}
	gen := a.generation
	a.mu.Unlock()

	v, err := compute()
	if err != nil {
		return v, err
	}

	a.mu.Lock()
	if a.generation == gen {
		a.cache[key] = v
	}
	a.mu.Unlock()
	return v, nil
}

func (a *aggregator) Tables(ctx context.Context) ([]domain.TableStatus, error) {
	return cached(a, "tables", func() ([]domain.TableStatus, error) {
		out := make([]domain.TableStatus, 0, len(domain.Tables))
		for _, info := range domain.Tables {
			status := domain.TableStatus{
				Name:         info.Name,
				Title:        info.Title,
				Source:       info.Source,
				TimeColumn:   info.TimeColumn,
				GroupColumns: info.GroupColumns,
			}
			n, err := a.store.Count(ctx, string(info.Name))
			switch {
			case apperrors.IsNotFound(err):
			case err != nil:
				return nil, err
			default:
				status.Loaded = true
				status.Rows = n
			}
			out = append(out, status)
		}
		return out, nil
	})
}

func (a *aggregator) Total(ctx context.Context, table string, timeRange domain.TimeRange) (*domain.TableTotal, error) {
	key := fmt.Sprintf("total:%s:%s", table, rangeKey(timeRange))
	return cached(a, key, func() (*domain.TableTotal, error) {
		info, err := a.lookup(ctx, table)
		if err != nil {
			return nil, err
		}

		query := fmt.Sprintf("SELECT coalesce(%s, 0)::DOUBLE FROM %s WHERE %s",
			measure(info), catalog.QuoteIdent(table), rangeFilter(info, timeRange))
		var value float64
		if err := a.store.DB().QueryRowContext(ctx, query).Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to total %s: %w", table, err)
		}
		return &domain.TableTotal{Table: info.Name, Title: info.Title, Value: value, TimeRange: timeRange}, nil
	})
}

func (a *aggregator) Rolling(ctx context.Context, table string, days int, timeRange domain.TimeRange) (*domain.TimeSeriesData, error) {
	if days <= 0 {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("window must be positive, got %d", days))
	}
	key := fmt.Sprintf("rolling:%s:%d:%s", table, days, rangeKey(timeRange))
	return cached(a, key, func() (*domain.TimeSeriesData, error) {
		info, err := a.lookup(ctx, table)
		if err != nil {
			return nil, err
		}

		// the day spine starts at the first day with data and is empty when
		// the table has no rows
		query := fmt.Sprintf(`
			WITH daily AS (
				SELECT date_trunc('day', %[1]s)::DATE AS day, %[2]s AS value
				FROM %[3]s
				WHERE %[1]s IS NOT NULL AND %[1]s <= %[5]s
				GROUP BY ALL
			),
			spine AS (
				SELECT unnest(generate_series(
					(SELECT greatest(%[4]s::DATE, min(day))::TIMESTAMP FROM daily HAVING count(*) > 0),
					%[5]s::DATE::TIMESTAMP,
					INTERVAL 1 DAY
				))::DATE AS day
			)
			SELECT spine.day, coalesce(sum(daily.value), 0)::DOUBLE
			FROM spine
			LEFT JOIN daily ON daily.day BETWEEN spine.day - %[6]d AND spine.day
			GROUP BY spine.day
			ORDER BY spine.day
		`, catalog.QuoteIdent(info.TimeColumn), measure(info), catalog.QuoteIdent(table),
			timestamp(timeRange.Start), timestamp(timeRange.End), days-1)

		points, err := a.series(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to compute rolling %s: %w", table, err)
		}
		return &domain.TimeSeriesData{Table: info.Name, Kind: "rolling", Granularity: "day", WindowDays: days, DataPoints: points}, nil
	})
}

func (a *aggregator) Truncated(ctx context.Context, table, unit, groupBy string, timeRange domain.TimeRange) (*domain.GroupedSeriesData, error) {
	if !validUnit(unit) {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("unit must be one of %v", Units))
	}
	key := fmt.Sprintf("truncated:%s:%s:%s:%s", table, unit, groupBy, rangeKey(timeRange))
	return cached(a, key, func() (*domain.GroupedSeriesData, error) {
		info, err := a.lookup(ctx, table)
		if err != nil {
			return nil, err
		}
		group := "'total'"
		if groupBy != "" {
			if !info.AllowsGroup(groupBy) {
				return nil, apperrors.NewBadRequestError(fmt.Sprintf("cannot group %s by %q", table, groupBy))
			}
			group = fmt.Sprintf("coalesce(%s::VARCHAR, 'Unknown')", catalog.QuoteIdent(groupBy))
		}

		query := fmt.Sprintf(`
			SELECT date_trunc('%s', %s)::TIMESTAMP AS period, %s AS grp, coalesce(%s, 0)::DOUBLE
			FROM %s
			WHERE %s
			GROUP BY ALL
			ORDER BY period, grp
		`, unit, catalog.QuoteIdent(info.TimeColumn), group, measure(info), catalog.QuoteIdent(table), rangeFilter(info, timeRange))

		rows, err := a.store.DB().QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to truncate %s: %w", table, err)
		}
		defer rows.Close()

		points := []domain.GroupedMetric{}
		for rows.Next() {
			var p domain.GroupedMetric
			if err := rows.Scan(&p.Timestamp, &p.Group, &p.Value); err != nil {
				return nil, err
			}
			points = append(points, p)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return &domain.GroupedSeriesData{Table: info.Name, Granularity: unit, GroupBy: groupBy, DataPoints: points}, nil
	})
}

func (a *aggregator) Series(ctx context.Context, table string, timeRange domain.TimeRange) (*domain.TimeSeriesData, error) {
	key := fmt.Sprintf("series:%s:%s", table, rangeKey(timeRange))
	return cached(a, key, func() (*domain.TimeSeriesData, error) {
		info, err := a.lookup(ctx, table)
		if err != nil {
			return nil, err
		}

		query := fmt.Sprintf(`
			WITH daily AS (
				SELECT date_trunc('day', %[1]s)::DATE AS day, %[2]s AS value
				FROM %[3]s
				WHERE %[1]s IS NOT NULL AND %[1]s <= %[5]s
				GROUP BY ALL
			)
			SELECT day, total FROM (
				SELECT day, (sum(value) OVER (ORDER BY day ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW))::DOUBLE AS total
				FROM daily
			)
			WHERE day >= %[4]s::DATE
			ORDER BY day
		`, catalog.QuoteIdent(info.TimeColumn), measure(info), catalog.QuoteIdent(table),
			timestamp(timeRange.Start), timestamp(timeRange.End))

		points, err := a.series(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to compute running total for %s: %w", table, err)
		}
		return &domain.TimeSeriesData{Table: info.Name, Kind: "running", Granularity: "day", DataPoints: points}, nil
	})
}

func (a *aggregator) Overview(ctx context.Context, timeRange domain.TimeRange) (*domain.Overview, error) {
	tables, err := a.Tables(ctx)
	if err != nil {
		return nil, err
	}

	overview := &domain.Overview{
		Totals:      []domain.TableTotal{},
		TotalDays:   timeRange.Days(),
		GeneratedAt: a.now(),
	}
	for _, t := range tables {
		if !t.Loaded {
			continue
		}
		total, err := a.Total(ctx, string(t.Name), timeRange)
		if err != nil {
			return nil, err
		}
		overview.Totals = append(overview.Totals, *total)
	}
	return overview, nil
}

func (a *aggregator) series(ctx context.Context, query string) ([]domain.TimeSeriesMetric, error) {
	rows, err := a.store.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []domain.TimeSeriesMetric{}
	for rows.Next() {
		var p domain.TimeSeriesMetric
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// lookup resolves a known, loaded table
func (a *aggregator) lookup(ctx context.Context, table string) (domain.TableInfo, error) {
	info, ok := domain.LookupTable(table)
	if !ok {
		return domain.TableInfo{}, apperrors.NewNotFoundError("table " + table)
	}
	loaded, err := a.store.HasTable(ctx, table)
	if err != nil {
		return domain.TableInfo{}, err
	}
	if !loaded {
		return domain.TableInfo{}, apperrors.NewNotFoundError("table " + table)
	}
	return info, nil
}

// measure counts rows, or sums the value column when the table has one
func measure(info domain.TableInfo) string {
	if info.ValueColumn != "" {
		return "sum(" + catalog.QuoteIdent(info.ValueColumn) + ")"
	}
	return "count(*)"
}

func rangeFilter(info domain.TableInfo, r domain.TimeRange) string {
	col := catalog.QuoteIdent(info.TimeColumn)
	return fmt.Sprintf("%s >= %s AND %s <= %s", col, timestamp(r.Start), col, timestamp(r.End))
}

func timestamp(t time.Time) string {
	return "TIMESTAMP " + catalog.QuoteLiteral(t.UTC().Format("2006-01-02 15:04:05.000000"))
}

func rangeKey(r domain.TimeRange) string {
	return r.Start.UTC().Format(time.RFC3339) + "/" + r.End.UTC().Format(time.RFC3339)
}

func validUnit(unit string) bool {
	for _, u := range Units {
		if u == unit {
			return true
		}
	}
	return false
}
