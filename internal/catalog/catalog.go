// Package catalog persists finalized tables in an embedded DuckDB database
// and mirrors them as parquet files.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name is safe to use as an unquoted table name
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// QuoteIdent quotes an identifier for DuckDB
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal for DuckDB. Table functions such as
// read_json take their paths as literals.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Catalog is the DuckDB-backed table store
type Catalog struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the catalog at path. An empty path opens an
// in-memory database.
func Open(path string) (*Catalog, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to DuckDB: %w", err)
	}

	return &Catalog{db: db, path: path}, nil
}

// Path returns the database file path ("" for in-memory)
func (c *Catalog) Path() string {
	return c.path
}

// DB exposes the underlying handle for read queries
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Exec runs a statement
func (c *Catalog) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

// Columns returns the column names a SELECT statement produces
func (c *Catalog) Columns(ctx context.Context, selectSQL string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT * FROM ("+selectSQL+") LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

// CountQuery counts the rows a SELECT statement produces
func (c *Catalog) CountQuery(ctx context.Context, selectSQL string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+selectSQL+")").Scan(&n)
	return n, err
}

// Count returns the number of rows in a table
func (c *Catalog) Count(ctx context.Context, table string) (int64, error) {
	if !ValidIdent(table) {
		return 0, apperrors.NewBadRequestError(fmt.Sprintf("invalid table name %q", table))
	}
	ok, err := c.HasTable(ctx, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperrors.NewNotFoundError("table " + table)
	}
	return c.CountQuery(ctx, "SELECT * FROM "+QuoteIdent(table))
}

// WriteTable replaces table with the result of selectSQL and returns its
// row count
func (c *Catalog) WriteTable(ctx context.Context, table, selectSQL string) (int64, error) {
	if !ValidIdent(table) {
		return 0, apperrors.NewBadRequestError(fmt.Sprintf("invalid table name %q", table))
	}
	stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", QuoteIdent(table), selectSQL)
	if err := c.Exec(ctx, stmt); err != nil {
		return 0, fmt.Errorf("failed to write table %s: %w", table, err)
	}
	return c.Count(ctx, table)
}

// HasTable reports whether a table exists in the main schema
func (c *Catalog) HasTable(ctx context.Context, table string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'main' AND table_name = ?
	`, table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTables lists tables in the main schema, optionally filtered by prefix
func (c *Catalog) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'main' AND starts_with(table_name, ?)
		ORDER BY table_name
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DropTable drops a table if it exists
func (c *Catalog) DropTable(ctx context.Context, table string) error {
	if !ValidIdent(table) {
		return apperrors.NewBadRequestError(fmt.Sprintf("invalid table name %q", table))
	}
	return c.Exec(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table))
}

// ExportParquet writes table to <dir>/<table>/data.parquet and returns the
// file path
func (c *Catalog) ExportParquet(ctx context.Context, table, dir string) (string, error) {
	if !ValidIdent(table) {
		return "", apperrors.NewBadRequestError(fmt.Sprintf("invalid table name %q", table))
	}
	tableDir := filepath.Join(dir, table)
	if err := os.MkdirAll(tableDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", tableDir, err)
	}
	path := filepath.Join(tableDir, "data.parquet")
	stmt := fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", QuoteIdent(table), QuoteLiteral(path))
	if err := c.Exec(ctx, stmt); err != nil {
		return "", fmt.Errorf("failed to export %s: %w", table, err)
	}
	return path, nil
}

// JSONToParquet rewrites a newline-delimited JSON file as parquet
func (c *Catalog) JSONToParquet(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	stmt := fmt.Sprintf(
		"COPY (SELECT * FROM read_json(%s, format = 'newline_delimited')) TO %s (FORMAT PARQUET)",
		QuoteLiteral(src), QuoteLiteral(dst),
	)
	if err := c.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to convert %s: %w", src, err)
	}
	return nil
}
