// Package queryengine abstracts the managed SQL engine that executes
// validated analytics queries. The engine performs no implicit user
// scoping; callers are responsible for the user_id filter.
package queryengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Rows is a tabular query result.
type Rows struct {
	Columns []string   `json:"columns"`
	Records [][]string `json:"records"`
}

// RowCount returns the number of data rows.
func (r *Rows) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// Engine executes SQL against the analytics warehouse.
type Engine interface {
	// Execute runs the statement and returns rows, or an *Error
	// classified per Category.
	Execute(ctx context.Context, query string, userID string) (*Rows, error)
}

// sqlEngine is an Engine backed by database/sql.
type sqlEngine struct {
	db      *sql.DB
	timeout time.Duration
	maxRows int
}

// Option configures the SQL engine.
type Option func(*sqlEngine)

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *sqlEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxRows caps the number of rows read from a result set.
func WithMaxRows(n int) Option {
	return func(e *sqlEngine) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

// NewSQLEngine creates an Engine on top of an open database handle.
func NewSQLEngine(db *sql.DB, opts ...Option) Engine {
	e := &sqlEngine{
		db:      db,
		timeout: 30 * time.Second,
		maxRows: 10000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *sqlEngine) Execute(ctx context.Context, query string, userID string) (*Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	startTime := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		classified := Classify(err)
		slog.Warn("queryengine: query failed",
			"user_id", userID,
			"category", classified.Category,
			"error", err)
		return nil, classified
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, Classify(err)
	}

	result := &Rows{Columns: columns}
	values := make([]sql.NullString, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Records) >= e.maxRows {
			slog.Warn("queryengine: result truncated", "max_rows", e.maxRows)
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, Classify(err)
		}
		record := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				record[i] = v.String
			}
		}
		result.Records = append(result.Records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}

	slog.Debug("queryengine: query completed",
		"user_id", userID,
		"rows", result.RowCount(),
		"duration_ms", time.Since(startTime).Milliseconds())

	if result.RowCount() == 0 {
		return nil, &Error{
			Category: CategoryDataNotFound,
			Message:  "the query returned no rows",
			Cause:    fmt.Errorf("empty result set"),
		}
	}

	return result, nil
}
