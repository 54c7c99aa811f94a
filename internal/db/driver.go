// Package db provides the database session abstraction: dialect drivers for
// SQL Server and SQLite, the session factory that authenticates them, and
// the lifecycle manager that owns and hands out live sessions.
package db

import (
	"context"
	"database/sql"
)

// Driver is one live, authenticated database session. Implementations are
// dialect-specific. Handlers borrow a Driver from the Manager for the
// duration of one request and never retain it.
type Driver interface {
	// Ping verifies the session is alive.
	Ping(ctx context.Context) error
	// ListTables returns base table names, ordered.
	ListTables(ctx context.Context) ([]string, error)
	// DescribeTable returns column metadata in ordinal order. The caller
	// must have validated table against the identifier allow-list.
	DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error)
	// QueryRows runs a read-only query (caller must validate) and returns
	// at most limit rows with column headers. limit <= 0 means unlimited.
	QueryRows(ctx context.Context, query string, limit int) (*RowSet, error)
	// ExecInTx runs a mutating statement inside a transaction, committed
	// only on success and rolled back on any failure. Returns the number
	// of affected rows.
	ExecInTx(ctx context.Context, stmt string) (int64, error)
	// ServerInfo returns target metadata and object counts.
	ServerInfo(ctx context.Context) (*ServerInfo, error)
	// RowCount counts rows of a table whose name has been validated.
	RowCount(ctx context.Context, table string) (int64, error)
	// ListProcedures returns stored procedure names, ordered.
	ListProcedures(ctx context.Context) ([]string, error)
	// ExecProcedure executes a stored procedure with named parameters.
	// Names must be validated identifiers; values are always bound.
	ExecProcedure(ctx context.Context, schema, name string, params map[string]any) (*RowSet, error)
	// Close releases the session.
	Close() error
}

// ColumnInfo describes one column for describe_table and the schema dump.
type ColumnInfo struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	IsPK     bool   `json:"is_pk"`
	Default  string `json:"default,omitempty"`
}

// RowSet is a bounded query result with column headers.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	// Truncated is set when the row cap cut the result short.
	Truncated bool `json:"truncated,omitempty"`
}

// ServerInfo describes the connected database for database_info.
type ServerInfo struct {
	DatabaseName string `json:"database_name"`
	Version      string `json:"version"`
	Edition      string `json:"edition,omitempty"`
	ProductLevel string `json:"product_level,omitempty"`
	TableCount   int    `json:"table_count"`
	ViewCount    int    `json:"view_count"`
}

// scanRowSet builds a RowSet from sql.Rows, stopping after limit rows when
// limit > 0 and flagging truncation if more rows were available.
func scanRowSet(rows *sql.Rows, limit int) (*RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &RowSet{Columns: cols}
	scan := make([]any, len(cols))
	for i := range scan {
		scan[i] = new(any)
	}
	for rows.Next() {
		if limit > 0 && len(rs.Rows) >= limit {
			rs.Truncated = true
			break
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]any, len(cols))
		for i := range cols {
			row[i] = normalizeValue(*(scan[i].(*any)))
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// normalizeValue makes driver values JSON- and text-friendly. []byte values
// become strings; everything else passes through.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// scanStrings collects a single-column string result.
func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
