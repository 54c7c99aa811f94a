package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// SQLiteDriver implements Driver for SQLite using modernc.org/sqlite (pure
// Go, no CGO). It backs the "sqlite" driver mode for local development and
// the test fixtures.
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver opens a SQLite database at the given path (or URI such as
// "file:path?mode=..." or ":memory:").
func NewSQLiteDriver(ctx context.Context, path string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single connection keeps ":memory:" databases stable across calls.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return &SQLiteDriver{db: db}, nil
}

// Ping implements Driver.
func (d *SQLiteDriver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// ListTables implements Driver.
func (d *SQLiteDriver) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// DescribeTable implements Driver.
func (d *SQLiteDriver) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	// table_info returns: cid, name, type, notnull, dflt_value, pk
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLiteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, ColumnInfo{
			Position: cid + 1,
			Name:     name,
			Type:     colType,
			Nullable: notnull == 0,
			IsPK:     pk > 0,
			Default:  dflt.String,
		})
	}
	return cols, rows.Err()
}

// QueryRows implements Driver. The cap is enforced at scan time; SQLite has
// no TOP clause and rewriting LIMIT is not worth a parser here.
func (d *SQLiteDriver) QueryRows(ctx context.Context, query string, limit int) (*RowSet, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRowSet(rows, limit)
}

// ExecInTx implements Driver.
func (d *SQLiteDriver) ExecInTx(ctx context.Context, stmt string) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// ServerInfo implements Driver.
func (d *SQLiteDriver) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	info := &ServerInfo{DatabaseName: "main"}
	var version string
	if err := d.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return nil, err
	}
	info.Version = "SQLite " + version
	err := d.db.QueryRowContext(ctx, `
	SELECT
	  (SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'),
	  (SELECT COUNT(*) FROM sqlite_master WHERE type = 'view')`).
		Scan(&info.TableCount, &info.ViewCount)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// RowCount implements Driver.
func (d *SQLiteDriver) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteSQLiteIdentifier(table))
	if err := d.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListProcedures implements Driver. SQLite has no stored procedures.
func (d *SQLiteDriver) ListProcedures(ctx context.Context) ([]string, error) {
	return nil, nil
}

// ExecProcedure implements Driver.
func (d *SQLiteDriver) ExecProcedure(ctx context.Context, schema, name string, params map[string]any) (*RowSet, error) {
	return nil, mcperr.New(mcperr.KindExecution, "stored procedures are not supported by the sqlite driver")
}

// Close implements Driver.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

var sqliteIdentReplacer = strings.NewReplacer(`"`, `""`)

func quoteSQLiteIdentifier(name string) string {
	return `"` + sqliteIdentReplacer.Replace(name) + `"`
}

var _ Driver = (*SQLiteDriver)(nil)
