package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// SQLServerDriver implements Driver for SQL Server / Azure SQL using
// go-mssqldb. The *sql.DB is opened by the session factory, which owns
// authentication; this type only speaks the dialect.
type SQLServerDriver struct {
	db *sql.DB
}

func newSQLServerDriver(db *sql.DB) *SQLServerDriver {
	return &SQLServerDriver{db: db}
}

// Ping implements Driver.
func (d *SQLServerDriver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// ListTables implements Driver.
func (d *SQLServerDriver) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// DescribeTable implements Driver.
func (d *SQLServerDriver) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	const q = `
	SELECT c.ORDINAL_POSITION, c.COLUMN_NAME, c.DATA_TYPE, c.CHARACTER_MAXIMUM_LENGTH,
	       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
	       CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END,
	       c.COLUMN_DEFAULT
	FROM INFORMATION_SCHEMA.COLUMNS c
	LEFT JOIN (
	  SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
	  FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
	  JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
	  WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
	) pk ON c.TABLE_SCHEMA = pk.TABLE_SCHEMA AND c.TABLE_NAME = pk.TABLE_NAME AND c.COLUMN_NAME = pk.COLUMN_NAME
	WHERE c.TABLE_NAME = @p1
	ORDER BY c.ORDINAL_POSITION`
	rows, err := d.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var maxLen sql.NullInt64
		var nullable, isPK int
		var def sql.NullString
		if err := rows.Scan(&c.Position, &c.Name, &c.Type, &maxLen, &nullable, &isPK, &def); err != nil {
			return nil, err
		}
		if maxLen.Valid {
			c.Type = fmt.Sprintf("%s(%d)", c.Type, maxLen.Int64)
		}
		c.Nullable = nullable == 1
		c.IsPK = isPK == 1
		c.Default = def.String
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// QueryRows implements Driver. A TOP clause is injected when the query has
// none so the database, not just the scanner, enforces the row cap.
func (d *SQLServerDriver) QueryRows(ctx context.Context, query string, limit int) (*RowSet, error) {
	rows, err := d.db.QueryContext(ctx, injectTop(query, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRowSet(rows, limit)
}

var selectPrefix = regexp.MustCompile(`(?i)^\s*SELECT\s+`)

// injectTop rewrites "SELECT ..." to "SELECT TOP n ..." unless the query
// already carries TOP or no positive limit applies.
func injectTop(query string, limit int) string {
	if limit <= 0 || strings.Contains(strings.ToUpper(query), " TOP ") {
		return query
	}
	loc := selectPrefix.FindStringIndex(query)
	if loc == nil {
		return query
	}
	return fmt.Sprintf("SELECT TOP %d %s", limit, query[loc[1]:])
}

// ExecInTx implements Driver.
func (d *SQLServerDriver) ExecInTx(ctx context.Context, stmt string) (int64, error) {
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
func (d *SQLServerDriver) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	info := &ServerInfo{}
	err := d.db.QueryRowContext(ctx, `
	SELECT DB_NAME(), @@VERSION,
	       CONVERT(nvarchar(128), SERVERPROPERTY('Edition')),
	       CONVERT(nvarchar(128), SERVERPROPERTY('ProductLevel'))`).
		Scan(&info.DatabaseName, &info.Version, &info.Edition, &info.ProductLevel)
	if err != nil {
		return nil, err
	}
	err = d.db.QueryRowContext(ctx, `
	SELECT
	  (SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE'),
	  (SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'VIEW')`).
		Scan(&info.TableCount, &info.ViewCount)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// RowCount implements Driver. table must already be allow-list validated;
// quoting is still applied.
func (d *SQLServerDriver) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", quoteMSSQLIdentifier(table))
	if err := d.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListProcedures implements Driver.
func (d *SQLServerDriver) ListProcedures(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT ROUTINE_NAME FROM INFORMATION_SCHEMA.ROUTINES WHERE ROUTINE_TYPE = 'PROCEDURE' ORDER BY ROUTINE_NAME`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ExecProcedure implements Driver. Parameter names must be validated
// identifiers; values are bound as named args, never interpolated.
func (d *SQLServerDriver) ExecProcedure(ctx context.Context, schema, name string, params map[string]any) (*RowSet, error) {
	if schema == "" {
		schema = "dbo"
	}
	var (
		assigns []string
		args    []any
	)
	for k, v := range params {
		assigns = append(assigns, fmt.Sprintf("@%s = @%s", k, k))
		args = append(args, sql.Named(k, v))
	}
	q := fmt.Sprintf("EXEC %s.%s", quoteMSSQLIdentifier(schema), quoteMSSQLIdentifier(name))
	if len(assigns) > 0 {
		q += " " + strings.Join(assigns, ", ")
	}
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRowSet(rows, 0)
}

// Close implements Driver.
func (d *SQLServerDriver) Close() error {
	return d.db.Close()
}

var mssqlIdentReplacer = strings.NewReplacer("]", "]]")

func quoteMSSQLIdentifier(name string) string {
	return "[" + mssqlIdentReplacer.Replace(name) + "]"
}

var _ Driver = (*SQLServerDriver)(nil)
