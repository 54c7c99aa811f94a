package db

import (
	"context"
	"fmt"
	"testing"
)

// openFixture builds an in-memory database with two tables and seeded rows.
func openFixture(t *testing.T) *SQLiteDriver {
	t.Helper()
	d, err := NewSQLiteDriver(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDriver: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	stmts := []string{
		`CREATE TABLE Region (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE Article (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			region_id INTEGER,
			price REAL DEFAULT 0
		)`,
		`INSERT INTO Region (id, name) VALUES (1, 'north'), (2, 'south')`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(context.Background(), s); err != nil {
			t.Fatalf("fixture: %v", err)
		}
	}
	for i := 1; i <= 100; i++ {
		_, err := d.db.ExecContext(context.Background(),
			`INSERT INTO Article (id, title, region_id) VALUES (?, ?, ?)`,
			i, fmt.Sprintf("article-%03d", i), 1+i%2)
		if err != nil {
			t.Fatalf("fixture: %v", err)
		}
	}
	return d
}

func TestSQLiteListTables(t *testing.T) {
	d := openFixture(t)
	tables, err := d.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 || tables[0] != "Article" || tables[1] != "Region" {
		t.Errorf("ListTables = %v, want [Article Region]", tables)
	}
}

func TestSQLiteDescribeTable(t *testing.T) {
	d := openFixture(t)
	cols, err := d.DescribeTable(context.Background(), "Article")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if len(cols) != 4 {
		t.Fatalf("columns = %d, want 4", len(cols))
	}
	if cols[0].Name != "id" || !cols[0].IsPK {
		t.Errorf("first column = %+v, want primary key 'id'", cols[0])
	}
	if cols[1].Name != "title" || cols[1].Nullable {
		t.Errorf("title column = %+v, want NOT NULL", cols[1])
	}
	if cols[3].Name != "price" || cols[3].Default != "0" {
		t.Errorf("price column = %+v, want default 0", cols[3])
	}
}

func TestSQLiteQueryRowsLimit(t *testing.T) {
	d := openFixture(t)
	rs, err := d.QueryRows(context.Background(), "SELECT id, title FROM Article ORDER BY id", 5)
	if err != nil {
		t.Fatalf("QueryRows: %v", err)
	}
	if len(rs.Rows) != 5 {
		t.Errorf("rows = %d, want 5", len(rs.Rows))
	}
	if !rs.Truncated {
		t.Error("Truncated = false, want true (100 rows behind a cap of 5)")
	}
	if len(rs.Columns) != 2 || rs.Columns[0] != "id" {
		t.Errorf("columns = %v", rs.Columns)
	}
}

func TestSQLiteQueryRowsExact(t *testing.T) {
	d := openFixture(t)
	rs, err := d.QueryRows(context.Background(), "SELECT name FROM Region ORDER BY id", 100)
	if err != nil {
		t.Fatalf("QueryRows: %v", err)
	}
	if len(rs.Rows) != 2 || rs.Truncated {
		t.Errorf("rows = %d truncated = %v, want 2 rows untruncated", len(rs.Rows), rs.Truncated)
	}
	if rs.Rows[0][0] != "north" {
		t.Errorf("first row = %v", rs.Rows[0])
	}
}

func TestSQLiteExecInTx(t *testing.T) {
	d := openFixture(t)
	n, err := d.ExecInTx(context.Background(), `UPDATE Article SET price = 9.5 WHERE region_id = 1`)
	if err != nil {
		t.Fatalf("ExecInTx: %v", err)
	}
	if n != 50 {
		t.Errorf("affected = %d, want 50", n)
	}
}

func TestSQLiteExecInTxRollback(t *testing.T) {
	d := openFixture(t)
	before, err := d.RowCount(context.Background(), "Article")
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}

	// Unique-key violation: the transaction must roll back cleanly.
	_, err = d.ExecInTx(context.Background(), `INSERT INTO Article (id, title) VALUES (1, 'dup')`)
	if err == nil {
		t.Fatal("expected constraint violation")
	}

	after, err := d.RowCount(context.Background(), "Article")
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if after != before {
		t.Errorf("row count changed %d -> %d, want rollback", before, after)
	}
}

func TestSQLiteServerInfo(t *testing.T) {
	d := openFixture(t)
	info, err := d.ServerInfo(context.Background())
	if err != nil {
		t.Fatalf("ServerInfo: %v", err)
	}
	if info.TableCount != 2 {
		t.Errorf("TableCount = %d, want 2", info.TableCount)
	}
	if info.Version == "" {
		t.Error("Version is empty")
	}
}

func TestSQLiteRowCountQuoting(t *testing.T) {
	d := openFixture(t)
	if _, err := d.db.ExecContext(context.Background(), `CREATE TABLE "odd name" (x int)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	n, err := d.RowCount(context.Background(), "odd name")
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestSQLiteProcedures(t *testing.T) {
	d := openFixture(t)
	procs, err := d.ListProcedures(context.Background())
	if err != nil || len(procs) != 0 {
		t.Errorf("ListProcedures = %v, %v; want empty, nil", procs, err)
	}
	if _, err := d.ExecProcedure(context.Background(), "dbo", "anything", nil); err == nil {
		t.Error("ExecProcedure must fail on sqlite")
	}
}
