package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/SedlarDavid/azuresql-mcp/internal/auth"
	"github.com/SedlarDavid/azuresql-mcp/internal/db"
	"github.com/SedlarDavid/azuresql-mcp/internal/health"
	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// newTestHandlers wires handlers to a sqlite-backed manager with a seeded
// two-table fixture.
func newTestHandlers(t *testing.T) *handlers {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	connect := func(ctx context.Context) (db.Driver, error) {
		return db.NewSQLiteDriver(ctx, path)
	}
	mgr := db.NewManager(connect, db.ManagerOptions{
		Slots:          1,
		MaxInFlight:    8,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
		ConnectTimeout: time.Second,
	})
	t.Cleanup(mgr.Close)

	seed := []string{
		`CREATE TABLE Region (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE Article (id INTEGER PRIMARY KEY, title TEXT NOT NULL, region_id INTEGER)`,
		`INSERT INTO Region (id, name) VALUES (1, 'north'), (2, 'south')`,
	}
	err := mgr.WithSession(context.Background(), func(d db.Driver) error {
		for _, s := range seed {
			if _, err := d.ExecInTx(context.Background(), s); err != nil {
				return err
			}
		}
		var b strings.Builder
		b.WriteString("INSERT INTO Article (id, title, region_id) VALUES ")
		for i := 1; i <= 100; i++ {
			if i > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "(%d, 'article-%03d', %d)", i, i, 1+i%2)
		}
		_, err := d.ExecInTx(context.Background(), b.String())
		return err
	})
	if err != nil {
		t.Fatalf("seeding fixture: %v", err)
	}

	return &handlers{
		mgr:            mgr,
		metrics:        health.NewMetrics(),
		target:         "sqlite:" + path,
		requestTimeout: 5 * time.Second,
	}
}

func callReq(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestListTablesTool(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.listTables(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("listTables: %v", err)
	}
	if out != "Available tables (2): Article, Region" {
		t.Errorf("output = %q", out)
	}
}

func TestDescribeTableTool(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.describeTable(context.Background(), callReq(map[string]any{"table_name": "Region"}))
	if err != nil {
		t.Fatalf("describeTable: %v", err)
	}
	if !strings.Contains(out, "Structure of table 'Region'") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "name (TEXT) NOT NULL") {
		t.Errorf("missing name column line: %q", out)
	}
	if !strings.Contains(out, "PRIMARY KEY") {
		t.Errorf("missing primary key marker: %q", out)
	}
}

func TestDescribeTableRejectsBadIdentifier(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.describeTable(context.Background(),
		callReq(map[string]any{"table_name": "Article; DROP TABLE Region"}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if mcperr.KindOf(err) != mcperr.KindValidation {
		t.Errorf("kind = %v, want validation", mcperr.KindOf(err))
	}
}

func TestDescribeMissingTable(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.describeTable(context.Background(), callReq(map[string]any{"table_name": "Nope"}))
	if err == nil {
		t.Fatal("expected error for missing table")
	}
	if mcperr.KindOf(err) != mcperr.KindExecution {
		t.Errorf("kind = %v, want execution", mcperr.KindOf(err))
	}
}

func TestReadDataLimit(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.readData(context.Background(), callReq(map[string]any{
		"query": "SELECT id, title FROM Article ORDER BY id",
		"limit": 5,
	}))
	if err != nil {
		t.Fatalf("readData: %v", err)
	}
	if !strings.Contains(out, "Query Results (5 rows)") {
		t.Errorf("missing row count header: %q", out)
	}
	if !strings.Contains(out, "result truncated") {
		t.Errorf("missing truncation marker: %q", out)
	}
}

func TestReadDataRejectsMutation(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.readData(context.Background(), callReq(map[string]any{
		"query": "DELETE FROM Article",
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if mcperr.KindOf(err) != mcperr.KindValidation {
		t.Errorf("kind = %v, want validation", mcperr.KindOf(err))
	}
}

func TestInsertDataTool(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.insertData(context.Background(), callReq(map[string]any{
		"sql": "INSERT INTO Region (id, name) VALUES (3, 'east')",
	}))
	if err != nil {
		t.Fatalf("insertData: %v", err)
	}
	if out != "INSERT operation completed successfully. 1 row(s) inserted." {
		t.Errorf("output = %q", out)
	}
}

func TestUpdateDataRequiresWhere(t *testing.T) {
	h := newTestHandlers(t)
	for _, stmt := range []string{
		"UPDATE Article SET title = 'x'",
		"DELETE FROM Article",
	} {
		_, err := h.updateData(context.Background(), callReq(map[string]any{"sql": stmt}))
		if err == nil {
			t.Fatalf("%q: expected validation error", stmt)
		}
		if mcperr.KindOf(err) != mcperr.KindValidation {
			t.Errorf("%q: kind = %v, want validation", stmt, mcperr.KindOf(err))
		}
	}
}

func TestUpdateDataTool(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.updateData(context.Background(), callReq(map[string]any{
		"sql": "DELETE FROM Article WHERE id > 90",
	}))
	if err != nil {
		t.Fatalf("updateData: %v", err)
	}
	if out != "DELETE operation completed successfully. 10 row(s) affected." {
		t.Errorf("output = %q", out)
	}
}

func TestConcurrentUpdatesOnSingleSession(t *testing.T) {
	h := newTestHandlers(t)

	stmts := []string{
		"UPDATE Article SET title = 'low' WHERE id <= 10",
		"UPDATE Article SET title = 'high' WHERE id > 90",
	}
	outs := make([]string, len(stmts))
	errs := make([]error, len(stmts))
	var wg sync.WaitGroup
	for i, stmt := range stmts {
		wg.Add(1)
		go func(i int, stmt string) {
			defer wg.Done()
			outs[i], errs[i] = h.updateData(context.Background(), callReq(map[string]any{"sql": stmt}))
		}(i, stmt)
	}
	wg.Wait()

	for i := range stmts {
		if errs[i] != nil {
			t.Fatalf("update %d: %v", i, errs[i])
		}
		if outs[i] != "UPDATE operation completed successfully. 10 row(s) affected." {
			t.Errorf("update %d output = %q", i, outs[i])
		}
	}

	// Both updates landed: disjoint rows, serialized on the single slot.
	err := h.mgr.WithSession(context.Background(), func(d db.Driver) error {
		rs, err := d.QueryRows(context.Background(), `
		SELECT
		  (SELECT COUNT(*) FROM Article WHERE title = 'low'),
		  (SELECT COUNT(*) FROM Article WHERE title = 'high')`, 0)
		if err != nil {
			return err
		}
		if rs.Rows[0][0] != int64(10) || rs.Rows[0][1] != int64(10) {
			t.Errorf("final row states = %v, want 10 low and 10 high", rs.Rows[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verifying rows: %v", err)
	}
}

// rejectingCredential always fails token acquisition, standing in for an
// identity provider that refuses the managed identity.
type rejectingCredential struct{}

func (rejectingCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{}, errors.New("managed identity endpoint returned 400")
}

func TestAuthRejectionClosesAndReportsUnhealthy(t *testing.T) {
	tokens := auth.NewTokenProvider(rejectingCredential{})
	connect := func(ctx context.Context) (db.Driver, error) {
		if _, err := tokens.Token(ctx, auth.ScopeDatabase); err != nil {
			return nil, err
		}
		return nil, errors.New("token acquisition was expected to fail")
	}
	mgr := db.NewManager(connect, db.ManagerOptions{
		Slots:          1,
		MaxInFlight:    4,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
		ConnectTimeout: time.Second,
	})
	t.Cleanup(mgr.Close)
	h := &handlers{
		mgr:            mgr,
		metrics:        health.NewMetrics(),
		target:         "myserver.database.windows.net/mydb",
		requestTimeout: 5 * time.Second,
	}

	_, err := h.listTables(context.Background(), callReq(nil))
	if err == nil {
		t.Fatal("expected error when the identity provider rejects the token")
	}
	if mcperr.KindOf(err) != mcperr.KindAuthentication {
		t.Errorf("kind = %v, want authentication", mcperr.KindOf(err))
	}

	snap := h.metrics.Snapshot(mgr.State().String())
	if snap.SessionState != "closed" {
		t.Errorf("session_state = %q, want closed after retry exhaustion", snap.SessionState)
	}
	if snap.Status != health.StatusUnhealthy {
		t.Errorf("status = %q, want unhealthy", snap.Status)
	}
}

func TestHealthCheckTool(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.healthCheck(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("healthCheck: %v", err)
	}
	var snap health.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if snap.Status != health.StatusHealthy {
		t.Errorf("status = %q, want healthy", snap.Status)
	}
	if snap.SessionState != "ready" {
		t.Errorf("session_state = %q, want ready", snap.SessionState)
	}
}

func TestListAvailableToolsTool(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.listAvailableTools(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("listAvailableTools: %v", err)
	}
	for _, tool := range toolCatalog {
		if !strings.Contains(out, tool.Name) {
			t.Errorf("catalog output missing %q", tool.Name)
		}
	}
}

func TestExecuteStoredProcedureOnSQLite(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.executeStoredProcedure(context.Background(), callReq(map[string]any{
		"procedure_name": "usp_anything",
	}))
	if err == nil {
		t.Fatal("expected execution error on sqlite")
	}
	if mcperr.KindOf(err) != mcperr.KindExecution {
		t.Errorf("kind = %v, want execution", mcperr.KindOf(err))
	}
}

func TestExecuteStoredProcedureRejectsBadParamName(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.executeStoredProcedure(context.Background(), callReq(map[string]any{
		"procedure_name": "usp_ok",
		"parameters":     map[string]any{"a b": 1},
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if mcperr.KindOf(err) != mcperr.KindValidation {
		t.Errorf("kind = %v, want validation", mcperr.KindOf(err))
	}
}

func TestDatabaseInfoTool(t *testing.T) {
	h := newTestHandlers(t)
	out, err := h.databaseInfo(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("databaseInfo: %v", err)
	}
	if !strings.Contains(out, "Tables: 2") {
		t.Errorf("missing table count: %q", out)
	}
	if !strings.Contains(out, "Session state: ready") {
		t.Errorf("missing session state: %q", out)
	}
}
