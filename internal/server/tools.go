package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/SedlarDavid/azuresql-mcp/internal/db"
	"github.com/SedlarDavid/azuresql-mcp/internal/health"
	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// toolCatalog is the static tool listing for list_available_tools.
var toolCatalog = []struct {
	Name        string
	Description string
}{
	{"list_tables", "List all tables in the database that can be queried."},
	{"describe_table", "Get the structure and schema information of a specific table."},
	{"read_data", "Execute SELECT queries to read data from the database."},
	{"insert_data", "Execute INSERT statements to add new data to the database."},
	{"update_data", "Execute UPDATE and DELETE statements to modify data in the database."},
	{"database_info", "Get connection target, server version and object counts."},
	{"health_check", "Get the server health snapshot."},
	{"list_available_tools", "List all available tools and their descriptions."},
	{"list_stored_procedures", "List all stored procedures in the database."},
	{"execute_stored_procedure", "Execute a stored procedure with optional named parameters."},
}

// handlers binds the tool surface to the session lifecycle manager and the
// health reporter. Handlers themselves are stateless.
type handlers struct {
	mgr            *db.Manager
	metrics        *health.Metrics
	target         string
	requestTimeout time.Duration
}

// tool wraps a handler body with the per-request lifecycle: execution
// timeout, metrics tracking, and sanitized error conversion. Tool errors
// are returned as result payloads, never as protocol failures.
func (h *handlers) tool(name string, fn func(ctx context.Context, req mcp.CallToolRequest) (string, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()

		out, err := fn(ctx, req)
		h.metrics.Track(time.Since(start), err == nil)
		if err != nil {
			slog.Error("tool failed", "tool", name, "error", err)
			return mcp.NewToolResultError(mcperr.Message(err)), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

// withSession runs fn against a borrowed session, classifying errors so
// connection loss degrades the slot while SQL errors stay handler-local.
func (h *handlers) withSession(ctx context.Context, fn func(db.Driver) (string, error)) (string, error) {
	var out string
	err := h.mgr.WithSession(ctx, func(d db.Driver) error {
		var err error
		out, err = fn(d)
		return err
	})
	return out, err
}

// execErr converts raw driver errors into taxonomy errors. Already-typed
// errors pass through; connection loss keeps its kind so the lifecycle
// reacts; everything else is an execution error carrying only a
// single-line description.
func execErr(err error) error {
	if err == nil {
		return nil
	}
	if mcperr.KindOf(err) != mcperr.KindUnknown {
		return err
	}
	if db.IsConnectionLoss(err) {
		return mcperr.Wrap(mcperr.KindConnection, "database connection lost", err)
	}
	return mcperr.Wrap(mcperr.KindExecution, firstLine(err.Error()), err)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func (h *handlers) registerTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription(catalogDescription("list_tables")),
	), h.tool("list_tables", h.listTables))

	s.AddTool(mcp.NewTool("describe_table",
		mcp.WithDescription(catalogDescription("describe_table")),
		mcp.WithString("table_name", mcp.Required(), mcp.Description("Name of the table to describe")),
	), h.tool("describe_table", h.describeTable))

	s.AddTool(mcp.NewTool("read_data",
		mcp.WithDescription(catalogDescription("read_data")),
		mcp.WithString("query", mcp.Required(), mcp.Description("SQL SELECT query to execute")),
		mcp.WithNumber("limit", mcp.DefaultNumber(100), mcp.Description("Maximum number of rows to return (1-10000)")),
	), h.tool("read_data", h.readData))

	s.AddTool(mcp.NewTool("insert_data",
		mcp.WithDescription(catalogDescription("insert_data")),
		mcp.WithString("sql", mcp.Required(), mcp.Description("INSERT statement to execute")),
	), h.tool("insert_data", h.insertData))

	s.AddTool(mcp.NewTool("update_data",
		mcp.WithDescription(catalogDescription("update_data")),
		mcp.WithString("sql", mcp.Required(), mcp.Description("UPDATE or DELETE statement; a WHERE clause is required")),
	), h.tool("update_data", h.updateData))

	s.AddTool(mcp.NewTool("database_info",
		mcp.WithDescription(catalogDescription("database_info")),
	), h.tool("database_info", h.databaseInfo))

	s.AddTool(mcp.NewTool("health_check",
		mcp.WithDescription(catalogDescription("health_check")),
	), h.tool("health_check", h.healthCheck))

	s.AddTool(mcp.NewTool("list_available_tools",
		mcp.WithDescription(catalogDescription("list_available_tools")),
	), h.tool("list_available_tools", h.listAvailableTools))

	s.AddTool(mcp.NewTool("list_stored_procedures",
		mcp.WithDescription(catalogDescription("list_stored_procedures")),
	), h.tool("list_stored_procedures", h.listStoredProcedures))

	s.AddTool(mcp.NewTool("execute_stored_procedure",
		mcp.WithDescription(catalogDescription("execute_stored_procedure")),
		mcp.WithString("procedure_name", mcp.Required(), mcp.Description("Name of the stored procedure")),
		mcp.WithString("schema", mcp.DefaultString("dbo"), mcp.Description("Schema of the procedure")),
		mcp.WithObject("parameters", mcp.Description("Named parameters as column/value pairs")),
	), h.tool("execute_stored_procedure", h.executeStoredProcedure))
}

func catalogDescription(name string) string {
	for _, t := range toolCatalog {
		if t.Name == name {
			return t.Description
		}
	}
	return ""
}

func (h *handlers) listTables(ctx context.Context, _ mcp.CallToolRequest) (string, error) {
	return h.withSession(ctx, func(d db.Driver) (string, error) {
		tables, err := d.ListTables(ctx)
		if err != nil {
			return "", execErr(err)
		}
		return formatTables(tables), nil
	})
}

func (h *handlers) describeTable(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	table, err := req.RequireString("table_name")
	if err != nil {
		return "", mcperr.New(mcperr.KindValidation, "table_name is required")
	}
	if err := ValidateIdentifier("table name", table); err != nil {
		return "", err
	}
	return h.withSession(ctx, func(d db.Driver) (string, error) {
		cols, err := d.DescribeTable(ctx, table)
		if err != nil {
			return "", execErr(err)
		}
		if len(cols) == 0 {
			return "", mcperr.Newf(mcperr.KindExecution, "table %q not found", table)
		}
		return formatColumns(table, cols), nil
	})
}

func (h *handlers) readData(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return "", mcperr.New(mcperr.KindValidation, "query is required")
	}
	limit := req.GetInt("limit", 100)
	if err := ValidateLimit(limit); err != nil {
		return "", err
	}
	if err := ValidateSelectOnly(query); err != nil {
		return "", err
	}
	return h.withSession(ctx, func(d db.Driver) (string, error) {
		rs, err := d.QueryRows(ctx, query, limit)
		if err != nil {
			return "", execErr(err)
		}
		return formatRowSet(rs), nil
	})
}

func (h *handlers) insertData(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	stmt, err := req.RequireString("sql")
	if err != nil {
		return "", mcperr.New(mcperr.KindValidation, "sql is required")
	}
	if err := ValidateInsertOnly(stmt); err != nil {
		return "", err
	}
	return h.withSession(ctx, func(d db.Driver) (string, error) {
		n, err := d.ExecInTx(ctx, stmt)
		if err != nil {
			return "", execErr(err)
		}
		return fmt.Sprintf("INSERT operation completed successfully. %d row(s) inserted.", n), nil
	})
}

func (h *handlers) updateData(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	stmt, err := req.RequireString("sql")
	if err != nil {
		return "", mcperr.New(mcperr.KindValidation, "sql is required")
	}
	if err := ValidateUpdateDelete(stmt); err != nil {
		return "", err
	}
	verb := "UPDATE"
	if strings.HasPrefix(strings.ToUpper(stripComments(stmt)), "DELETE") {
		verb = "DELETE"
	}
	return h.withSession(ctx, func(d db.Driver) (string, error) {
		n, err := d.ExecInTx(ctx, stmt)
		if err != nil {
			return "", execErr(err)
		}
		return fmt.Sprintf("%s operation completed successfully. %d row(s) affected.", verb, n), nil
	})
}

func (h *handlers) databaseInfo(ctx context.Context, _ mcp.CallToolRequest) (string, error) {
	return h.withSession(ctx, func(d db.Driver) (string, error) {
		info, err := d.ServerInfo(ctx)
		if err != nil {
			return "", execErr(err)
		}
		snap := h.metrics.Snapshot(h.mgr.State().String())
		var b strings.Builder
		fmt.Fprintf(&b, "Connection target: %s\n", h.target)
		fmt.Fprintf(&b, "Database: %s\n", info.DatabaseName)
		fmt.Fprintf(&b, "Version: %s\n", firstLine(info.Version))
		if info.Edition != "" {
			fmt.Fprintf(&b, "Edition: %s (%s)\n", info.Edition, info.ProductLevel)
		}
		fmt.Fprintf(&b, "Tables: %d, Views: %d\n", info.TableCount, info.ViewCount)
		fmt.Fprintf(&b, "Session state: %s, Status: %s", snap.SessionState, snap.Status)
		return b.String(), nil
	})
}

func (h *handlers) healthCheck(ctx context.Context, _ mcp.CallToolRequest) (string, error) {
	snap := h.metrics.Snapshot(h.mgr.State().String())
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", mcperr.Wrap(mcperr.KindExecution, "encoding health snapshot", err)
	}
	return string(data), nil
}

func (h *handlers) listAvailableTools(_ context.Context, _ mcp.CallToolRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Available tools (%d):\n", len(toolCatalog))
	for _, t := range toolCatalog {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *handlers) listStoredProcedures(ctx context.Context, _ mcp.CallToolRequest) (string, error) {
	return h.withSession(ctx, func(d db.Driver) (string, error) {
		procs, err := d.ListProcedures(ctx)
		if err != nil {
			return "", execErr(err)
		}
		if len(procs) == 0 {
			return "No stored procedures found in the database.", nil
		}
		return fmt.Sprintf("Stored procedures (%d): %s", len(procs), strings.Join(procs, ", ")), nil
	})
}

func (h *handlers) executeStoredProcedure(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	name, err := req.RequireString("procedure_name")
	if err != nil {
		return "", mcperr.New(mcperr.KindValidation, "procedure_name is required")
	}
	if err := ValidateIdentifier("procedure name", name); err != nil {
		return "", err
	}
	schema := req.GetString("schema", "dbo")
	if err := ValidateIdentifier("schema", schema); err != nil {
		return "", err
	}

	params := map[string]any{}
	if raw, ok := req.GetArguments()["parameters"]; ok && raw != nil {
		obj, ok := raw.(map[string]any)
		if !ok {
			return "", mcperr.New(mcperr.KindValidation, "parameters must be an object of name/value pairs")
		}
		for k, v := range obj {
			if err := ValidateIdentifier("parameter name", k); err != nil {
				return "", err
			}
			params[k] = v
		}
	}

	return h.withSession(ctx, func(d db.Driver) (string, error) {
		rs, err := d.ExecProcedure(ctx, schema, name, params)
		if err != nil {
			return "", execErr(err)
		}
		if rs == nil || len(rs.Rows) == 0 {
			return fmt.Sprintf("Procedure '%s.%s' executed successfully.", schema, name), nil
		}
		return formatRowSet(rs), nil
	})
}
