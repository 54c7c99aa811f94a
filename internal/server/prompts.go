package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Prompts are static guidance templates. They never touch the session, so
// they stay available even when the database is unreachable.
func (h *handlers) registerPrompts(s *server.MCPServer) {
	s.AddPrompt(mcp.NewPrompt("sql_query_builder",
		mcp.WithPromptDescription("Help building safe, efficient T-SQL queries for a specific table"),
		mcp.WithArgument("table_name",
			mcp.ArgumentDescription("Table the query should target"),
			mcp.RequiredArgument(),
		),
	), h.sqlQueryBuilderPrompt)

	s.AddPrompt(mcp.NewPrompt("analyze_performance",
		mcp.WithPromptDescription("Guide a database performance analysis session"),
	), h.analyzePerformancePrompt)

	s.AddPrompt(mcp.NewPrompt("data_migration_guide",
		mcp.WithPromptDescription("Walk through migrating data into or out of this database"),
		mcp.WithArgument("target_platform",
			mcp.ArgumentDescription("Destination platform, e.g. PostgreSQL or another SQL Server"),
		),
	), h.dataMigrationPrompt)

	s.AddPrompt(mcp.NewPrompt("database_troubleshooting",
		mcp.WithPromptDescription("Systematic troubleshooting of connectivity and query problems"),
	), h.troubleshootingPrompt)
}

func userPrompt(desc, text string) *mcp.GetPromptResult {
	return mcp.NewGetPromptResult(desc, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	})
}

func (h *handlers) sqlQueryBuilderPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	table := req.Params.Arguments["table_name"]
	if table == "" {
		return nil, fmt.Errorf("table_name argument is required")
	}
	text := fmt.Sprintf(`You are helping build T-SQL queries against the table '%s'.

Start by inspecting the table:
1. Call describe_table with table_name=%q to learn columns, types and keys.
2. Call read_data with a small sample: SELECT * FROM %s (keep the default limit).

Then build the target query, following these rules:
- Only SELECT statements run through read_data; mutations go through insert_data / update_data.
- Always filter with WHERE on indexed or key columns where possible.
- Prefer explicit column lists over SELECT *.
- Use TOP or the limit parameter to bound result size.

Ask the user what they want to retrieve from '%s' and iterate on the query with them.`, table, table, table, table)
	return userPrompt("T-SQL query building assistant for "+table, text), nil
}

func (h *handlers) analyzePerformancePrompt(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	text := `Analyze the performance characteristics of this SQL Server database.

Suggested workflow:
1. Call database_info for version, edition and object counts.
2. Call list_tables, then read_data on sys.dm_db_index_usage_stats and
   sys.dm_exec_query_stats (when permissions allow) to find hot and unused indexes.
3. Use describe_table on the largest tables and check for missing primary keys.
4. Review row counts via the database://schema resource to find skewed tables.

Report findings as: observation, evidence (the query you ran), and a concrete
recommendation. Flag anything that needs DBA-level access you do not have here.`
	return userPrompt("Database performance analysis guide", text), nil
}

func (h *handlers) dataMigrationPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	target := req.Params.Arguments["target_platform"]
	if target == "" {
		target = "the target platform"
	}
	text := fmt.Sprintf(`Plan a data migration from this SQL Server database to %s.

1. Inventory: read the database://schema resource for the complete table list,
   columns and row counts.
2. Type mapping: for each table, map T-SQL column types to %s equivalents;
   call out lossy conversions (datetimeoffset, money, uniqueidentifier).
3. Ordering: migrate parent tables before children to satisfy foreign keys.
4. Validation: after each table, compare row counts and spot-check with
   read_data on both sides.
5. Cutover: plan a freeze window for tables receiving writes.

Produce the plan as a numbered checklist with one line per table.`, target, target)
	return userPrompt("Data migration planning guide", text), nil
}

func (h *handlers) troubleshootingPrompt(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	text := `Troubleshoot problems with this database connection step by step.

1. Call health_check: note status, session_state and error_rate_percent.
2. If session_state is "closed" the server exhausted its connection retries;
   the process must be restarted after fixing credentials or networking.
3. If status is "degraded", look at recent tool errors:
   - "validation" errors mean the statement was rejected before reaching the
     database; fix the SQL.
   - "execution" errors mean the database answered with an error; read the
     message.
   - "connection" errors mean the session dropped; retry once, then check
     server reachability and firewall rules.
4. Authentication failures ("authentication" errors) mean the token or
   credentials were rejected; verify the auth mode and identity configuration.
5. "busy" errors mean the concurrency cap was hit; retry with backoff.

Summarize the diagnosis and the single next action to take.`
	return userPrompt("Database troubleshooting guide", text), nil
}
