package server

import (
	"fmt"
	"strings"

	"github.com/SedlarDavid/azuresql-mcp/internal/db"
)

const cellWidth = 15

// formatRowSet renders a bounded query result as a fixed-width text table
// with column headers.
func formatRowSet(rs *db.RowSet) string {
	if len(rs.Rows) == 0 {
		return "Query executed successfully but returned no rows."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Query Results (%d rows):\n", len(rs.Rows))
	b.WriteString(strings.Repeat("=", 50) + "\n")

	header := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		header[i] = pad(c)
	}
	headerLine := strings.Join(header, " | ")
	b.WriteString(headerLine + "\n")
	b.WriteString(strings.Repeat("-", len(headerLine)) + "\n")

	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = pad(cellString(v))
		}
		b.WriteString(strings.Join(cells, " | ") + "\n")
	}
	if rs.Truncated {
		b.WriteString("... result truncated at the row limit\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func cellString(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func pad(s string) string {
	if len(s) > cellWidth {
		return s[:cellWidth]
	}
	return s + strings.Repeat(" ", cellWidth-len(s))
}

// formatColumns renders describe_table output.
func formatColumns(table string, cols []db.ColumnInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Structure of table '%s':\n", table)
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, c := range cols {
		nullable := "NOT NULL"
		if c.Nullable {
			nullable = "NULL"
		}
		pk := ""
		if c.IsPK {
			pk = " PRIMARY KEY"
		}
		def := ""
		if c.Default != "" {
			def = " DEFAULT " + c.Default
		}
		fmt.Fprintf(&b, "%2d. %s (%s) %s%s%s\n", c.Position, c.Name, c.Type, nullable, pk, def)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatTables renders list_tables output.
func formatTables(tables []string) string {
	if len(tables) == 0 {
		return "No tables found in the database."
	}
	return fmt.Sprintf("Available tables (%d): %s", len(tables), strings.Join(tables, ", "))
}
