package server

import (
	"regexp"
	"strings"

	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// identifier allow-list: unquoted SQL identifiers only. Anything else
// (spaces, semicolons, brackets, quotes) is rejected before SQL is built.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects names that are not plain identifiers.
func ValidateIdentifier(kind, name string) error {
	if name == "" {
		return mcperr.Newf(mcperr.KindValidation, "%s is required", kind)
	}
	if !identRe.MatchString(name) {
		return mcperr.Newf(mcperr.KindValidation,
			"invalid %s %q: only letters, digits and underscores are allowed", kind, name)
	}
	return nil
}

// keywords that a read-only query must not contain
var forbiddenSQLWords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "EXEC", "EXECUTE", "MERGE", "REPLACE",
}

var (
	sqlLineComment  = regexp.MustCompile(`--[^\n]*`)
	sqlBlockComment = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	forbiddenWordRe = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenSQLWords, "|") + `)\b`)
	whereRe         = regexp.MustCompile(`(?i)\bWHERE\b`)
)

func stripComments(sql string) string {
	cleaned := sqlLineComment.ReplaceAllString(sql, " ")
	cleaned = sqlBlockComment.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// ValidateSelectOnly returns a validation error if sql is not a read-only
// SELECT (or WITH ... SELECT) statement. It strips line (--) and block
// (/* */) comments before checking. A keyword heuristic, not a full parser.
func ValidateSelectOnly(sql string) error {
	cleaned := stripComments(sql)
	if cleaned == "" {
		return mcperr.New(mcperr.KindValidation, "query is required")
	}
	upper := strings.ToUpper(cleaned)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return mcperr.New(mcperr.KindValidation, "read_data accepts SELECT statements only")
	}
	if loc := forbiddenWordRe.FindStringIndex(cleaned); loc != nil {
		word := strings.ToUpper(cleaned[loc[0]:loc[1]])
		return mcperr.Newf(mcperr.KindValidation, "read-only queries only: found %q", word)
	}
	return nil
}

// ValidateInsertOnly accepts a single INSERT statement and nothing else.
func ValidateInsertOnly(sql string) error {
	cleaned := stripComments(sql)
	if cleaned == "" {
		return mcperr.New(mcperr.KindValidation, "sql is required")
	}
	if !strings.HasPrefix(strings.ToUpper(cleaned), "INSERT") {
		return mcperr.New(mcperr.KindValidation,
			"insert_data accepts INSERT statements only; use update_data for UPDATE/DELETE or read_data for SELECT")
	}
	if err := rejectSecondaryStatements(cleaned, "INSERT"); err != nil {
		return err
	}
	return nil
}

// ValidateUpdateDelete accepts a single UPDATE or DELETE statement and
// requires a WHERE clause on either: an unbounded mutation is never
// accepted through this tool.
func ValidateUpdateDelete(sql string) error {
	cleaned := stripComments(sql)
	if cleaned == "" {
		return mcperr.New(mcperr.KindValidation, "sql is required")
	}
	upper := strings.ToUpper(cleaned)
	verb := ""
	switch {
	case strings.HasPrefix(upper, "UPDATE"):
		verb = "UPDATE"
	case strings.HasPrefix(upper, "DELETE"):
		verb = "DELETE"
	default:
		return mcperr.New(mcperr.KindValidation,
			"update_data accepts UPDATE and DELETE statements only; use insert_data for INSERT or read_data for SELECT")
	}
	if !whereRe.MatchString(cleaned) {
		return mcperr.Newf(mcperr.KindValidation,
			"%s statements without a WHERE clause are not allowed; add a WHERE condition", verb)
	}
	if err := rejectSecondaryStatements(cleaned, "UPDATE", "DELETE"); err != nil {
		return err
	}
	return nil
}

// rejectSecondaryStatements scans for mutating/DDL keywords other than the
// allowed verbs, catching piggybacked statements like
// "INSERT ...; DROP TABLE x".
func rejectSecondaryStatements(cleaned string, allowed ...string) error {
	for _, m := range forbiddenWordRe.FindAllString(cleaned, -1) {
		word := strings.ToUpper(m)
		ok := false
		for _, a := range allowed {
			if word == a {
				ok = true
				break
			}
		}
		if !ok {
			return mcperr.Newf(mcperr.KindValidation, "statement contains forbidden keyword %q", word)
		}
	}
	return nil
}

// ValidateLimit bounds the read_data row cap.
func ValidateLimit(limit int) error {
	if limit < 1 || limit > 10000 {
		return mcperr.Newf(mcperr.KindValidation, "limit must be between 1 and 10000, got %d", limit)
	}
	return nil
}
