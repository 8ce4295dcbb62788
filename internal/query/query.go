// Package query provides the SQL execution surface bird exposes to
// `bird sql` and the filter-to-SQL translation used by the higher-level
// list/history commands (spec.md §1 "the query micro-language parser...
// treated as a producer of filter structures the core accepts").
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/teaguesterling/bird/internal/errs"
)

// Exec runs raw SQL against db and returns the resulting *sql.Rows,
// unmodified passthrough for `bird sql`/`bird q` (spec.md §6).
func Exec(ctx context.Context, db *sql.DB, query string) (*sql.Rows, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Storagef("execute query: %w", err)
	}
	return rows, nil
}

// FilterSet is the already-parsed structure the query micro-language
// parser (out of scope per spec.md §1) produces and this package consumes.
// Every field is optional; zero value means "no constraint".
type FilterSet struct {
	Cmd        string // glob, matched via LIKE fallback
	Cwd        string
	Tag        string
	Status     string // "pending" | "completed" | "orphaned"
	Since      string // date lower bound, inclusive
	Until      string // date upper bound, inclusive
	ExitCode   *int32
	ClientID   string
	SessionID  string
}

// FilterToSQL translates f into a parameterized WHERE fragment (without
// the leading "WHERE") plus its positional args, suitable for appending to
// a query over the `invocations` view. An empty FilterSet yields "TRUE"
// with no args, so callers can always do `"SELECT * FROM invocations WHERE " + clause`.
func FilterToSQL(f FilterSet) (string, []any) {
	var clauses []string
	var args []any

	if f.Cmd != "" {
		clauses = append(clauses, "cmd LIKE ? ESCAPE '\\'")
		args = append(args, GlobToLike(f.Cmd))
	}
	if f.Cwd != "" {
		clauses = append(clauses, "cwd = ?")
		args = append(args, f.Cwd)
	}
	if f.Tag != "" {
		clauses = append(clauses, "tag = ?")
		args = append(args, f.Tag)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Since != "" {
		clauses = append(clauses, "date >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "date <= ?")
		args = append(args, f.Until)
	}
	if f.ExitCode != nil {
		clauses = append(clauses, "exit_code = ?")
		args = append(args, *f.ExitCode)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}

	if len(clauses) == 0 {
		return "TRUE", nil
	}
	return strings.Join(clauses, " AND "), args
}

// SelectInvocations builds "SELECT * FROM <schema>.invocations WHERE
// <filter>" for f against schema (typically "main" or "unified").
func SelectInvocations(schema string, f FilterSet) (string, []any) {
	where, args := FilterToSQL(f)
	return fmt.Sprintf("SELECT * FROM %s.invocations WHERE %s", schema, where), args
}
