package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/query"
	"github.com/teaguesterling/bird/internal/store"
)

var (
	invocationsFormat string
	invocationsLimit  int
)

var invocationsCmd = &cobra.Command{
	Use:     "invocations [query]",
	Aliases: []string{"history", "i"},
	GroupID: "inspect",
	Short:   "List recent invocations",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := ""
		if len(args) == 1 {
			q = args[0]
		}
		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		filter := parseQueryArg(q)
		sqlStr, sqlArgs := query.SelectInvocations("main", filter)
		sqlStr += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", invocationsLimit)

		rows, err := s.DB.QueryContext(rootCtx, sqlStr, sqlArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		invs, err := scanInvocationRows(rows)
		if err != nil {
			return err
		}
		if len(invs) == 0 {
			fmt.Println("No invocations recorded yet.")
			return nil
		}
		printInvocations(invs, invocationsFormat)
		return nil
	},
}

func init() {
	invocationsCmd.Flags().StringVar(&invocationsFormat, "format", "table", "output format: table, json, or oneline")
	invocationsCmd.Flags().IntVar(&invocationsLimit, "limit", 20, "maximum invocations to show")
}

type invocationRow struct {
	id         string
	timestamp  string
	cmd        string
	exitCode   *int32
	durationMs *int64
}

// scanInvocationRows reads id/timestamp/cmd/exit_code/duration_ms from a
// query over main.invocations, ignoring columns the printers don't need.
func scanInvocationRows(rows *sql.Rows) ([]invocationRow, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, c := range cols {
		idx[c] = i
	}
	var out []invocationRow
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		var r invocationRow
		if i, ok := idx["id"]; ok {
			r.id, _ = vals[i].(string)
		}
		if i, ok := idx["timestamp"]; ok {
			r.timestamp = fmt.Sprint(vals[i])
		}
		if i, ok := idx["cmd"]; ok {
			r.cmd, _ = vals[i].(string)
		}
		if i, ok := idx["exit_code"]; ok && vals[i] != nil {
			ec := toInt32(vals[i])
			r.exitCode = &ec
		}
		if i, ok := idx["duration_ms"]; ok && vals[i] != nil {
			dm := toInt64(vals[i])
			r.durationMs = &dm
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func toInt32(v any) int32 {
	switch n := v.(type) {
	case int64:
		return int32(n)
	case int32:
		return n
	case float64:
		return int32(n)
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// printInvocations renders rows in table, json, or oneline form, grounded
// on the original CLI's three-format switch.
func printInvocations(rows []invocationRow, format string) {
	switch format {
	case "json":
		fmt.Println("[")
		for i, r := range rows {
			comma := ","
			if i == len(rows)-1 {
				comma = ""
			}
			exit := "null"
			if r.exitCode != nil {
				exit = fmt.Sprint(*r.exitCode)
			}
			dur := int64(0)
			if r.durationMs != nil {
				dur = *r.durationMs
			}
			fmt.Printf("  {\"id\": %q, \"timestamp\": %q, \"cmd\": %q, \"exit_code\": %s, \"duration_ms\": %d}%s\n",
				r.id, r.timestamp, r.cmd, exit, dur, comma)
		}
		fmt.Println("]")
	case "oneline":
		for _, r := range rows {
			dur := "-"
			if r.durationMs != nil {
				dur = fmt.Sprintf("%dms", *r.durationMs)
			}
			exit := "-"
			if r.exitCode != nil {
				exit = fmt.Sprint(*r.exitCode)
			}
			id := r.id
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s [%s] %s %s\n", id, exit, dur, r.cmd)
		}
	default:
		fmt.Printf("%-20s %-6s %-10s %s\n", "TIMESTAMP", "EXIT", "DURATION", "COMMAND")
		fmt.Println(strings.Repeat("-", 80))
		for _, r := range rows {
			dur := "-"
			if r.durationMs != nil {
				dur = fmt.Sprintf("%dms", *r.durationMs)
			}
			exit := "-"
			if r.exitCode != nil {
				exit = fmt.Sprint(*r.exitCode)
			}
			ts := r.timestamp
			if len(ts) > 19 {
				ts = ts[11:19]
			}
			cmdDisplay := r.cmd
			if len(cmdDisplay) > 50 {
				cmdDisplay = cmdDisplay[:47] + "..."
			}
			fmt.Printf("%-20s %-6s %-10s %s\n", ts, exit, dur, cmdDisplay)
		}
	}
}
