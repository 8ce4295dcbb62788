package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/query"
	"github.com/teaguesterling/bird/internal/store"
)

var sqlCmd = &cobra.Command{
	Use:     "sql QUERY",
	Aliases: []string{"q"},
	GroupID: "inspect",
	Short:   "Run a raw SQL query against the store",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		rows, err := query.Exec(rootCtx, s.DB, args[0])
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}

		var table [][]string
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			row := make([]string, len(cols))
			for i, v := range vals {
				row[i] = fmt.Sprint(v)
				if v == nil {
					row[i] = ""
				}
			}
			table = append(table, row)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if len(table) == 0 {
			fmt.Println("No results.")
			return nil
		}
		printSQLTable(cols, table)
		return nil
	},
}

// printSQLTable renders a result grid with per-column widths capped at 50
// characters, truncating longer values with "...", the way the original
// CLI's `sql` command formats output.
func printSQLTable(cols []string, rows [][]string) {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i, v := range row {
			n := len(v)
			if n > 50 {
				n = 50
			}
			if n > widths[i] {
				widths[i] = n
			}
		}
	}

	printRow := func(vals []string) {
		var b strings.Builder
		for i, v := range vals {
			if len(v) > 50 {
				v = v[:47] + "..."
			}
			fmt.Fprintf(&b, "%-*s ", widths[i], v)
		}
		fmt.Println(strings.TrimRight(b.String(), " "))
	}

	printRow(cols)
	sep := make([]string, len(cols))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	printRow(sep)
	for _, row := range rows {
		printRow(row)
	}
	fmt.Printf("\n(%d rows)\n", len(rows))
}
