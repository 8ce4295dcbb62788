package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/events"
	"github.com/teaguesterling/bird/internal/store"
)

var (
	eventsSeverity string
	eventsCount    bool
	eventsLimit    int
	eventsReparse  bool
	eventsFormat   string
)

var eventsCmd = &cobra.Command{
	Use:     "events [query]",
	Aliases: []string{"e"},
	GroupID: "inspect",
	Short:   "List structured events extracted from recent invocations",
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

		n := 10
		if invocationsLimitOverride(q) > 0 {
			n = invocationsLimitOverride(q)
		}

		ids, err := recentInvocationIDs(s, n)
		if err != nil {
			return err
		}

		if eventsReparse {
			reg := events.NewRegistry(s.Hints)
			total := 0
			for _, id := range ids {
				if err := s.Events.DeleteForInvocation(rootCtx, id); err != nil {
					return err
				}
				cmdStr, content, ok := invocationOutputForReparse(s, id)
				if !ok {
					continue
				}
				count, err := s.Events.Extract(rootCtx, reg, id, s.Config.ClientID, "", cmdStr, content, eventsFormat)
				if err != nil {
					return err
				}
				total += count
			}
			fmt.Printf("Re-extracted %d events from %d invocations\n", total, len(ids))
			return nil
		}

		if len(ids) == 0 {
			fmt.Println("No invocations found.")
			return nil
		}

		rows, err := queryEventsForInvocations(s, ids, eventsSeverity, eventsLimit)
		if err != nil {
			return err
		}

		if eventsCount {
			fmt.Println(len(rows))
			return nil
		}
		if len(rows) == 0 {
			fmt.Println("No events found.")
			return nil
		}
		printEvents(rows)
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsSeverity, "severity", "s", "", "filter by severity")
	eventsCmd.Flags().BoolVar(&eventsCount, "count", false, "print only the matching event count")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 100, "maximum events to show")
	eventsCmd.Flags().BoolVar(&eventsReparse, "reparse", false, "delete and re-extract events for recent invocations")
	eventsCmd.Flags().StringVar(&eventsFormat, "format", "", "force a specific parser format")
}

// invocationsLimitOverride lets the query string's bare integer act as a
// recency window, mirroring the original query language's `~N` range form
// loosely (full range syntax is out of scope per spec.md §1).
func invocationsLimitOverride(q string) int {
	q = strings.TrimPrefix(q, "~")
	n := 0
	for _, r := range q {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

type eventRow struct {
	severity  string
	refFile   string
	refLine   int64
	errorCode string
	testName  string
	message   string
}

func recentInvocationIDs(s *store.Store, n int) ([]string, error) {
	rows, err := s.DB.QueryContext(rootCtx, `SELECT id FROM main.invocations ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryEventsForInvocations(s *store.Store, ids []string, severity string, limit int) ([]eventRow, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q := fmt.Sprintf(`
		SELECT severity, ref_file, coalesce(ref_line, 0), error_code, test_name, message
		FROM main.events WHERE invocation_id IN (%s)`, placeholders)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if severity != "" {
		q += " AND severity = ?"
		args = append(args, severity)
	}
	q += fmt.Sprintf(" ORDER BY date DESC LIMIT %d", limit)

	rows, err := s.DB.QueryContext(rootCtx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []eventRow
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(&r.severity, &r.refFile, &r.refLine, &r.errorCode, &r.testName, &r.message); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func printEvents(rows []eventRow) {
	fmt.Printf("%-8s %-40s %-30s %s\n", "SEVERITY", "FILE:LINE", "CODE", "MESSAGE")
	fmt.Println(strings.Repeat("-", 100))
	for _, r := range rows {
		location := "-"
		if r.refFile != "" {
			if r.refLine > 0 {
				location = fmt.Sprintf("%s:%d", truncate(r.refFile, 35), r.refLine)
			} else {
				location = truncate(r.refFile, 40)
			}
		}
		code := r.errorCode
		if code == "" {
			code = r.testName
		}
		if code == "" {
			code = "-"
		}
		message := "-"
		if r.message != "" {
			message = truncate(r.message, 50)
		}
		fmt.Printf("%s %-40s %-30s %s\n", severityDisplay(r.severity), location, code, message)
	}
	fmt.Printf("\n(%d events)\n", len(rows))
}

func severityDisplay(sev string) string {
	switch sev {
	case "error":
		return fmt.Sprintf("\x1b[31m%-8s\x1b[0m", sev)
	case "warning":
		return fmt.Sprintf("\x1b[33m%-8s\x1b[0m", sev)
	default:
		if sev == "" {
			sev = "-"
		}
		return fmt.Sprintf("%-8s", sev)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// invocationOutputForReparse reads back an invocation's command string and
// concatenated output content for --reparse, the input extract needs.
func invocationOutputForReparse(s *store.Store, invocationID string) (cmdStr string, content []byte, ok bool) {
	if err := s.DB.QueryRowContext(rootCtx, `SELECT cmd FROM main.invocations WHERE id = ?`, invocationID).Scan(&cmdStr); err != nil {
		return "", nil, false
	}
	rows, err := s.DB.QueryContext(rootCtx, `SELECT storage_ref FROM main.outputs WHERE invocation_id = ?`, invocationID)
	if err != nil {
		return cmdStr, nil, false
	}
	defer rows.Close()
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			continue
		}
		if data, err := s.Blobs.Open(rootCtx, ref); err == nil {
			content = append(content, data...)
		}
	}
	return cmdStr, content, len(content) > 0
}
