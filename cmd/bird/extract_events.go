package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teaguesterling/bird/internal/events"
	"github.com/teaguesterling/bird/internal/store"
)

var (
	extractFormat string
	extractForce  bool
	extractAll    bool
	extractSince  string
	extractLimit  int
	extractDryRun bool
)

var extractEventsCmd = &cobra.Command{
	Use:     "extract-events [selector]",
	GroupID: "inspect",
	Short:   "Extract structured events from one or more invocations' output",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(rootCtx, rootDir)
		if err != nil {
			return err
		}
		defer s.Close()

		reg := events.NewRegistry(s.Hints)

		if extractAll {
			return extractEventsBackfill(s, reg)
		}

		selector := ""
		if len(args) == 1 {
			selector = args[0]
		}
		invocationID, err := resolveQueryToInvocation(s, selector)
		if err != nil {
			return err
		}
		if invocationID == "" {
			fmt.Println("No matching invocation found.")
			return nil
		}
		return extractOne(s, reg, invocationID)
	},
}

func init() {
	extractEventsCmd.Flags().StringVar(&extractFormat, "format", "", "force a specific parser format")
	extractEventsCmd.Flags().BoolVar(&extractForce, "force", false, "re-extract even if events already exist")
	extractEventsCmd.Flags().BoolVar(&extractAll, "all", false, "backfill every invocation missing events")
	extractEventsCmd.Flags().StringVar(&extractSince, "since", "", "only backfill invocations on or after this date")
	extractEventsCmd.Flags().IntVar(&extractLimit, "limit", 0, "cap the number of invocations backfilled (0 = unlimited)")
	extractEventsCmd.Flags().BoolVar(&extractDryRun, "dry-run", false, "report what would be extracted without writing")
}

func extractOne(s *store.Store, reg *events.Registry, invocationID string) error {
	if !extractForce {
		var existing int64
		if err := s.DB.QueryRowContext(rootCtx, `
			SELECT count(*) FROM main.events WHERE invocation_id = ?`, invocationID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			fmt.Printf("invocation %s already has %d events; use --force to re-extract\n", invocationID, existing)
			return nil
		}
	}

	cmdStr, content, ok := invocationOutputForReparse(s, invocationID)
	if !ok {
		fmt.Printf("no output to extract for invocation %s\n", invocationID)
		return nil
	}
	if extractDryRun {
		fmt.Printf("would extract events from invocation %s (%d bytes)\n", invocationID, len(content))
		return nil
	}
	if extractForce {
		if err := s.Events.DeleteForInvocation(rootCtx, invocationID); err != nil {
			return err
		}
	}
	count, err := s.Events.Extract(rootCtx, reg, invocationID, s.Config.ClientID, "", cmdStr, content, extractFormat)
	if err != nil {
		return err
	}
	fmt.Printf("extracted %d events from invocation %s\n", count, invocationID)
	return nil
}

// extractEventsBackfill runs extraction over every invocation with no
// events yet, restricted by --since and capped by --limit.
func extractEventsBackfill(s *store.Store, reg *events.Registry) error {
	q := `
		SELECT i.id FROM main.invocations i
		WHERE NOT EXISTS (SELECT 1 FROM main.events e WHERE e.invocation_id = i.id)`
	var args []any
	if extractSince != "" {
		q += " AND i.date >= ?"
		args = append(args, extractSince)
	}
	q += " ORDER BY i.timestamp DESC"
	if extractLimit > 0 {
		q += fmt.Sprintf(" LIMIT %d", extractLimit)
	}

	rows, err := s.DB.QueryContext(rootCtx, q, args...)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	total := 0
	for _, id := range ids {
		cmdStr, content, ok := invocationOutputForReparse(s, id)
		if !ok {
			continue
		}
		if extractDryRun {
			total++
			continue
		}
		count, err := s.Events.Extract(rootCtx, reg, id, s.Config.ClientID, "", cmdStr, content, extractFormat)
		if err != nil {
			return err
		}
		total += count
	}
	if extractDryRun {
		fmt.Printf("would extract events from %d invocations\n", total)
	} else {
		fmt.Printf("extracted %d events from %d invocations\n", total, len(ids))
	}
	return nil
}
