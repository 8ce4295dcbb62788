package main

import (
	"github.com/teaguesterling/bird/internal/events"
	"github.com/teaguesterling/bird/internal/store"
)

// extractBeforeMaintenance runs event extraction over every invocation
// still missing events, optionally restricted to dates on/after since, for
// compact/archive's --extract-first option.
func extractBeforeMaintenance(s *store.Store, since string) (extracted, invocationCount int, err error) {
	reg := events.NewRegistry(s.Hints)

	q := `
		SELECT i.id FROM main.invocations i
		WHERE NOT EXISTS (SELECT 1 FROM main.events e WHERE e.invocation_id = i.id)`
	var args []any
	if since != "" {
		q += " AND i.date >= ?"
		args = append(args, since)
	}

	rows, err := s.DB.QueryContext(rootCtx, q, args...)
	if err != nil {
		return 0, 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		cmdStr, content, ok := invocationOutputForReparse(s, id)
		if !ok {
			continue
		}
		count, err := s.Events.Extract(rootCtx, reg, id, s.Config.ClientID, "", cmdStr, content, "")
		if err != nil {
			return extracted, len(ids), err
		}
		extracted += count
	}
	return extracted, len(ids), nil
}
