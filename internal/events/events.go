// Package events extracts structured Event rows from captured Output
// bytes, using a pluggable Parser per resolved format (spec.md §4.7).
// Re-extraction (`bird extract-events`) deletes and rewrites an
// invocation's events rather than appending, keeping the operation
// idempotent.
package events

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teaguesterling/bird/internal/columnar"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/formathints"
	"github.com/teaguesterling/bird/internal/tablewriter"
	"github.com/teaguesterling/bird/internal/types"
)

// Parser extracts events from one output's raw bytes. Concrete formats
// (cargo test's JSON lines, pytest's summary, generic grep-for-ERROR, etc.)
// register under a format name; spec.md's Non-goals exclude shipping
// every parser in-tree, so this package defines only the seam: no parser is
// built in, and a Registry starts empty until callers Register one.
type Parser interface {
	Parse(ctx context.Context, invocationID string, content []byte) ([]types.Event, error)
}

// Registry maps format names to Parsers (spec.md §4.7's "format_used"
// column records which entry produced a given event).
type Registry struct {
	parsers map[string]Parser
	hints   *formathints.Store
}

// NewRegistry returns an empty registry backed by hints for format
// resolution.
func NewRegistry(hints *formathints.Store) *Registry {
	return &Registry{parsers: make(map[string]Parser), hints: hints}
}

// Register adds or replaces the Parser for format.
func (r *Registry) Register(format string, p Parser) { r.parsers[format] = p }

// Resolve picks a Parser for candidate (the invocation's command string),
// via the format-hint rule store, falling back to the "auto" parser if the
// resolved format has no registered Parser (spec.md §4.7).
func (r *Registry) Resolve(candidate string) (format string, p Parser, ok bool) {
	f := r.hints.Resolve(candidate)
	if p, ok := r.parsers[f]; ok {
		return f, p, true
	}
	if p, ok := r.parsers["auto"]; ok {
		return "auto", p, true
	}
	return "", nil, false
}

// ResolveForced is Resolve, except forced (when non-empty and registered)
// wins outright, bypassing the format-hint store entirely. Backs the CLI's
// `--format` override on `bird events --reparse` and `bird extract-events`.
func (r *Registry) ResolveForced(forced, candidate string) (format string, p Parser, ok bool) {
	if forced != "" {
		if p, ok := r.parsers[forced]; ok {
			return forced, p, true
		}
	}
	return r.Resolve(candidate)
}

// Pipeline writes extracted events through whichever backing writer the
// store uses, mirroring internal/invocation's dual-mode split.
type Pipeline struct {
	db   *sql.DB
	cfg  config.Config
	mode config.StorageMode

	col *columnar.Writer
	tw  *tablewriter.Writer
}

// New returns a Pipeline for writing Event rows.
func New(db *sql.DB, cfg config.Config, mode config.StorageMode) *Pipeline {
	return &Pipeline{db: db, cfg: cfg, mode: mode, col: columnar.New(cfg, "events"), tw: tablewriter.New(db)}
}

// Extract runs the resolved parser over content and writes the resulting
// events, stamping each with a fresh id and invocationID/clientID/hostname.
// An empty forced defers entirely to the format-hint store; otherwise
// forced overrides resolution when it names a registered parser. A parser
// error is logged as a warning through slog's default logger and yields
// zero events with a nil error.
func (p *Pipeline) Extract(ctx context.Context, reg *Registry, invocationID, clientID, hostname, candidate string, content []byte, forced string) (int, error) {
	format, parser, ok := reg.ResolveForced(forced, candidate)
	if !ok {
		return 0, nil
	}
	found, err := parser.Parse(ctx, invocationID, content)
	if err != nil {
		slog.Warn("event parser failed; no events extracted", "format", format, "invocation_id", invocationID, "err", err)
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range found {
		id, err := uuid.NewV7()
		if err != nil {
			return 0, errs.Storagef("generate event id: %w", err)
		}
		found[i].ID = id.String()
		found[i].InvocationID = invocationID
		found[i].ClientID = clientID
		found[i].Hostname = hostname
		found[i].FormatUsed = format
		found[i].Date = types.DateOf(now)
		found[i].ExtractedAt = now
	}
	if err := p.write(ctx, found); err != nil {
		return 0, err
	}
	return len(found), nil
}

func (p *Pipeline) write(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	switch p.mode {
	case config.StorageDuckDB:
		for _, e := range events {
			if err := p.tw.InsertEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return p.col.WriteEvents(ctx, events[0].Date, events[0].InvocationID, events)
	}
}

// DeleteForInvocation removes every event row for invocationID, the first
// half of re-extraction's "delete then write" contract (spec.md §4.7). In
// table-writer mode this is a plain DELETE. In parquet mode, individual
// parquet files are immutable between flushes (spec.md §4.3), so deletion
// instead upserts a tombstone recording the instant of deletion; the
// main.events view (internal/schema) hides rows extracted at or before
// that instant and re-admits any written after, which is what keeps a
// subsequent re-extraction visible (spec.md §8 idempotence).
func (p *Pipeline) DeleteForInvocation(ctx context.Context, invocationID string) error {
	if p.mode != config.StorageDuckDB {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO local.event_tombstones (invocation_id, deleted_at) VALUES (?, ?)
			ON CONFLICT (invocation_id) DO UPDATE SET deleted_at = excluded.deleted_at`,
			invocationID, time.Now().UTC())
		if err != nil {
			return errs.Storagef("tombstone events for invocation: %w", err)
		}
		return nil
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM local.events WHERE invocation_id = ?`, invocationID)
	if err != nil {
		return errs.Storagef("delete events for invocation: %w", err)
	}
	return nil
}
