// Package tablewriter implements spec.md §4.4's alternative storage mode:
// instead of flushing parquet partitions, rows are inserted directly into
// the embedded engine's local.* tables via ordinary parameterized INSERTs.
// Chosen once at store init (config.StorageMode) and never mixed with
// internal/columnar within the same store.
package tablewriter

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/types"
)

// Writer inserts rows straight into local.* tables, skipping the
// partition-file indirection columnar.Writer uses.
type Writer struct {
	db *sql.DB
}

// New returns a Writer bound to db (expected to already have the local
// schema from internal/schema).
func New(db *sql.DB) *Writer { return &Writer{db: db} }

// InsertAttempt writes one attempt row directly, same shape as the parquet
// path's attemptRow but without the flush/merge indirection (spec.md §4.4:
// "a row is durable the instant the INSERT's transaction commits").
func (w *Writer) InsertAttempt(ctx context.Context, a types.Attempt) error {
	meta, err := json.Marshal(a.Metadata.Plain())
	if err != nil {
		return errs.Storagef("marshal attempt metadata: %w", err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO local.attempts
			(id, timestamp, session_id, client_id, hostname, username, cmd, cwd,
			 executable_hint, format_hint, tag, machine_id, metadata, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp, a.SessionID, a.ClientID, a.Hostname, a.Username, a.Cmd, a.Cwd,
		a.ExecutableHint, a.FormatHint, nullIfEmpty(a.Tag), a.MachineID, string(meta), a.Date)
	if err != nil {
		return errs.Storagef("insert attempt: %w", err)
	}
	return nil
}

// InsertOutcome writes one outcome row directly (spec.md §4.4).
func (w *Writer) InsertOutcome(ctx context.Context, o types.Outcome) error {
	meta, err := json.Marshal(o.Metadata.Plain())
	if err != nil {
		return errs.Storagef("marshal outcome metadata: %w", err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO local.outcomes
			(attempt_id, completed_at, exit_code, duration_ms, signal, timeout, metadata, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.AttemptID, o.CompletedAt, o.ExitCode, o.DurationMs, o.Signal, o.Timeout, string(meta), o.Date)
	if err != nil {
		return errs.Storagef("insert outcome: %w", err)
	}
	return nil
}

// InsertOutput writes one output row directly.
func (w *Writer) InsertOutput(ctx context.Context, o types.Output) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO local.outputs
			(id, invocation_id, stream, content_hash, byte_length, storage_type, storage_ref, content_type, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.InvocationID, o.Stream, o.ContentHash, o.ByteLength, string(o.StorageType), o.StorageRef, o.ContentType, o.Date)
	if err != nil {
		return errs.Storagef("insert output: %w", err)
	}
	return nil
}

// InsertEvent writes one event row directly.
func (w *Writer) InsertEvent(ctx context.Context, e types.Event) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO local.events
			(id, invocation_id, client_id, hostname, event_type, severity, ref_file, ref_line,
			 ref_column, message, error_code, test_name, status, format_used, date, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.InvocationID, e.ClientID, e.Hostname, e.EventType, string(e.Severity), e.RefFile,
		e.RefLine, e.RefColumn, e.Message, e.ErrorCode, e.TestName, e.Status, e.FormatUsed, e.Date, e.ExtractedAt)
	if err != nil {
		return errs.Storagef("insert event: %w", err)
	}
	return nil
}

// InsertSession inserts one session row, leaving any existing row for the
// same session_id unchanged (sessions are registered once per invoker
// instance and never re-inserted, spec.md §3).
func (w *Writer) InsertSession(ctx context.Context, s types.Session) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO local.sessions
			(session_id, client_id, invoker, invoker_pid, invoker_type, registered_at, cwd, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING`,
		s.SessionID, s.ClientID, s.Invoker, s.InvokerPID, s.InvokerType, s.RegisteredAt, s.Cwd, s.Date)
	if err != nil {
		return errs.Storagef("insert session: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
