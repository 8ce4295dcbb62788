// Package columnar implements spec.md §4.3's append-only partitioned
// parquet writer: files under recent/<table>/date=<date>/, named per table
// (see each Write* method), written via
// xitongsys/parquet-go the way a COPY TO statement would, but driven from
// Go structs so batches can be assembled in memory before a single flush.
package columnar

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/types"
)

// Row is any of the five parquet-tagged row structs below.
type Row interface {
	attemptRow | outcomeRow | outputRow | eventRow | sessionRow
}

type attemptRow struct {
	ID             string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp      int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	SessionID      string `parquet:"name=session_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClientID       string `parquet:"name=client_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hostname       string `parquet:"name=hostname, type=BYTE_ARRAY, convertedtype=UTF8"`
	Username       string `parquet:"name=username, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cmd            string `parquet:"name=cmd, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cwd            string `parquet:"name=cwd, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExecutableHint string `parquet:"name=executable_hint, type=BYTE_ARRAY, convertedtype=UTF8"`
	FormatHint     string `parquet:"name=format_hint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tag            string `parquet:"name=tag, type=BYTE_ARRAY, convertedtype=UTF8"`
	MachineID      string `parquet:"name=machine_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metadata       string `parquet:"name=metadata, type=BYTE_ARRAY, convertedtype=UTF8"` // JSON-encoded
}

type outcomeRow struct {
	AttemptID   string `parquet:"name=attempt_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CompletedAt int64  `parquet:"name=completed_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	ExitCode    *int32 `parquet:"name=exit_code, type=INT32"`
	DurationMs  *int64 `parquet:"name=duration_ms, type=INT64"`
	Signal      *int32 `parquet:"name=signal, type=INT32"`
	Timeout     bool   `parquet:"name=timeout, type=BOOLEAN"`
	Metadata    string `parquet:"name=metadata, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type outputRow struct {
	ID           string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	InvocationID string `parquet:"name=invocation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Stream       string `parquet:"name=stream, type=BYTE_ARRAY, convertedtype=UTF8"`
	ContentHash  string `parquet:"name=content_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	ByteLength   int64  `parquet:"name=byte_length, type=INT64"`
	StorageType  string `parquet:"name=storage_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	StorageRef   string `parquet:"name=storage_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	ContentType  string `parquet:"name=content_type, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type eventRow struct {
	ID           string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	InvocationID string `parquet:"name=invocation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClientID     string `parquet:"name=client_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hostname     string `parquet:"name=hostname, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType    string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Severity     string `parquet:"name=severity, type=BYTE_ARRAY, convertedtype=UTF8"`
	RefFile      string `parquet:"name=ref_file, type=BYTE_ARRAY, convertedtype=UTF8"`
	RefLine      int64  `parquet:"name=ref_line, type=INT64"`
	RefColumn    int64  `parquet:"name=ref_column, type=INT64"`
	Message      string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	ErrorCode    string `parquet:"name=error_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	TestName     string `parquet:"name=test_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status       string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	FormatUsed   string `parquet:"name=format_used, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExtractedAt  int64  `parquet:"name=extracted_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
}

type sessionRow struct {
	SessionID    string `parquet:"name=session_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClientID     string `parquet:"name=client_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Invoker      string `parquet:"name=invoker, type=BYTE_ARRAY, convertedtype=UTF8"`
	InvokerPID   int64  `parquet:"name=invoker_pid, type=INT64"`
	InvokerType  string `parquet:"name=invoker_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	RegisteredAt int64  `parquet:"name=registered_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Cwd          string `parquet:"name=cwd, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Writer appends rows of one logical table to per-date partition files.
// Each Write* call produces one new file, except WriteOutputs, which writes
// one file per output; a later write under an already-used name (outcomes
// and sessions) replaces that file.
type Writer struct {
	cfg   config.Config
	table string
}

// New returns a Writer for the given logical table name ("attempts",
// "outcomes", "outputs", "events", "sessions").
func New(cfg config.Config, table string) *Writer { return &Writer{cfg: cfg, table: table} }

// orDefault returns s unless it's empty, in which case it returns def —
// used by the filename builders below so a missing identifier still
// produces a stable, readable name instead of an empty path segment.
func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// partitionPath joins the table's date-partition directory with name.
func (w *Writer) partitionPath(date, name string) string {
	return filepath.Join(w.cfg.TablePartitionDir(w.table, date), name)
}

// WriteAttempts flushes a batch of attempts to one new parquet file, all
// sharing date (the caller groups by Attempt.Date before calling). Per
// spec.md §4.3's filename taxonomy, attempts are named
// "<session_id>--<executable>--<id>.parquet".
func (w *Writer) WriteAttempts(ctx context.Context, date string, attempts []types.Attempt) error {
	rows := make([]attemptRow, len(attempts))
	for i, a := range attempts {
		meta, err := encodeMetadata(a.Metadata)
		if err != nil {
			return err
		}
		rows[i] = attemptRow{
			ID: a.ID, Timestamp: microsOf(a), SessionID: a.SessionID, ClientID: a.ClientID,
			Hostname: a.Hostname, Username: a.Username, Cmd: a.Cmd, Cwd: a.Cwd,
			ExecutableHint: a.ExecutableHint, FormatHint: a.FormatHint, Tag: a.Tag,
			MachineID: a.MachineID, Metadata: meta,
		}
	}
	a := attempts[0]
	name := fmt.Sprintf("%s--%s--%s.parquet",
		orDefault(a.SessionID, "nosession"), orDefault(a.ExecutableHint, "noexec"), a.ID)
	return writeParquet(w.partitionPath(date, name), new(attemptRow), rows)
}

// WriteOutcomes flushes a batch of outcomes sharing date. Per spec.md
// §4.3, outcomes are named deterministically as "<attempt_id>.parquet":
// the attempt_id ties uniquely to at most one outcome, so a second write
// for the same attempt overwrites rather than duplicating the file.
func (w *Writer) WriteOutcomes(ctx context.Context, date string, outcomes []types.Outcome) error {
	rows := make([]outcomeRow, len(outcomes))
	for i, o := range outcomes {
		meta, err := encodeMetadata(o.Metadata)
		if err != nil {
			return err
		}
		rows[i] = outcomeRow{
			AttemptID: o.AttemptID, CompletedAt: o.CompletedAt.UTC().UnixMicro(),
			ExitCode: o.ExitCode, DurationMs: o.DurationMs, Signal: o.Signal,
			Timeout: o.Timeout, Metadata: meta,
		}
	}
	name := fmt.Sprintf("%s.parquet", orDefault(outcomes[0].AttemptID, "noattempt"))
	return writeParquet(w.partitionPath(date, name), new(outcomeRow), rows)
}

// WriteOutputs flushes outputs sharing date, one parquet file per output.
// Per spec.md §4.3, an output's filename is
// "<attempt_id>--<stream>--<output_id>.parquet", so a batch spanning
// multiple streams (e.g. stdout and stderr for one attempt) still yields
// one uniquely-named file per output.
func (w *Writer) WriteOutputs(ctx context.Context, date string, outputs []types.Output) error {
	for _, o := range outputs {
		row := outputRow{
			ID: o.ID, InvocationID: o.InvocationID, Stream: o.Stream, ContentHash: o.ContentHash,
			ByteLength: o.ByteLength, StorageType: string(o.StorageType), StorageRef: o.StorageRef,
			ContentType: o.ContentType,
		}
		name := fmt.Sprintf("%s--%s--%s.parquet",
			orDefault(o.InvocationID, "noinvocation"), orDefault(o.Stream, "nostream"), o.ID)
		if err := writeParquet(w.partitionPath(date, name), new(outputRow), []outputRow{row}); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvents flushes a batch of events sharing date, all extracted from
// the same invocation (spec.md §4.7 extracts per-invocation). Per spec.md
// §4.3, events are named "<attempt_id>--<uuid>.parquet"; invocationID is
// that attempt_id.
func (w *Writer) WriteEvents(ctx context.Context, date, invocationID string, events []types.Event) error {
	rows := make([]eventRow, len(events))
	for i, e := range events {
		rows[i] = eventRow{
			ID: e.ID, InvocationID: e.InvocationID, ClientID: e.ClientID, Hostname: e.Hostname,
			EventType: e.EventType, Severity: string(e.Severity), RefFile: e.RefFile,
			RefLine: e.RefLine, RefColumn: e.RefColumn, Message: e.Message, ErrorCode: e.ErrorCode,
			TestName: e.TestName, Status: e.Status, FormatUsed: e.FormatUsed,
			ExtractedAt: e.ExtractedAt.UTC().UnixMicro(),
		}
	}
	name := fmt.Sprintf("%s--%s.parquet", orDefault(invocationID, "noinvocation"), uuid.New().String())
	return writeParquet(w.partitionPath(date, name), new(eventRow), rows)
}

// WriteSessions flushes a batch of sessions sharing date. Per spec.md
// §4.3, sessions are named deterministically as "<session_id>.parquet":
// registering the same session twice overwrites its file rather than
// duplicating it.
func (w *Writer) WriteSessions(ctx context.Context, date string, sessions []types.Session) error {
	rows := make([]sessionRow, len(sessions))
	for i, s := range sessions {
		rows[i] = sessionRow{
			SessionID: s.SessionID, ClientID: s.ClientID, Invoker: s.Invoker, InvokerPID: s.InvokerPID,
			InvokerType: s.InvokerType, RegisteredAt: s.RegisteredAt.UTC().UnixMicro(), Cwd: s.Cwd,
		}
	}
	name := fmt.Sprintf("%s.parquet", orDefault(sessions[0].SessionID, "nosession"))
	return writeParquet(w.partitionPath(date, name), new(sessionRow), rows)
}

func microsOf(a types.Attempt) int64 { return a.Timestamp.UTC().UnixMicro() }

// EnsureSeed writes an empty parquet file under each table's
// config.SeedDate partition, if one doesn't already exist, so that
// read_parquet('recent/<table>/date=*/*.parquet', ...) never sees an empty
// glob on a brand-new store (spec.md §4.3/§9 "init produces a queryable,
// if empty, store").
func EnsureSeed(cfg config.Config, table string) error {
	dir := cfg.TablePartitionDir(table, config.SeedDate)
	// Filenames starting with "_seed" are excluded from the compactor's
	// file listing (spec.md §4.8 filename taxonomy).
	path := filepath.Join(dir, "_seed.parquet")
	if _, err := statPath(path); err == nil {
		return nil
	}
	switch table {
	case "attempts":
		return writeParquet(path, new(attemptRow), nil)
	case "outcomes":
		return writeParquet(path, new(outcomeRow), nil)
	case "outputs":
		return writeParquet(path, new(outputRow), nil)
	case "events":
		return writeParquet(path, new(eventRow), nil)
	case "sessions":
		return writeParquet(path, new(sessionRow), nil)
	default:
		return fmt.Errorf("columnar: unknown table %q", table)
	}
}

// writeParquet streams rows to path via parquet-go-source/local, matching
// the teacher's pattern of isolating the third-party writer behind a small
// helper (internal/storage/dolt wraps the go-mysql-server engine similarly).
func writeParquet[T any](path string, obj *T, rows []T) error {
	fw, err := local.NewLocalFileWriter(path + ".partial")
	if err != nil {
		return errs.IOf(path, err)
	}
	pw, err := writer.NewParquetWriter(fw, obj, 4)
	if err != nil {
		_ = fw.Close()
		return errs.Storagef("new parquet writer: %w", err)
	}
	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return errs.Storagef("write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return errs.Storagef("finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return errs.IOf(path, err)
	}
	return renameFinal(path)
}

func renameFinal(path string) error {
	// parquet-go requires a seekable file handle for its footer rewrite, so
	// we stage at path+".partial" and only rename into the final
	// name once the writer has fully closed — matching
	// spec.md §4.3's "files are visible to readers only once complete".
	if err := renameViaOS(path+".partial", path); err != nil {
		return errs.IOf(path, err)
	}
	return nil
}
