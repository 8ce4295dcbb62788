// Package invocation implements spec.md §4/§5.6's attempt/outcome pipeline:
// starting, completing, killing, and timing out a command invocation, plus
// the orphan-recovery sweep that reconciles pending attempts against
// internal/liveness.
package invocation

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teaguesterling/bird/internal/columnar"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/liveness"
	"github.com/teaguesterling/bird/internal/tablewriter"
	"github.com/teaguesterling/bird/internal/telemetry"
	"github.com/teaguesterling/bird/internal/types"
)

// Pipeline records attempts and outcomes through whichever backing writer
// the store was initialized with (spec.md §4.3 vs §4.4's dual mode).
type Pipeline struct {
	db   *sql.DB
	cfg  config.Config
	mode config.StorageMode

	attemptsCol *columnar.Writer
	outcomesCol *columnar.Writer
	outputsCol  *columnar.Writer
	sessionsCol *columnar.Writer
	tw          *tablewriter.Writer

	meters *telemetry.Meters
}

// SetMeters attaches the pipeline's telemetry instruments; a nil
// Pipeline.meters (the zero value) makes every recording call below a
// no-op.
func (p *Pipeline) SetMeters(m *telemetry.Meters) { p.meters = m }

// New returns a Pipeline bound to db/cfg. mode must match the store's
// init-time choice (spec.md §4.4: "never mixed within one store").
func New(db *sql.DB, cfg config.Config, mode config.StorageMode) *Pipeline {
	return &Pipeline{
		db: db, cfg: cfg, mode: mode,
		attemptsCol: columnar.New(cfg, "attempts"),
		outcomesCol: columnar.New(cfg, "outcomes"),
		outputsCol:  columnar.New(cfg, "outputs"),
		sessionsCol: columnar.New(cfg, "sessions"),
		tw:          tablewriter.New(db),
	}
}

// Batch is the unit write_batch accepts (spec.md §4.6): a short-lived
// invocation's full record, written together so a reader never observes an
// attempt without its outcome and outputs.
type Batch struct {
	Session  *types.Session // nil if the session already exists
	Attempt  types.Attempt
	Outcome  types.Outcome
	Outputs  []types.Output
}

// WriteBatch writes {session (if present), attempt, outcome, outputs} for
// one completed short-lived invocation. In table-writer mode this runs
// inside one transaction; in parquet mode each part is its own atomic
// flush, and partial failure is surfaced to the caller rather than rolled
// back, matching the engine's own durability boundary (spec.md §4.6/§5:
// "every write that crosses the durability boundary blocks on the
// analytical engine's fsync-equivalent or the atomic rename").
func (p *Pipeline) WriteBatch(ctx context.Context, b Batch) error {
	if p.mode == config.StorageDuckDB {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return errs.Storagef("begin batch transaction: %w", err)
		}
		if err := p.writeBatchTx(ctx, tx, b); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	if b.Session != nil {
		if err := p.sessionsCol.WriteSessions(ctx, b.Session.Date, []types.Session{*b.Session}); err != nil {
			return err
		}
	}
	if err := p.attemptsCol.WriteAttempts(ctx, b.Attempt.Date, []types.Attempt{b.Attempt}); err != nil {
		return err
	}
	if err := p.outcomesCol.WriteOutcomes(ctx, b.Outcome.Date, []types.Outcome{b.Outcome}); err != nil {
		return err
	}
	if len(b.Outputs) > 0 {
		if err := p.outputsCol.WriteOutputs(ctx, b.Outputs[0].Date, b.Outputs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) writeBatchTx(ctx context.Context, tx *sql.Tx, b Batch) error {
	if b.Session != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO local.sessions (session_id, client_id, invoker, invoker_pid, invoker_type, registered_at, cwd, date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (session_id) DO NOTHING`,
			b.Session.SessionID, b.Session.ClientID, b.Session.Invoker, b.Session.InvokerPID,
			b.Session.InvokerType, b.Session.RegisteredAt, b.Session.Cwd, b.Session.Date); err != nil {
			return errs.Storagef("insert session in batch: %w", err)
		}
	}
	a := b.Attempt
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO local.attempts (id, timestamp, session_id, client_id, hostname, username, cmd, cwd,
			executable_hint, format_hint, tag, machine_id, metadata, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp, a.SessionID, a.ClientID, a.Hostname, a.Username, a.Cmd, a.Cwd,
		a.ExecutableHint, a.FormatHint, a.Tag, a.MachineID, "{}", a.Date); err != nil {
		return errs.Storagef("insert attempt in batch: %w", err)
	}
	o := b.Outcome
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO local.outcomes (attempt_id, completed_at, exit_code, duration_ms, signal, timeout, metadata, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.AttemptID, o.CompletedAt, o.ExitCode, o.DurationMs, o.Signal, o.Timeout, "{}", o.Date); err != nil {
		return errs.Storagef("insert outcome in batch: %w", err)
	}
	for _, out := range b.Outputs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO local.outputs (id, invocation_id, stream, content_hash, byte_length, storage_type, storage_ref, content_type, date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, out.InvocationID, out.Stream, out.ContentHash, out.ByteLength,
			string(out.StorageType), out.StorageRef, out.ContentType, out.Date); err != nil {
			return errs.Storagef("insert output in batch: %w", err)
		}
	}
	return nil
}

// StartOptions carries the fields a caller supplies when recording an
// attempt (spec.md §4/§6 `bird run`/`bird save`).
type StartOptions struct {
	SessionID      string
	ClientID       string
	Hostname       string
	Username       string
	Cmd            string
	Cwd            string
	ExecutableHint string
	FormatHint     string
	Tag            string
	MachineID      string
	Metadata       types.Metadata
}

// Start records a new attempt with status "pending" (spec.md §3's
// DeriveStatus with hasOutcome=false) and returns its generated id.
func (p *Pipeline) Start(ctx context.Context, opts StartOptions) (types.Attempt, error) {
	now := time.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return types.Attempt{}, errs.Storagef("generate attempt id: %w", err)
	}
	a := types.Attempt{
		ID: id.String(), Timestamp: now, SessionID: opts.SessionID, ClientID: opts.ClientID,
		Hostname: opts.Hostname, Username: opts.Username, Cmd: opts.Cmd, Cwd: opts.Cwd,
		ExecutableHint: opts.ExecutableHint, FormatHint: opts.FormatHint, Tag: opts.Tag,
		MachineID: opts.MachineID, Metadata: opts.Metadata, Date: types.DateOf(now),
	}
	if err := p.writeAttempt(ctx, a); err != nil {
		return types.Attempt{}, err
	}
	if p.meters != nil {
		p.meters.Attempts.Add(ctx, 1)
	}
	return a, nil
}

func (p *Pipeline) writeAttempt(ctx context.Context, a types.Attempt) error {
	switch p.mode {
	case config.StorageDuckDB:
		return p.tw.InsertAttempt(ctx, a)
	default:
		return p.attemptsCol.WriteAttempts(ctx, a.Date, []types.Attempt{a})
	}
}

func (p *Pipeline) writeOutcome(ctx context.Context, o types.Outcome) error {
	var err error
	switch p.mode {
	case config.StorageDuckDB:
		err = p.tw.InsertOutcome(ctx, o)
	default:
		err = p.outcomesCol.WriteOutcomes(ctx, o.Date, []types.Outcome{o})
	}
	if err != nil {
		return err
	}
	if p.meters != nil {
		p.meters.Outcomes.Add(ctx, 1)
	}
	return nil
}

// CompleteOptions carries the fields supplied when a runner reports exit
// (spec.md §4/§6 `bird run`'s wrapper path).
type CompleteOptions struct {
	AttemptID   string
	CompletedAt time.Time
	ExitCode    int32
	DurationMs  int64
	Signal      *int32
	Metadata    types.Metadata
}

// Complete records a normal-exit outcome: status becomes "completed"
// (spec.md §3).
func (p *Pipeline) Complete(ctx context.Context, opts CompleteOptions) error {
	exit := opts.ExitCode
	dur := opts.DurationMs
	o := types.Outcome{
		AttemptID: opts.AttemptID, CompletedAt: opts.CompletedAt.UTC(), ExitCode: &exit,
		DurationMs: &dur, Signal: opts.Signal, Metadata: opts.Metadata,
		Date: types.DateOf(opts.CompletedAt),
	}
	return p.writeOutcome(ctx, o)
}

// Kill records an outcome for a process terminated by signal: exit_code is
// left nil and signal is set. Because exit_code is nil, the invocations
// view derives its status as "orphaned"; the non-nil signal column is what
// tells a kill apart from a recovery-sweep orphan.
func (p *Pipeline) Kill(ctx context.Context, attemptID string, completedAt time.Time, signal int32, durationMs int64) error {
	dur := durationMs
	sig := signal
	o := types.Outcome{
		AttemptID: attemptID, CompletedAt: completedAt.UTC(), ExitCode: nil,
		DurationMs: &dur, Signal: &sig, Date: types.DateOf(completedAt),
	}
	return p.writeOutcome(ctx, o)
}

// Timeout records a timed-out outcome: exit_code nil, timeout true (spec.md
// §4.9).
func (p *Pipeline) Timeout(ctx context.Context, attemptID string, completedAt time.Time, durationMs int64) error {
	dur := durationMs
	o := types.Outcome{
		AttemptID: attemptID, CompletedAt: completedAt.UTC(), ExitCode: nil,
		DurationMs: &dur, Timeout: true, Date: types.DateOf(completedAt),
	}
	return p.writeOutcome(ctx, o)
}

// Orphan records a synthetic outcome for an attempt whose runner is
// confirmed dead (spec.md §4.9): exit_code nil, duration measured from the
// attempt's own timestamp to now, since no real completion was ever
// observed.
func (p *Pipeline) Orphan(ctx context.Context, attemptID string, attemptTime, now time.Time) error {
	dur := now.Sub(attemptTime).Milliseconds()
	o := types.Outcome{
		AttemptID: attemptID, CompletedAt: now.UTC(), ExitCode: nil,
		DurationMs: &dur, Date: types.DateOf(now),
	}
	return p.writeOutcome(ctx, o)
}

// pendingRow is the minimal shape RecoverOrphaned needs per candidate.
type pendingRow struct {
	ID        string
	Timestamp time.Time
	MachineID string
}

// RecoveryStats summarizes one RecoverOrphaned sweep (spec.md §4.6
// `recover_orphaned(max_age, dry_run) -> stats`).
type RecoveryStats struct {
	Scanned  int
	Orphaned []string
	Skipped  int // runner probed alive
	Failed   int // write failures, counted but not fatal to the sweep
}

// RecoverOrphaned scans main.invocations for status='pending' rows. For
// each: if internal/liveness.Probe reports alive, it's skipped whatever the
// attempt's age; otherwise the probe reports dead and a synthetic Orphan
// outcome is written (unless dryRun, in which case it is only counted).
// Since a live runner is never reaped, maxAge does not change which
// attempts a sweep orphans. A write failure is counted in Failed and does not abort
// the sweep (spec.md §4.6 "recovery failures are counted but do not abort
// the sweep").
func (p *Pipeline) RecoverOrphaned(ctx context.Context, maxAge time.Duration, dryRun bool) (RecoveryStats, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, timestamp, machine_id FROM main.invocations WHERE status = 'pending'`)
	if err != nil {
		return RecoveryStats{}, errs.Storagef("query pending invocations: %w", err)
	}
	defer rows.Close()

	var pending []pendingRow
	for rows.Next() {
		var r pendingRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.MachineID); err != nil {
			return RecoveryStats{}, errs.Storagef("scan pending invocation: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return RecoveryStats{}, errs.Storagef("iterate pending invocations: %w", err)
	}

	now := time.Now().UTC()
	stats := RecoveryStats{Scanned: len(pending)}
	for _, r := range pending {
		if liveness.Probe(r.MachineID) {
			stats.Skipped++
			continue
		}
		if dryRun {
			stats.Orphaned = append(stats.Orphaned, r.ID)
			continue
		}
		if err := p.Orphan(ctx, r.ID, r.Timestamp, now); err != nil {
			stats.Failed++
			continue
		}
		stats.Orphaned = append(stats.Orphaned, r.ID)
	}
	if p.meters != nil && len(stats.Orphaned) > 0 {
		p.meters.OrphansFound.Add(ctx, int64(len(stats.Orphaned)))
	}
	return stats, nil
}

// Pending returns every attempt id currently without an outcome, read from
// main.invocations (local rows plus cached peers; live remotes are not
// included).
func (p *Pipeline) Pending(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM main.invocations WHERE status = 'pending'`)
	if err != nil {
		return nil, errs.Storagef("query pending ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storagef("scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
