package invocation

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/schema"
)

func currentPID() string { return strconv.Itoa(os.Getpid()) }

func newTestPipeline(t *testing.T) (*Pipeline, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.StorageMode = config.StorageDuckDB

	_, err = schema.Open(ctx, db, cfg)
	require.NoError(t, err)

	return New(db, cfg, config.StorageDuckDB), db
}

func TestStartRecordsPendingInvocation(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	a, err := p.Start(ctx, StartOptions{Cmd: "echo hello", Cwd: "/tmp", SessionID: "s1"})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	var status string
	err = db.QueryRowContext(ctx, `SELECT status FROM main.invocations WHERE id = ?`, a.ID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "pending", status)
}

func TestCompleteMakesInvocationCompleted(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	a, err := p.Start(ctx, StartOptions{Cmd: "echo hi", Cwd: "/tmp"})
	require.NoError(t, err)

	err = p.Complete(ctx, CompleteOptions{AttemptID: a.ID, CompletedAt: time.Now(), ExitCode: 0, DurationMs: 5})
	require.NoError(t, err)

	var status string
	var exitCode int
	err = db.QueryRowContext(ctx, `SELECT status, exit_code FROM main.invocations WHERE id = ?`, a.ID).Scan(&status, &exitCode)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
	assert.Equal(t, 0, exitCode)
}

// TestAtMostOneOutcomePerAttempt covers spec.md §8's invariant: a second
// outcome write for the same attempt_id must fail against the primary key,
// never silently overwrite.
func TestAtMostOneOutcomePerAttempt(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	a, err := p.Start(ctx, StartOptions{Cmd: "echo hi", Cwd: "/tmp"})
	require.NoError(t, err)

	require.NoError(t, p.Complete(ctx, CompleteOptions{AttemptID: a.ID, CompletedAt: time.Now(), ExitCode: 0, DurationMs: 1}))
	err = p.Complete(ctx, CompleteOptions{AttemptID: a.ID, CompletedAt: time.Now(), ExitCode: 1, DurationMs: 2})
	assert.Error(t, err, "a second outcome for the same attempt must violate the primary key")
}

// TestRecoverOrphanedDeadProcessScenario covers spec.md §8 scenario 4: an
// attempt whose machine_id names a dead pid, with no outcome, is orphaned
// by a sweep, and re-running the sweep changes nothing further.
func TestRecoverOrphanedDeadProcessScenario(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	a, err := p.Start(ctx, StartOptions{Cmd: "long job", Cwd: "/tmp", MachineID: "pid:999999999"})
	require.NoError(t, err)

	stats, err := p.RecoverOrphaned(ctx, 24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, []string{a.ID}, stats.Orphaned)
	assert.Equal(t, 0, stats.Skipped)

	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pending, a.ID)

	// Re-running is a no-op: the attempt no longer appears as pending.
	stats2, err := p.RecoverOrphaned(ctx, 24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 0, stats2.Scanned)
}

// TestRecoverOrphanedLiveProcessStaysPending covers the boundary behavior:
// a pending attempt whose machine_id names the current (live) process is
// skipped, not orphaned.
func TestRecoverOrphanedLiveProcessStaysPending(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	a, err := p.Start(ctx, StartOptions{Cmd: "still running", Cwd: "/tmp", MachineID: "pid:" + currentPID()})
	require.NoError(t, err)

	stats, err := p.RecoverOrphaned(ctx, 24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 0, len(stats.Orphaned))
	assert.Equal(t, 1, stats.Skipped)

	pending, err := p.Pending(ctx)
	require.NoError(t, err)
	assert.Contains(t, pending, a.ID)
}
