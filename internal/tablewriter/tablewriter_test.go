package tablewriter

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/schema"
	"github.com/teaguesterling/bird/internal/types"
)

func newTestWriter(t *testing.T) (*Writer, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.StorageMode = config.StorageDuckDB
	_, err = schema.Open(ctx, db, cfg)
	require.NoError(t, err)

	return New(db), db
}

func TestInsertAttemptWritesRow(t *testing.T) {
	w, db := newTestWriter(t)
	ctx := context.Background()

	a := types.Attempt{
		ID: "a1", Timestamp: time.Now(), SessionID: "s1", ClientID: "c1",
		Hostname: "h1", Username: "u1", Cmd: "echo hi", Cwd: "/tmp", Date: "2026-01-01",
	}
	require.NoError(t, w.InsertAttempt(ctx, a))

	var cmd string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT cmd FROM local.attempts WHERE id = 'a1'`).Scan(&cmd))
	assert.Equal(t, "echo hi", cmd)
}

func TestInsertOutcomeWritesRow(t *testing.T) {
	w, db := newTestWriter(t)
	ctx := context.Background()

	exit := int32(0)
	dur := int64(5)
	o := types.Outcome{AttemptID: "a1", CompletedAt: time.Now(), ExitCode: &exit, DurationMs: &dur, Date: "2026-01-01"}
	require.NoError(t, w.InsertOutcome(ctx, o))

	var exitCode int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT exit_code FROM local.outcomes WHERE attempt_id = 'a1'`).Scan(&exitCode))
	assert.Equal(t, 0, exitCode)
}

func TestInsertSessionIsIdempotentOnConflict(t *testing.T) {
	w, db := newTestWriter(t)
	ctx := context.Background()

	s := types.Session{SessionID: "s1", ClientID: "c1", Invoker: "zsh", Cwd: "/tmp", RegisteredAt: time.Now(), Date: "2026-01-01"}
	require.NoError(t, w.InsertSession(ctx, s))
	require.NoError(t, w.InsertSession(ctx, s)) // ON CONFLICT DO NOTHING must not error

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM local.sessions WHERE session_id = 's1'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
}
