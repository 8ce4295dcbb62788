package schema

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/require"

	"github.com/teaguesterling/bird/internal/config"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenCreatesLocalSchemaAndInvocationsView(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cfg := config.Default()
	cfg.StorageMode = config.StorageDuckDB

	_, err := Open(ctx, db, cfg)
	require.NoError(t, err)

	var name string
	err = db.QueryRowContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = 'local' AND table_name = 'blob_registry'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "blob_registry", name)

	// main.invocations should exist and be queryable even with no rows yet.
	var count int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM main.invocations`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestInvocationsViewDerivesStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cfg := config.Default()
	cfg.StorageMode = config.StorageDuckDB

	_, err := Open(ctx, db, cfg)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO local.attempts (id, timestamp, session_id, client_id, hostname, username, cmd, cwd, date)
		VALUES ('a1', now(), 's1', 'c1', 'h1', 'u1', 'echo hi', '/tmp', current_date)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO local.attempts (id, timestamp, session_id, client_id, hostname, username, cmd, cwd, date)
		VALUES ('a2', now(), 's1', 'c1', 'h1', 'u1', 'echo bye', '/tmp', current_date)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO local.outcomes (attempt_id, completed_at, exit_code, duration_ms, date)
		VALUES ('a1', now(), 0, 12, current_date)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO local.outcomes (attempt_id, completed_at, exit_code, duration_ms, date)
		VALUES ('a2', now(), NULL, 12, current_date)`)
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, `SELECT id, status FROM main.invocations ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	got := map[string]string{}
	for rows.Next() {
		var id, status string
		require.NoError(t, rows.Scan(&id, &status))
		got[id] = status
	}
	require.Equal(t, "completed", got["a1"])
	require.Equal(t, "orphaned", got["a2"])
}

func TestAddCachedRebuildsUnionView(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cfg := config.Default()
	cfg.StorageMode = config.StorageDuckDB

	comp, err := Open(ctx, db, cfg)
	require.NoError(t, err)

	require.NoError(t, comp.EnsurePeerSchema(ctx, "cached_peer1"))
	require.NoError(t, comp.AddCached(ctx, "peer1"))

	_, err = db.ExecContext(ctx, `INSERT INTO cached_peer1.attempts (id, timestamp, session_id, client_id, hostname, username, cmd, cwd, date)
		VALUES ('p1', now(), 's1', 'peer-client', 'peer-host', 'u1', 'remote cmd', '/tmp', current_date)`)
	require.NoError(t, err)

	var count int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM main.attempts WHERE id = 'p1'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, comp.RemoveCached(ctx, "peer1"))
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM main.attempts WHERE id = 'p1'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
