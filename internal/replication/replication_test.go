package replication

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/schema"
)

func openFileDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	return db
}

// TestPushThenPullScenario covers spec.md §8 scenario 6: A pushes its one
// local invocation to B, A's local copy is deleted, A pulls from B into its
// cache (recovering the row), and pushing again transfers nothing further.
func TestPushThenPullScenario(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bPath := filepath.Join(dir, "b.duckdb")

	cfgB := config.Default()
	cfgB.StorageMode = config.StorageDuckDB
	dbB := openFileDB(t, bPath)
	_, err := schema.Open(ctx, dbB, cfgB)
	require.NoError(t, err)
	require.NoError(t, dbB.Close()) // release B's lock before A attaches to it

	cfgA := config.Default()
	cfgA.StorageMode = config.StorageDuckDB
	dbA := openFileDB(t, filepath.Join(dir, "a.duckdb"))
	t.Cleanup(func() { _ = dbA.Close() })
	compA, err := schema.Open(ctx, dbA, cfgA)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = dbA.ExecContext(ctx, `
		INSERT INTO local.attempts (id, timestamp, session_id, client_id, hostname, username, cmd, cwd, date)
		VALUES ('inv-1', ?, 's1', 'c1', 'h1', 'u1', 'echo hi', '/tmp', current_date)`, now)
	require.NoError(t, err)
	_, err = dbA.ExecContext(ctx, `
		INSERT INTO local.outcomes (attempt_id, completed_at, exit_code, duration_ms, date)
		VALUES ('inv-1', ?, 0, 5, current_date)`, now)
	require.NoError(t, err)

	remote := config.Remote{Name: "b", Type: config.RemoteFile, URI: bPath, Mode: config.ModeReadWrite}
	peer, err := Attach(ctx, dbA, compA, remote)
	require.NoError(t, err)

	pushStats, err := peer.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pushStats.RowsInserted["attempts"])
	assert.Equal(t, int64(1), pushStats.RowsInserted["outcomes"])

	// Delete A's local copy.
	_, err = dbA.ExecContext(ctx, `DELETE FROM local.outcomes WHERE attempt_id = 'inv-1'`)
	require.NoError(t, err)
	_, err = dbA.ExecContext(ctx, `DELETE FROM local.attempts WHERE id = 'inv-1'`)
	require.NoError(t, err)

	var count int
	err = dbA.QueryRowContext(ctx, `SELECT count(*) FROM local.attempts WHERE id = 'inv-1'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	pullStats, err := peer.Pull(ctx, PullOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pullStats.RowsInserted["attempts"])

	err = dbA.QueryRowContext(ctx, `SELECT count(*) FROM cached_b.attempts WHERE id = 'inv-1'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Pushing again finds nothing new in (now-empty) local.
	pushStats2, err := peer.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), pushStats2.RowsInserted["attempts"])
}
