package columnar

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/types"
)

func TestWriteAttemptsProducesReadableParquet(t *testing.T) {
	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()
	w := New(cfg, "attempts")

	a := types.Attempt{
		ID: "a1", Timestamp: time.Now(), SessionID: "s1", ClientID: "c1",
		Hostname: "h1", Username: "u1", Cmd: "echo hi", Cwd: "/tmp",
		ExecutableHint: "echo",
		Metadata:       types.Metadata{"key": types.JSONValue{String: strPtr("value")}},
		Date:           "2026-01-01",
	}
	require.NoError(t, w.WriteAttempts(context.Background(), a.Date, []types.Attempt{a}))

	dir := cfg.TablePartitionDir("attempts", a.Date)
	entries := globParquet(t, dir)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1--echo--a1.parquet", filepath.Base(entries[0]))

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()

	var id, cmd string
	err = db.QueryRowContext(context.Background(),
		`SELECT id, cmd FROM read_parquet('`+entries[0]+`')`).Scan(&id, &cmd)
	require.NoError(t, err)
	assert.Equal(t, "a1", id)
	assert.Equal(t, "echo hi", cmd)
}

func TestWriteOutcomesUsesAttemptIDFilename(t *testing.T) {
	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()
	w := New(cfg, "outcomes")

	exitCode := int32(0)
	o := types.Outcome{AttemptID: "a1", CompletedAt: time.Now(), ExitCode: &exitCode, Date: "2026-01-01"}
	require.NoError(t, w.WriteOutcomes(context.Background(), o.Date, []types.Outcome{o}))

	entries := globParquet(t, cfg.TablePartitionDir("outcomes", o.Date))
	require.Len(t, entries, 1)
	assert.Equal(t, "a1.parquet", filepath.Base(entries[0]))
}

func TestWriteOutputsWritesOneFilePerOutput(t *testing.T) {
	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()
	w := New(cfg, "outputs")

	outputs := []types.Output{
		{ID: "o1", InvocationID: "inv1", Stream: "stdout", Date: "2026-01-01"},
		{ID: "o2", InvocationID: "inv1", Stream: "stderr", Date: "2026-01-01"},
	}
	require.NoError(t, w.WriteOutputs(context.Background(), "2026-01-01", outputs))

	entries := globParquet(t, cfg.TablePartitionDir("outputs", "2026-01-01"))
	var names []string
	for _, e := range entries {
		names = append(names, filepath.Base(e))
	}
	assert.ElementsMatch(t, []string{"inv1--stdout--o1.parquet", "inv1--stderr--o2.parquet"}, names)
}

func TestWriteEventsFilenameHasInvocationPrefix(t *testing.T) {
	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()
	w := New(cfg, "events")

	e := types.Event{ID: "e1", InvocationID: "inv1", Date: "2026-01-01", ExtractedAt: time.Now()}
	require.NoError(t, w.WriteEvents(context.Background(), "2026-01-01", "inv1", []types.Event{e}))

	entries := globParquet(t, cfg.TablePartitionDir("events", "2026-01-01"))
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(filepath.Base(entries[0]), "inv1--"))
}

func TestWriteSessionsUsesSessionIDFilename(t *testing.T) {
	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()
	w := New(cfg, "sessions")

	s := types.Session{SessionID: "s1", RegisteredAt: time.Now(), Date: "2026-01-01"}
	require.NoError(t, w.WriteSessions(context.Background(), s.Date, []types.Session{s}))

	entries := globParquet(t, cfg.TablePartitionDir("sessions", s.Date))
	require.Len(t, entries, 1)
	assert.Equal(t, "s1.parquet", filepath.Base(entries[0]))
}

func TestEnsureSeedIsIdempotent(t *testing.T) {
	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()

	require.NoError(t, EnsureSeed(cfg, "attempts"))
	require.NoError(t, EnsureSeed(cfg, "attempts")) // second call must not error or duplicate

	entries := globParquet(t, cfg.TablePartitionDir("attempts", config.SeedDate))
	require.Len(t, entries, 1)
}

func strPtr(s string) *string { return &s }

func globParquet(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	var paths []string
	for _, d := range des {
		if filepath.Ext(d.Name()) == ".parquet" {
			paths = append(paths, filepath.Join(dir, d.Name()))
		}
	}
	return paths
}
