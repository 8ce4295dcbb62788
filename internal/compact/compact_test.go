package compact

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, kindSeed, classify("_seed.parquet"))
	assert.Equal(t, kindConsolidated, classify("data_abc123.parquet"))
	assert.Equal(t, kindCompacted, classify("zsh-9999--__compacted-0__--abc.parquet"))
	assert.Equal(t, kindRaw, classify("zsh-9999--abc123.parquet"))
}

func TestSessionOf(t *testing.T) {
	assert.Equal(t, "zsh-9999", sessionOf("zsh-9999--abc123.parquet"))
	assert.Equal(t, "zsh-9999", sessionOf("zsh-9999--__compacted-0__--abc.parquet"))
	assert.Equal(t, "standalone", sessionOf("standalone.parquet"))
}

func TestNextCompactSeq(t *testing.T) {
	assert.Equal(t, 0, nextCompactSeq(nil))
	files := []fileInfo{
		{name: "zsh-1--__compacted-0__--a.parquet"},
		{name: "zsh-1--__compacted-2__--b.parquet"},
		{name: "zsh-1--__compacted-1__--c.parquet"},
	}
	assert.Equal(t, 3, nextCompactSeq(files))
}

// writeFixtureParquet creates a minimal one-row parquet file at path using a
// throwaway in-memory DuckDB connection, mirroring the shape the columnar
// writer itself produces.
func writeFixtureParquet(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(context.Background(),
		`COPY (SELECT 'id-'||i AS id, i AS n FROM range(1) t(i)) TO '`+path+`' (FORMAT PARQUET)`)
	require.NoError(t, err)
}

// TestCompactionNamingScenario covers spec.md §8 scenario 5: ten raw files
// for one session/date with file_threshold=2 leaves exactly one
// "<session>--__compacted-0__--<uuid>.parquet" plus the two newest raw
// files, and the total row count is unchanged.
func TestCompactionNamingScenario(t *testing.T) {
	dir := t.TempDir()
	partitionDir := filepath.Join(dir, "date=2026-01-01")
	for i := 0; i < 10; i++ {
		writeFixtureParquet(t, filepath.Join(partitionDir, "zsh-9999--"+string(rune('a'+i))+".parquet"))
	}

	stats, err := compactPartition(partitionDir, Options{FileThreshold: 2})
	require.NoError(t, err)
	assert.Equal(t, 8, stats.FilesMerged)
	assert.Equal(t, 8, stats.FilesDeleted)

	entries, err := os.ReadDir(partitionDir)
	require.NoError(t, err)

	var compactedCount, rawCount int
	for _, e := range entries {
		switch classify(e.Name()) {
		case kindCompacted:
			compactedCount++
			assert.Contains(t, e.Name(), "zsh-9999--__compacted-0__--")
		case kindRaw:
			rawCount++
		}
	}
	assert.Equal(t, 1, compactedCount)
	assert.Equal(t, 2, rawCount)
}

// TestCompactIsIdempotentOnNoOp covers the round-trip law: running compact
// again with nothing new to merge leaves the file count unchanged.
func TestCompactIsIdempotentOnNoOp(t *testing.T) {
	dir := t.TempDir()
	partitionDir := filepath.Join(dir, "date=2026-01-01")
	for i := 0; i < 3; i++ {
		writeFixtureParquet(t, filepath.Join(partitionDir, "zsh-1--"+string(rune('a'+i))+".parquet"))
	}

	_, err := compactPartition(partitionDir, Options{FileThreshold: 2})
	require.NoError(t, err)

	before, err := os.ReadDir(partitionDir)
	require.NoError(t, err)

	stats, err := compactPartition(partitionDir, Options{FileThreshold: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesMerged)

	after, err := os.ReadDir(partitionDir)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}
