package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStorageMode(t *testing.T) {
	m, err := ParseStorageMode("")
	require.NoError(t, err)
	assert.Equal(t, StorageParquet, m)

	m, err = ParseStorageMode("parquet")
	require.NoError(t, err)
	assert.Equal(t, StorageParquet, m)

	m, err = ParseStorageMode("duckdb")
	require.NoError(t, err)
	assert.Equal(t, StorageDuckDB, m)

	_, err = ParseStorageMode("sqlite")
	assert.Error(t, err)
}

func TestResolveRootExplicitWins(t *testing.T) {
	t.Setenv("BIRD_ROOT", "/from/env")
	root, err := ResolveRoot("/explicit/path")
	require.NoError(t, err)
	assert.Equal(t, "/explicit/path", root)
}

func TestResolveRootFallsBackToEnv(t *testing.T) {
	t.Setenv("BIRD_ROOT", "/from/env")
	root, err := ResolveRoot("")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", root)
}

func TestResolveRootFallsBackToXDGThenHome(t *testing.T) {
	t.Setenv("BIRD_ROOT", "")

	if xdgDataDir() != "" {
		root, err := ResolveRoot("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(xdgDataDir(), "bird"), root)
		return
	}

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	root, err := ResolveRoot("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "bird"), root)
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint32(defaultHotDays), cfg.HotDays)
	assert.Equal(t, defaultInlineThreshold, cfg.InlineThreshold)
	assert.True(t, cfg.AutoExtract)
	assert.Equal(t, StorageParquet, cfg.StorageMode)
	assert.True(t, cfg.Sync.SyncInvocations)
	assert.True(t, cfg.Sync.SyncOutputs)
	assert.True(t, cfg.Sync.SyncEvents)
	assert.False(t, cfg.Sync.SyncBlobs)
	assert.NotEmpty(t, cfg.ClientID)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.BirdRoot)
	assert.Equal(t, defaultInlineThreshold, cfg.InlineThreshold)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.BirdRoot = dir
	cfg.ClientID = "tester@example"
	cfg.InlineThreshold = 8192
	cfg.StorageMode = StorageDuckDB
	cfg.Remotes = []Remote{
		{Name: "origin", Type: RemoteS3, URI: "s3://bucket/path", Mode: ModeReadWrite, AutoAttach: true},
	}

	require.NoError(t, Save(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.ClientID, loaded.ClientID)
	assert.Equal(t, cfg.InlineThreshold, loaded.InlineThreshold)
	assert.Equal(t, cfg.StorageMode, loaded.StorageMode)
	require.Len(t, loaded.Remotes, 1)
	assert.Equal(t, "origin", loaded.Remotes[0].Name)
	assert.Equal(t, RemoteS3, loaded.Remotes[0].Type)
}

func TestPathAccessors(t *testing.T) {
	cfg := Config{BirdRoot: "/root/bird"}
	assert.Equal(t, "/root/bird/db/bird.duckdb", cfg.DBPath())
	assert.Equal(t, "/root/bird/db/data", cfg.DataDir())
	assert.Equal(t, "/root/bird/db/data/recent", cfg.RecentDir())
	assert.Equal(t, "/root/bird/db/data/archive", cfg.ArchiveDir())
	assert.Equal(t, "/root/bird/db/data/recent/blobs/content", cfg.RecentBlobsDir())
	assert.Equal(t, "/root/bird/db/data/archive/blobs/content", cfg.ArchiveBlobsDir())
	assert.Equal(t, "/root/bird/format-hints.toml", cfg.FormatHintsPath())
	assert.Equal(t, "/root/bird/event-formats.toml", cfg.EventFormatsPath())
	assert.Equal(t, "/root/bird/db/data/recent/attempts/date=2026-01-01", cfg.TablePartitionDir("attempts", "2026-01-01"))
}

func TestGetRemote(t *testing.T) {
	cfg := Config{Remotes: []Remote{{Name: "origin", Type: RemoteFile}}}

	r, ok := cfg.GetRemote("origin")
	assert.True(t, ok)
	assert.Equal(t, RemoteFile, r.Type)

	_, ok = cfg.GetRemote("missing")
	assert.False(t, ok)
}

func TestRemoteAttachSQL(t *testing.T) {
	r := Remote{Name: "origin", Type: RemoteS3, URI: "s3://bucket/path", Mode: ModeReadWrite}
	assert.Equal(t, `ATTACH 's3://bucket/path' AS "remote_origin"`, r.AttachSQL())

	ro := Remote{Name: "origin", Type: RemoteS3, URI: "s3://bucket/path", Mode: ModeReadOnly}
	assert.Equal(t, `ATTACH 's3://bucket/path' AS "remote_origin" (READ_ONLY)`, ro.AttachSQL())

	pg := Remote{Name: "pg", Type: RemotePostgres, URI: "postgres://host/db", Mode: ModeReadOnly}
	assert.Equal(t, `ATTACH 'postgres://host/db' AS "remote_pg" (TYPE postgres, READ_ONLY)`, pg.AttachSQL())
}

func TestIsInitialized(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, IsInitialized(dir))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "db"), 0o755))
	assert.True(t, IsInitialized(dir))
}
