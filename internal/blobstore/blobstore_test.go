package blobstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"strings"
	"sync"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/schema"
	"github.com/teaguesterling/bird/internal/types"
)

func newTestStore(t *testing.T) (*Store, config.Config) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()
	cfg.StorageMode = config.StorageDuckDB
	cfg.InlineThreshold = 4096

	_, err = schema.Open(ctx, db, cfg)
	require.NoError(t, err)

	return New(db, cfg, nil), cfg
}

// TestPutSmallPayloadInlines covers scenario 1 (spec.md §8): a small output
// is stored inline as a base64 data: URI, never touching the filesystem.
func TestPutSmallPayloadInlines(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	storageType, ref, hash, err := s.Put(ctx, []byte("hello\n"), "echo")
	require.NoError(t, err)
	assert.Equal(t, types.StorageInline, storageType)
	assert.Equal(t, "data:application/octet-stream;base64,"+base64.StdEncoding.EncodeToString([]byte("hello\n")), ref)
	assert.NotEmpty(t, hash)

	got, err := s.Open(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), got)
}

// TestPutLargePayloadWritesBlobFile covers scenario 2: a payload at or above
// inline_threshold is written as a content-addressed blob file on disk.
func TestPutLargePayloadWritesBlobFile(t *testing.T) {
	s, cfg := newTestStore(t)
	ctx := context.Background()
	content := strings.Repeat("x", 5000)

	storageType, ref, hash, err := s.Put(ctx, []byte(content), "build")
	require.NoError(t, err)
	assert.Equal(t, types.StorageBlob, storageType)
	require.True(t, strings.HasPrefix(ref, "file://"))
	assert.Contains(t, ref, hash[:2]+"/"+hash)

	got, err := s.Open(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	var refCount int64
	err = s.db.QueryRowContext(ctx, `SELECT ref_count FROM local.blob_registry WHERE content_hash = ?`, hash).Scan(&refCount)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refCount)
	_ = cfg
}

// TestPutIdenticalContentDedupsAndSharesRef covers scenario 3: two puts of
// identical content, possibly with different command hints, share one
// storage_ref, one file on disk, and ref_count=2.
func TestPutIdenticalContentDedupsAndSharesRef(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	content := []byte(strings.Repeat("y", 5000))

	_, ref1, hash1, err := s.Put(ctx, content, "build")
	require.NoError(t, err)
	_, ref2, hash2, err := s.Put(ctx, content, "test")
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)
	assert.Equal(t, ref1, ref2)

	var refCount int64
	err = s.db.QueryRowContext(ctx, `SELECT ref_count FROM local.blob_registry WHERE content_hash = ?`, hash1).Scan(&refCount)
	require.NoError(t, err)
	assert.Equal(t, int64(2), refCount)
}

// TestConcurrentIdenticalPutsLeaveOneFile covers the boundary behavior: N
// concurrent puts of identical content must leave exactly one file with the
// registry's ref_count equal to N.
func TestConcurrentIdenticalPutsLeaveOneFile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	content := []byte(strings.Repeat("z", 5000))

	const writers = 6
	refs := make([]string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ref, _, err := s.Put(ctx, content, "concurrent")
			require.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	for _, r := range refs[1:] {
		assert.Equal(t, refs[0], r)
	}

	var refCount int64
	_, _, hash, err := s.Put(ctx, content, "concurrent")
	require.NoError(t, err)
	err = s.db.QueryRowContext(ctx, `SELECT ref_count FROM local.blob_registry WHERE content_hash = ?`, hash).Scan(&refCount)
	require.NoError(t, err)
	assert.Equal(t, int64(writers+1), refCount)
}

func TestSanitizeCmdHint(t *testing.T) {
	assert.Equal(t, "blob", sanitizeCmdHint(""))
	assert.Equal(t, "git-log", sanitizeCmdHint("git log"))
	assert.Equal(t, "a_b_c", sanitizeCmdHint("a/b:c"))
	assert.Len(t, sanitizeCmdHint(strings.Repeat("a", 50)), 32)
}

func TestOpenUnrecognizedRefErrors(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Open(context.Background(), "ftp://nope")
	assert.Error(t, err)
}
