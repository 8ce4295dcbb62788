package events

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaguesterling/bird/internal/columnar"
	"github.com/teaguesterling/bird/internal/config"
	"github.com/teaguesterling/bird/internal/formathints"
	"github.com/teaguesterling/bird/internal/schema"
	"github.com/teaguesterling/bird/internal/types"
)

type fakeParser struct{ events []types.Event }

func (f fakeParser) Parse(ctx context.Context, invocationID string, content []byte) ([]types.Event, error) {
	return append([]types.Event(nil), f.events...), nil
}

func TestRegistryResolveFallsBackToAuto(t *testing.T) {
	reg := NewRegistry(&formathints.Store{})
	reg.Register("auto", fakeParser{})

	format, p, ok := reg.Resolve("some random command")
	assert.True(t, ok)
	assert.Equal(t, "auto", format)
	assert.NotNil(t, p)
}

func TestRegistryResolveReturnsFalseWithNoParsers(t *testing.T) {
	reg := NewRegistry(&formathints.Store{})
	_, _, ok := reg.Resolve("anything")
	assert.False(t, ok)
}

func TestRegistryResolveForcedOverridesHints(t *testing.T) {
	reg := NewRegistry(&formathints.Store{})
	reg.Register("auto", fakeParser{})
	reg.Register("pytest", fakeParser{})

	format, p, ok := reg.ResolveForced("pytest", "some random command")
	assert.True(t, ok)
	assert.Equal(t, "pytest", format)
	assert.NotNil(t, p)
}

func TestRegistryResolveForcedFallsBackWhenUnregistered(t *testing.T) {
	reg := NewRegistry(&formathints.Store{})
	reg.Register("auto", fakeParser{})

	format, _, ok := reg.ResolveForced("unregistered-format", "some random command")
	assert.True(t, ok)
	assert.Equal(t, "auto", format)
}

func TestExtractWritesEventsAndStampsFields(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.StorageMode = config.StorageDuckDB
	_, err = schema.Open(ctx, db, cfg)
	require.NoError(t, err)

	reg := NewRegistry(&formathints.Store{})
	reg.Register("auto", fakeParser{events: []types.Event{
		{EventType: "test_failure", Severity: "error", Message: "assertion failed"},
	}})

	p := New(db, cfg, config.StorageDuckDB)
	n, err := p.Extract(ctx, reg, "inv-1", "client-1", "host-1", "go test ./...", []byte("FAIL: TestFoo"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var invocationID, clientID, formatUsed string
	err = db.QueryRowContext(ctx, `SELECT invocation_id, client_id, format_used FROM local.events WHERE invocation_id = 'inv-1'`).
		Scan(&invocationID, &clientID, &formatUsed)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", invocationID)
	assert.Equal(t, "client-1", clientID)
	assert.Equal(t, "auto", formatUsed)
}

// TestDeleteForInvocationThenExtractIsIdempotent covers spec.md §8's
// extract;delete;extract round-trip law: re-extraction yields the same
// event count, not an accumulating duplicate set.
func TestDeleteForInvocationThenExtractIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.StorageMode = config.StorageDuckDB
	_, err = schema.Open(ctx, db, cfg)
	require.NoError(t, err)

	reg := NewRegistry(&formathints.Store{})
	reg.Register("auto", fakeParser{events: []types.Event{
		{EventType: "test_failure", Severity: "error", Message: "assertion failed"},
	}})
	p := New(db, cfg, config.StorageDuckDB)

	_, err = p.Extract(ctx, reg, "inv-2", "client-1", "host-1", "go test ./...", nil, "")
	require.NoError(t, err)
	require.NoError(t, p.DeleteForInvocation(ctx, "inv-2"))
	_, err = p.Extract(ctx, reg, "inv-2", "client-1", "host-1", "go test ./...", nil, "")
	require.NoError(t, err)

	var count int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM local.events WHERE invocation_id = 'inv-2'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestDeleteForInvocationThenExtractIsIdempotentInParquetMode covers the
// same spec.md §8 round-trip law as
// TestDeleteForInvocationThenExtractIsIdempotent, but under
// config.StorageParquet, the store's default mode: DeleteForInvocation
// cannot rewrite an already-flushed parquet file, so it must tombstone
// instead, and main.events (internal/schema) must still read back exactly
// one row after the second extraction.
func TestDeleteForInvocationThenExtractIsIdempotentInParquetMode(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.BirdRoot = t.TempDir()
	cfg.StorageMode = config.StorageParquet
	for _, table := range schema.Tables {
		require.NoError(t, columnar.EnsureSeed(cfg, table))
	}

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = schema.Open(ctx, db, cfg)
	require.NoError(t, err)

	reg := NewRegistry(&formathints.Store{})
	reg.Register("auto", fakeParser{events: []types.Event{
		{EventType: "test_failure", Severity: "error", Message: "assertion failed"},
	}})
	p := New(db, cfg, config.StorageParquet)

	_, err = p.Extract(ctx, reg, "inv-3", "client-1", "host-1", "go test ./...", nil, "")
	require.NoError(t, err)
	require.NoError(t, p.DeleteForInvocation(ctx, "inv-3"))
	_, err = p.Extract(ctx, reg, "inv-3", "client-1", "host-1", "go test ./...", nil, "")
	require.NoError(t, err)

	var count int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM main.events WHERE invocation_id = 'inv-3'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
