package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsRecordableInstruments(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(ctx) })

	assert.NotPanics(t, func() {
		m.Attempts.Add(ctx, 1)
		m.Outcomes.Add(ctx, 1)
		m.OrphansFound.Add(ctx, 1)
		m.BlobBytesPut.Add(ctx, 4096)
		m.CompactionDur.Record(ctx, 0.25)
	})
}

func TestShutdownOnNilProviderIsNoOp(t *testing.T) {
	var m Meters
	assert.NoError(t, m.Shutdown(context.Background()))
}
