package atomicfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceThenOpenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "sub", "blob.bin")
	payload := []byte("hello, world")

	result, err := Place(final, payload)
	require.NoError(t, err)
	assert.Equal(t, WroteNew, result)

	got, err := Open(final)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	entries, err := os.ReadDir(filepath.Dir(final))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after a successful Place")
}

func TestPlaceSecondCallSeesAlreadyExisted(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "blob.bin")

	result, err := Place(final, []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, WroteNew, result)

	result, err = Place(final, []byte("second writer's content, discarded"))
	require.NoError(t, err)
	assert.Equal(t, AlreadyExisted, result)

	got, err := Open(final)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got, "the winner's content is authoritative")
}

// TestConcurrentPlaceSameDestination covers the boundary behavior in
// spec.md §8: N concurrent writers racing the same final path leave exactly
// one winner and every other call reporting AlreadyExisted, with no temp
// files left behind.
func TestConcurrentPlaceSameDestination(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "blob.bin")

	const writers = 8
	results := make([]Result, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := Place(final, []byte("identical content"))
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	wroteNew := 0
	for _, r := range results {
		if r == WroteNew {
			wroteNew++
		}
	}
	assert.Equal(t, 1, wroteNew, "exactly one writer should win the race")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files after a concurrent race")
}

func TestPlaceWithProducerFailureCleansUpTemp(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "blob.bin")

	_, err := PlaceWith(final, func(tmp string) error {
		return os.ErrInvalid
	})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed producer must not leave a temp file behind")
}
