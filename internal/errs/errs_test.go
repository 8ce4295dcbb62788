package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUnwrapsToMatchKind(t *testing.T) {
	base := NotFoundf("invocation", "abc123")
	wrapped := fmt.Errorf("resolving query: %w", base)

	assert.True(t, Is(wrapped, NotFound))
	assert.False(t, Is(wrapped, IO))
	assert.False(t, Is(errors.New("plain error"), NotFound))
	assert.False(t, Is(nil, IO))
}

func TestErrorStringIncludesPathAndCause(t *testing.T) {
	err := IOf("/tmp/s/db/bird.duckdb", errors.New("permission denied"))
	assert.Equal(t, "io: /tmp/s/db/bird.duckdb: permission denied", err.Error())
}

func TestErrorStringWithoutCause(t *testing.T) {
	err := &Error{Kind: NotInitialized, Path: "/tmp/s"}
	assert.Equal(t, "not_initialized: /tmp/s", err.Error())
}

func TestErrorStringKindOnly(t *testing.T) {
	err := &Error{Kind: Storage}
	assert.Equal(t, "storage", err.Error())
}

func TestUnwrapExposesUnderlyingError(t *testing.T) {
	cause := errors.New("disk full")
	err := IOf("/tmp/x", cause)
	assert.Same(t, cause, err.Unwrap())
}

func TestKindStringCoversEveryConstant(t *testing.T) {
	kinds := []Kind{IO, Storage, NotInitialized, AlreadyInitialized, Config, NotFound, Extension, InvalidPath}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		assert.NotEqual(t, "unknown", s)
		assert.False(t, seen[s], "duplicate Kind.String() value %q", s)
		seen[s] = true
	}
}
