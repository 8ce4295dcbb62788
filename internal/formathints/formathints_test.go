package formathints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, fallbackFormat, s.Resolve("anything"))
}

func TestResolveFallsBackWhenNothingMatches(t *testing.T) {
	s := &Store{rules: []Rule{{Pattern: "npm *", Format: "npm", Priority: 500}}}
	assert.Equal(t, fallbackFormat, s.Resolve("git commit"))
}

func TestResolvePicksHighestPriority(t *testing.T) {
	s := &Store{rules: []Rule{
		{Pattern: "git *", Format: "git-generic", Priority: 100},
		{Pattern: "git commit*", Format: "git-commit", Priority: 900},
	}}
	// Load() would have pre-sorted these; construct already sorted for
	// Resolve's own test, since Resolve just walks rules in order.
	s.rules[0], s.rules[1] = s.rules[1], s.rules[0]

	assert.Equal(t, "git-commit", s.Resolve("git commit -m msg"))
}

func TestResolveIsCaseSensitive(t *testing.T) {
	s := &Store{rules: []Rule{{Pattern: "GIT*", Format: "git", Priority: 500}}}
	assert.Equal(t, fallbackFormat, s.Resolve("git commit"))
}

func TestLoadSortsByPriorityThenPatternAscending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "format-hints.toml")
	content := `
[[format-hints]]
pattern = "npm *"
format = "npm"

[[format-hints]]
pattern = "git *"
format = "git"
priority = 900

[[format-hints]]
pattern = "cargo *"
format = "cargo"
priority = 900
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.Len(t, s.rules, 3)

	assert.Equal(t, "cargo *", s.rules[0].Pattern)
	assert.Equal(t, "git *", s.rules[1].Pattern)
	assert.Equal(t, "npm *", s.rules[2].Pattern)
	assert.Equal(t, defaultPriority, s.rules[2].Priority)
}

func TestResolveAgainstLoadedStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "format-hints.toml")
	content := `
[[format-hints]]
pattern = "go test*"
format = "go-test"
priority = 900

[[format-hints]]
pattern = "go *"
format = "go-generic"
priority = 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "go-test", s.Resolve("go test ./..."))
	assert.Equal(t, "go-generic", s.Resolve("go build ./..."))
	assert.Equal(t, fallbackFormat, s.Resolve("npm install"))
}
