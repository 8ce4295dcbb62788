// Package obslog wires structured logging the way beads' daemon code does
// it (log/slog.Logger passed explicitly, never a package-global), fanned
// out to stderr and to an append-only (never rotated) errors.log under the store
// root so `bird info`/support bundles can inspect recent failures without
// re-running the failing command.
package obslog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/teaguesterling/bird/internal/errs"
)

// Open returns a *slog.Logger that writes to both stderr and
// "<root>/errors.log" (created if absent), and the file handle so callers
// can close it on shutdown. cmd/bird's main logs a command's top-level
// failure through this logger; other packages do not take it.
func Open(root string, level slog.Level) (*slog.Logger, io.Closer, error) {
	path := filepath.Join(root, "errors.log")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, nil, errs.IOf(root, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, errs.IOf(path, err)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stderr, f), &slog.HandlerOptions{Level: level})
	return slog.New(handler), f, nil
}

// Discard is used by tests and by code paths that run before a store root
// is known (e.g. CLI flag parsing errors).
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
