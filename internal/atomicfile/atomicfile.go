// Package atomicfile provides crash-safe and concurrent-safe placement of a
// byte payload (or a producer-generated file) at a final path, via a
// temp-file-then-rename protocol. See spec §4.1: no caller ever observes a
// partially-written final file, and no temp file remains after a successful
// call.
package atomicfile

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/teaguesterling/bird/internal/errs"
)

// Result reports whether Place/PlaceWith actually wrote the final path or
// observed that it already existed (a dedup hit for content-addressed
// callers such as internal/blobstore).
type Result int

const (
	// WroteNew means this call created the final path.
	WroteNew Result = iota
	// AlreadyExisted means another writer won the race; the caller's
	// content was discarded and the existing file is authoritative.
	AlreadyExisted
)

// tempPath returns a sibling temp name of the form
// "<dir>/.tmp.<rand64>.<basename>", guaranteed to be on the same
// filesystem as finalPath so that a subsequent rename is atomic.
func tempPath(finalPath string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate temp suffix: %w", err)
	}
	base := filepath.Base(finalPath)
	name := fmt.Sprintf(".tmp.%s.%s", hex.EncodeToString(buf[:]), base)
	return filepath.Join(filepath.Dir(finalPath), name), nil
}

// Place writes data to finalPath atomically: content is written to a temp
// file in the same directory, then renamed into place. If finalPath already
// exists by the time the rename happens, the temp file is removed and
// AlreadyExisted is returned — this is the expected dedup path for
// content-addressed stores, not an error.
func Place(finalPath string, data []byte) (Result, error) {
	return PlaceWith(finalPath, func(tmp string) error {
		return os.WriteFile(tmp, data, 0o644)
	})
}

// PlaceWith is like Place, but the caller writes to tempPath itself (e.g.
// streaming a parquet COPY output or a blake3 hasher's sink) instead of
// handing over a pre-built byte slice.
func PlaceWith(finalPath string, produce func(tempPath string) error) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, errs.IOf(filepath.Dir(finalPath), err)
	}

	tmp, err := tempPath(finalPath)
	if err != nil {
		return 0, errs.IOf(finalPath, err)
	}

	if err := produce(tmp); err != nil {
		_ = os.Remove(tmp)
		return 0, errs.IOf(tmp, err)
	}

	if err := renameIntoPlace(tmp, finalPath); err != nil {
		if errors.Is(err, errAlreadyExisted) {
			return AlreadyExisted, nil
		}
		return 0, errs.IOf(finalPath, err)
	}
	return WroteNew, nil
}

var errAlreadyExisted = errors.New("atomicfile: final path already existed")

// renameIntoPlace performs the rename, normalizing the "target exists"
// outcome (which on POSIX os.Rename silently overwrites — so we pre-check
// with a Link/rename race that fails closed) into errAlreadyExisted and
// cleaning the temp file up in every non-success path.
func renameIntoPlace(tmp, final string) error {
	// os.Rename on POSIX overwrites an existing destination, which would
	// silently corrupt a concurrent writer's already-placed content. We
	// instead Link the temp file to the final path (fails with
	// ErrExist if final already exists, and is itself atomic), then
	// remove the temp name either way.
	err := os.Link(tmp, final)
	removeErr := os.Remove(tmp)
	switch {
	case err == nil:
		return removeErr
	case errors.Is(err, os.ErrExist):
		return errAlreadyExisted
	default:
		return err
	}
}

// Open is a convenience read-back used by tests and by blobstore's Open to
// read file:// blob refs.
func Open(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.IOf(path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errs.IOf(path, err)
	}
	return data, nil
}
