//go:build unix || windows

package liveness

import "github.com/teaguesterling/bird/internal/lockfile"

// probePID asks internal/lockfile, which knows how to signal-probe a pid on
// both POSIX platforms and Windows.
func probePID(pid int) bool { return lockfile.ProcessAlive(pid) }
