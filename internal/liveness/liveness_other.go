//go:build !unix && !windows

package liveness

// probePID has no process-signaling primitive to call on this platform
// (spec.md §5.6), so every "pid:" identifier is treated as alive, and the
// orphan sweep never reaps a "pid:" record on this platform.
func probePID(pid int) bool { return true }
