//go:build unix || linux || darwin

package lockfile

import (
	"errors"
	"syscall"
)

// isProcessRunning probes liveness of pid via a signal-0 kill (spec.md
// §4.9's "pid:" runner kind). EPERM means the process exists but is owned
// by another user, which still counts as running; ESRCH is the only
// "definitely dead" answer.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false // 0 or negative would target a process group, not one pid
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
