// Package liveness probes whether the runner that recorded an attempt is
// still alive, so internal/invocation can distinguish "still running" from
// "orphaned: the process that would have written the outcome is gone"
// (spec.md §4.9).
package liveness

import (
	"strconv"
	"strings"
)

// Probe checks a machine_id value of the form "<kind>:<value>" and reports
// whether the runner it names is still alive. Unknown kinds and malformed
// values are treated as dead, since an orphan sweep must eventually make
// progress even against machine_id values this build doesn't recognize
// (spec.md §4.9 "unknown kinds are conservatively reaped").
func Probe(machineID string) bool {
	kind, value, ok := strings.Cut(machineID, ":")
	if !ok {
		return false
	}
	switch kind {
	case "pid":
		pid, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		return probePID(pid)
	case "gha", "k8s":
		// Neither a GitHub Actions run nor a Kubernetes pod can be probed
		// for liveness from the local machine; both are always treated as
		// dead so a stale record from a finished CI run or evicted pod
		// gets reaped on the next sweep (spec.md §4.9).
		return false
	default:
		return false
	}
}
