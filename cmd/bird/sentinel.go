package main

import "bytes"

// Opt-out sentinel forms spec.md §6 defines: an OSC string `shq;nosave`
// terminated either by BEL or by ESC \ (ST).
var (
	sentinelBEL = []byte("\x1b]shq;nosave\x07")
	sentinelST  = []byte("\x1b]shq;nosave\x1b\\")
)

// containsOptOutSentinel reports whether any captured buffer carries the
// opt-out marker, in which case run/save must not persist the invocation.
func containsOptOutSentinel(buffers ...[]byte) bool {
	for _, b := range buffers {
		if bytes.Contains(b, sentinelBEL) || bytes.Contains(b, sentinelST) {
			return true
		}
	}
	return false
}
