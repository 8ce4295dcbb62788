package main

import "github.com/charmbracelet/x/ansi"

// stripANSIBytes removes terminal escape sequences from captured output
// for the --strip-ansi rendering option (spec.md §6 `output`).
func stripANSIBytes(b []byte) []byte {
	return []byte(ansi.Strip(string(b)))
}
