package main

import (
	"strconv"
	"strings"

	"github.com/teaguesterling/bird/internal/query"
)

// parseQueryArg turns a CLI query string into a query.FilterSet. The full
// query micro-language (source selectors, field operators, ranges) is out
// of this repo's scope (spec.md §1) — the core only needs a FilterSet
// producer, so this accepts the common cases: a bare token is a command
// glob, and space-separated `field=value` tokens set individual filters.
func parseQueryArg(q string) query.FilterSet {
	var f query.FilterSet
	for _, tok := range strings.Fields(q) {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			if f.Cmd == "" {
				f.Cmd = tok
			}
			continue
		}
		switch key {
		case "cmd":
			f.Cmd = val
		case "cwd":
			f.Cwd = val
		case "tag":
			f.Tag = val
		case "status":
			f.Status = val
		case "since":
			f.Since = val
		case "until":
			f.Until = val
		case "client":
			f.ClientID = val
		case "session":
			f.SessionID = val
		case "exit":
			if n, err := strconv.Atoi(val); err == nil {
				ec := int32(n)
				f.ExitCode = &ec
			}
		}
	}
	return f
}
