// Package formathints resolves which output parser to use for a captured
// stream, via a TOML rule store of glob patterns to format names, matching
// spec.md §4.7 and grounded on original_source/bird/src/format_hints.rs's
// priority-sorted glob matching.
package formathints

import (
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teaguesterling/bird/internal/errs"
	"github.com/teaguesterling/bird/internal/query"
)

// Rule is one `[[format-hints]]` array-table entry: Pattern matches a
// command or executable hint (glob syntax), Format names the parser to
// use, Priority breaks ties when multiple patterns match (higher wins;
// spec.md §4.7). Load reads only this array-table form; bare
// `pattern = "format"` keys and `[format-hints.N]` priority sections are
// not recognized.
type Rule struct {
	Pattern  string `toml:"pattern"`
	Format   string `toml:"format"`
	Priority int    `toml:"priority"`
}

// Store holds the loaded rule set, pre-sorted by descending priority.
type Store struct {
	rules []Rule
}

type document struct {
	FormatHints []Rule `toml:"format-hints"`
}

// Load reads path (a TOML file of `[[format-hints]]` tables) and returns a
// Store. A missing file yields an empty Store, not an error — format hints
// are an optional refinement over each parser's own content sniffing
// (spec.md §4.7).
func Load(path string) (*Store, error) {
	var doc document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if os.IsNotExist(err) {
			return &Store{}, nil
		}
		return nil, errs.Configf(path, err)
	}
	rules := doc.FormatHints
	for i := range rules {
		if rules[i].Priority == 0 {
			rules[i].Priority = defaultPriority
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Pattern < rules[j].Pattern
	})
	return &Store{rules: rules}, nil
}

// defaultPriority is given to every `[[format-hints]]` entry whose priority
// is omitted or set to 0 (spec.md §4.7).
const defaultPriority = 500

// fallbackFormat is returned when no rule matches (spec.md §4.7).
const fallbackFormat = "auto"

// Resolve returns the highest-priority rule whose pattern matches
// candidate (typically the command string), breaking ties by pattern
// ascending, or fallbackFormat ("auto") if nothing matches. Matching is
// case-sensitive (spec.md §4.7/§9: format hints do not fold case, unlike
// exclusion-list matching).
func (s *Store) Resolve(candidate string) string {
	for _, r := range s.rules {
		if query.CompileGlob(r.Pattern, false)(candidate) {
			return r.Format
		}
	}
	return fallbackFormat
}
