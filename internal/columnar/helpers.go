package columnar

import (
	"encoding/json"
	"os"

	"github.com/teaguesterling/bird/internal/types"
)

// renameViaOS performs the final-name handoff for a just-closed parquet
// file. Unlike internal/atomicfile's dedup-aware placement, this is a plain
// os.Rename, which replaces any existing file at final. Only event files
// carry a fresh uuid per flush; attempt and output files are named by
// their ids, and outcome and session files by attempt_id and session_id, so
// a second write for the same outcome or session replaces the earlier file.
func renameViaOS(tmp, final string) error {
	return os.Rename(tmp, final)
}

func statPath(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// encodeMetadata flattens a Metadata map to its JSON string form for the
// parquet row's BYTE_ARRAY column; DuckDB's read_parquet then re-parses it
// into its native JSON type on read (spec.md §4.3/§9).
func encodeMetadata(m types.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m.Plain())
	if err != nil {
		return "", err
	}
	return string(b), nil
}
