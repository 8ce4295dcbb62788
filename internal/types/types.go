// Package types defines the entity structs shared across bird's storage,
// query, and replication layers. See spec.md §3 for the authoritative field
// list and invariants.
package types

import "time"

// JSONValue is the tagged-sum representation of a dynamic metadata value
// (spec.md §9): exactly one of these is non-nil/non-zero at a time, modeled
// as Go's `any` would be by a dynamic language, but kept explicit here so
// serialization to the embedded engine's JSON column type never guesses at
// numeric precision (spec.md §9: "preserve NaN-free numeric precision up to
// 64-bit integer and IEEE-754 double").
type JSONValue struct {
	Null   bool
	Bool   *bool
	Int    *int64
	Float  *float64
	String *string
	List   []JSONValue
	Object map[string]JSONValue
}

// Metadata is a string-keyed map of JSON-typed values, used on Attempt,
// Outcome, and Event rows.
type Metadata map[string]JSONValue

// Plain unwraps v into the nearest native Go value (nil, bool, int64,
// float64, string, []any, or map[string]any), the shape both storage
// writers need before handing metadata to encoding/json.
func (v JSONValue) Plain() any {
	switch {
	case v.Null:
		return nil
	case v.Bool != nil:
		return *v.Bool
	case v.Int != nil:
		return *v.Int
	case v.Float != nil:
		return *v.Float
	case v.String != nil:
		return *v.String
	case v.List != nil:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.Plain()
		}
		return out
	case v.Object != nil:
		out := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			out[k] = e.Plain()
		}
		return out
	default:
		return nil
	}
}

// Plain flattens m to a map ready for encoding/json, used by both
// internal/columnar and internal/tablewriter before writing a metadata
// column.
func (m Metadata) Plain() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Plain()
	}
	return out
}

// Attempt is an invocation start record (spec.md §3).
type Attempt struct {
	ID             string // UUIDv7
	Timestamp      time.Time
	SessionID      string
	ClientID       string
	Hostname       string
	Username       string
	Cmd            string
	Cwd            string
	ExecutableHint string // optional
	FormatHint     string // optional
	Tag            string // optional, unique per store
	MachineID      string // "<kind>:<value>", e.g. "pid:123"
	Metadata       Metadata
	Date           string // YYYY-MM-DD, derived from Timestamp
}

// Outcome is an invocation completion record (spec.md §3).
type Outcome struct {
	AttemptID   string
	CompletedAt time.Time
	ExitCode    *int32 // nil = orphaned
	DurationMs  *int64
	Signal      *int32
	Timeout     bool
	Metadata    Metadata
	Date        string
}

// Status is the derived lifecycle state of an invocation (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusOrphaned  Status = "orphaned"
)

// DeriveStatus implements the pure function spec.md §3 names: derived
// status is a function of (attempt exists?, outcome exists?, exit_code).
// hasOutcome must be false when no Outcome row exists yet for the attempt.
func DeriveStatus(hasOutcome bool, exitCode *int32) Status {
	if !hasOutcome {
		return StatusPending
	}
	if exitCode == nil {
		return StatusOrphaned
	}
	return StatusCompleted
}

// Invocation is the canonical read shape (attempt ⋈ outcome) that every
// caller above the storage layer queries (spec.md §4.5, §9).
type Invocation struct {
	Attempt
	Status     Status
	ExitCode   *int32
	DurationMs *int64
	Source     string // "local" or a peer/cache name, set by the schema composer
}

// StorageType is how an Output's bytes are represented.
type StorageType string

const (
	StorageInline StorageType = "inline"
	StorageBlob   StorageType = "blob"
)

// Output is a captured stream segment (spec.md §3).
type Output struct {
	ID            string
	InvocationID  string
	Stream        string // "stdout" | "stderr" | others
	ContentHash   string // BLAKE3 hex
	ByteLength    int64
	StorageType   StorageType
	StorageRef    string
	ContentType   string // MIME hint, may be empty
	Date          string
}

// Session is a grouping unit for invocations issued from the same invoker
// instance (spec.md §3).
type Session struct {
	SessionID    string
	ClientID     string
	Invoker      string
	InvokerPID   int64
	InvokerType  string
	RegisteredAt time.Time
	Cwd          string
	Date         string
}

// Severity classifies an Event's importance.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityNote    Severity = "note"
)

// Event is a structured record extracted from an Output (spec.md §3).
type Event struct {
	ID           string
	InvocationID string
	ClientID     string
	Hostname     string
	EventType    string
	Severity     Severity
	RefFile      string
	RefLine      int64
	RefColumn    int64
	Message      string
	ErrorCode    string
	TestName     string
	Status       string
	FormatUsed   string
	Date         string
	ExtractedAt  time.Time // when this extraction ran; distinguishes re-extractions for tombstone filtering
}

// BlobRegistryEntry is an entry per unique content hash (spec.md §3).
type BlobRegistryEntry struct {
	ContentHash  string
	ByteLength   int64
	RefCount     int64
	FirstSeen    time.Time
	LastAccessed time.Time
	StoragePath  string // relative to data root
}

// DateOf derives the partition date for ts: floor(timestamp, day, UTC)
// (spec.md §3 invariant).
func DateOf(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}
