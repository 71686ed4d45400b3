// Package types defines the logical entities of the invocation record
// store: attempts, outcomes, the derived invocation view, outputs, events,
// sessions, and the content-addressed blob registry. These types are
// backend-agnostic; internal/tablestore and internal/shardwriter each
// serialize them their own way.
package types

import (
	"encoding/json"
	"time"
)

// Metadata is the semi-structured key-value bag carried by attempts,
// outcomes, and events. Well-known namespaces (vcs, ci, env, resources,
// timing, recovery) have documented shapes; readers tolerate unknown keys.
type Metadata map[string]json.RawMessage

// Merge returns a new Metadata with other's keys overlaid on m's keys,
// so other wins on key conflict. The invocations view does not use it:
// it exposes attempt and outcome metadata as separate columns.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Attempt records the intent to run one command. Attempts are never
// mutated or deleted by normal operation.
type Attempt struct {
	ID           string    `json:"id"` // time-ordered 128-bit UUID
	Timestamp    time.Time `json:"timestamp"`
	Cmd          string    `json:"cmd"`
	Cwd          string    `json:"cwd"`
	Executable   string    `json:"executable"`
	SessionID    string    `json:"session_id"`
	Tag          string    `json:"tag,omitempty"`
	SourceClient string    `json:"source_client"`
	MachineID    string    `json:"machine_id"`
	Hostname     string    `json:"hostname"`
	FormatHint   string    `json:"format_hint,omitempty"`
	RunnerID     string    `json:"runner_id"`
	Date         string    `json:"date"` // partition key, YYYY-MM-DD
	Metadata     Metadata  `json:"metadata,omitempty"`
}

// Outcome records the result of exactly one attempt. An outcome may exist
// without a matching attempt (imported/legacy data). ExitCode is nil when
// the run crashed or was recovered without a known exit status.
type Outcome struct {
	AttemptID   string    `json:"attempt_id"`
	CompletedAt time.Time `json:"completed_at"`
	ExitCode    *int      `json:"exit_code"`
	DurationMs  int64     `json:"duration_ms"`
	Signal      *int      `json:"signal,omitempty"`
	Timeout     bool      `json:"timeout"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	Date        string    `json:"date"`
}

// Status is the derived state of an invocation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOrphaned  Status = "orphaned"
	StatusCompleted Status = "completed"
)

// Invocation is the derived left join of an attempt onto its outcome. It
// is never stored; it is computed by internal/schema and internal/querygateway.
type Invocation struct {
	Attempt

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	Signal      *int       `json:"signal,omitempty"`
	Timeout     bool       `json:"timeout"`

	Status Status `json:"status"`
}

// DeriveStatus computes an invocation's status from whether an outcome
// exists and whether its exit code is known.
func DeriveStatus(hasOutcome bool, exitCode *int) Status {
	if !hasOutcome {
		return StatusPending
	}
	if exitCode == nil {
		return StatusOrphaned
	}
	return StatusCompleted
}

// StorageType classifies how an Output's bytes are stored.
type StorageType string

const (
	StorageInline StorageType = "inline"
	StorageBlob   StorageType = "blob"
)

// Stream identifies which captured byte stream an Output holds.
type Stream string

const (
	StreamStdout   Stream = "stdout"
	StreamStderr   Stream = "stderr"
	StreamCombined Stream = "combined"
)

// Output is a captured byte stream for an attempt, referenced by soft
// foreign key (InvocationID). Immutable once created.
type Output struct {
	ID           string      `json:"id"`
	InvocationID string      `json:"invocation_id"`
	Stream       Stream      `json:"stream"`
	ContentHash  string      `json:"content_hash"` // hex BLAKE3, 64 chars
	ByteLength   int64       `json:"byte_length"`
	StorageType  StorageType `json:"storage_type"`
	StorageRef   string      `json:"storage_ref"`
	Date         string      `json:"date"`
}

// Severity classifies an Event's diagnostic level.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityNote    Severity = "note"
)

// Event is one parsed diagnostic derived from an output (a compiler error,
// a test failure). Immutable once created.
type Event struct {
	ID           string   `json:"id"`
	InvocationID string   `json:"invocation_id"`
	Severity     Severity `json:"severity"`
	EventType    string   `json:"event_type"`
	RefFile      string   `json:"ref_file,omitempty"`
	RefLine      int      `json:"ref_line,omitempty"`
	RefColumn    int      `json:"ref_column,omitempty"`
	Message      string   `json:"message"`
	FormatUsed   string   `json:"format_used,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ToolName     string `json:"tool_name,omitempty"`
	Category     string `json:"category,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	TestName     string `json:"test_name,omitempty"`
	TestStatus   string `json:"test_status,omitempty"`
	LogLineStart int    `json:"log_line_start,omitempty"`
	LogLineEnd   int    `json:"log_line_end,omitempty"`

	Metadata Metadata `json:"metadata,omitempty"`
	Date     string   `json:"date"`
}

// Session is an optional grouping label; not every attempt's SessionID
// need appear in the session table.
type Session struct {
	SessionID     string    `json:"session_id"`
	SourceClient  string    `json:"source_client"`
	Invoker       string    `json:"invoker"`
	InvokerPID    int       `json:"invoker_pid,omitempty"`
	InvokerType   string    `json:"invoker_type,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
	Cwd           string    `json:"cwd"`
	Date          string    `json:"date"`
}

// CompressionCodec names the algorithm, if any, applied to a blob file on
// disk. The uncompressed content is always what hashes to ContentHash.
type CompressionCodec string

const (
	CompressionNone CompressionCodec = "none"
	CompressionGzip CompressionCodec = "gzip"
	CompressionZstd CompressionCodec = "zstd"
)

// StorageTier is the hot/cold placement of a blob or partition.
type StorageTier string

const (
	TierRecent  StorageTier = "recent"
	TierArchive StorageTier = "archive"
)

// BlobRegistryEntry is one row of the content-addressed blob registry.
type BlobRegistryEntry struct {
	ContentHash  string           `json:"content_hash"`
	ByteLength   int64            `json:"byte_length"`
	Compression  CompressionCodec `json:"compression"`
	RefCount     int64            `json:"ref_count"`
	FirstSeen    time.Time        `json:"first_seen"`
	LastAccessed time.Time        `json:"last_accessed"`
	StorageTier  StorageTier      `json:"storage_tier"`
	StoragePath  string           `json:"storage_path"`
	VerifiedAt   *time.Time       `json:"verified_at,omitempty"`
	Corrupt      bool             `json:"corrupt"`
}

// StoreMeta is a single key-value row of the store_meta relation.
type StoreMeta struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SchemaVersion is the current logical schema version this module writes
// and expects to read. Migrations are additive only.
const SchemaVersion = "5"
