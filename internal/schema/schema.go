// Package schema defines the logical relations of §3/§6.5 independently
// of backend, and the concrete DDL that materializes them in the
// single-writer (embedded sqlite) backend. The multi-writer backend
// derives the same relations from shard files at query time
// (internal/querygateway); this package's DDL constants are also reused
// there to describe the shape each shard's columns take.
package schema

import "fmt"

// Version is the schema version recorded in store_meta. Migrations are
// additive only: new nullable columns, new tables, never drops or
// renames (§4.3).
const Version = "5"

// CreateTablesDDL creates the native tables of the single-writer
// backend. The invocations relation is not a table here: it is
// installed separately as a view (InvocationsViewDDL) once attempts and
// outcomes exist.
const CreateTablesDDL = `
CREATE TABLE IF NOT EXISTS attempts (
	id            TEXT PRIMARY KEY,
	timestamp     TEXT NOT NULL,
	cmd           TEXT NOT NULL,
	cwd           TEXT NOT NULL,
	executable    TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	tag           TEXT,
	source_client TEXT NOT NULL,
	machine_id    TEXT NOT NULL,
	hostname      TEXT NOT NULL,
	format_hint   TEXT,
	runner_id     TEXT NOT NULL,
	date          TEXT NOT NULL,
	metadata      TEXT
);
CREATE INDEX IF NOT EXISTS idx_attempts_date ON attempts(date);
CREATE INDEX IF NOT EXISTS idx_attempts_session ON attempts(session_id);

CREATE TABLE IF NOT EXISTS outcomes (
	attempt_id   TEXT PRIMARY KEY,
	completed_at TEXT NOT NULL,
	exit_code    INTEGER,
	duration_ms  INTEGER NOT NULL,
	signal       INTEGER,
	timeout      INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT,
	date         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_date ON outcomes(date);

CREATE TABLE IF NOT EXISTS outputs (
	id            TEXT PRIMARY KEY,
	invocation_id TEXT NOT NULL,
	stream        TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	byte_length   INTEGER NOT NULL,
	storage_type  TEXT NOT NULL,
	storage_ref   TEXT NOT NULL,
	date          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outputs_invocation ON outputs(invocation_id);
CREATE INDEX IF NOT EXISTS idx_outputs_date ON outputs(date);

CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	invocation_id  TEXT NOT NULL,
	severity       TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	ref_file       TEXT,
	ref_line       INTEGER,
	ref_column     INTEGER,
	message        TEXT NOT NULL,
	format_used    TEXT,
	error_code     TEXT,
	tool_name      TEXT,
	category       TEXT,
	fingerprint    TEXT,
	test_name      TEXT,
	test_status    TEXT,
	log_line_start INTEGER,
	log_line_end   INTEGER,
	metadata       TEXT,
	date           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_invocation ON events(invocation_id);
CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);

CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	source_client TEXT NOT NULL,
	invoker       TEXT NOT NULL,
	invoker_pid   INTEGER,
	invoker_type  TEXT,
	registered_at TEXT NOT NULL,
	cwd           TEXT NOT NULL,
	date          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// InvocationsViewDDL installs the derived invocations view (§4.3): the
// left join of attempts onto outcomes, with a computed status column.
// The view exposes attempt and outcome metadata as two separate columns
// (attempt_metadata, outcome_metadata); no merged metadata column is
// computed, here or elsewhere.
const InvocationsViewDDL = `
CREATE VIEW IF NOT EXISTS invocations AS
SELECT
	a.id, a.timestamp, a.cmd, a.cwd, a.executable, a.session_id, a.tag,
	a.source_client, a.machine_id, a.hostname, a.format_hint, a.runner_id,
	a.date, a.metadata AS attempt_metadata,
	o.completed_at, o.exit_code, o.duration_ms, o.signal, o.timeout,
	o.metadata AS outcome_metadata,
	CASE
		WHEN o.attempt_id IS NULL THEN 'pending'
		WHEN o.exit_code IS NULL THEN 'orphaned'
		ELSE 'completed'
	END AS status
FROM attempts a
LEFT JOIN outcomes o ON a.id = o.attempt_id;
`

// StoreMetaBootstrapDDL seeds store_meta with the schema version only
// (run by internal/tablestore's Open); writer identity and creation
// timestamp are not recorded.
func StoreMetaBootstrapDDL() string {
	return fmt.Sprintf(`
INSERT OR IGNORE INTO store_meta(key, value) VALUES ('schema_version', '%s');
`, Version)
}

// Relation names, used by internal/syncengine for its dependency order
// and by internal/querygateway for view installation.
const (
	RelationSessions = "sessions"
	RelationAttempts = "attempts"
	RelationOutcomes = "outcomes"
	RelationOutputs  = "outputs"
	RelationEvents   = "events"

	RelationInvocations  = "invocations"
	RelationStoreMeta    = "store_meta"
	RelationBlobRegistry = "blob_registry"
)

// SyncOrder is the dependency order §4.6 mandates for push/pull so that
// soft foreign keys resolve in the order a reader would expect them to
// exist, even though they are never enforced.
var SyncOrder = []string{
	RelationSessions,
	RelationAttempts,
	RelationOutcomes,
	RelationOutputs,
	RelationEvents,
}
