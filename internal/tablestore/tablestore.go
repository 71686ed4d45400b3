// Package tablestore implements the embedded table writer (C3): the
// single-file analytic database backend. Rows are inserted into native
// sqlite tables; the invocations relation is materialized as a SQL view
// over them (internal/schema). Writes are serialized on a process
// mutex and retried with exponential backoff when the engine itself
// reports a lock conflict (§4.2, §5, §7 BackendBusy).
//
// Grounded on the teacher's internal/storage/sqlite package (short-lived
// connections, busy-timeout connection string) and its use of
// cenkalti/backoff for engine lock-contention retries.
package tablestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"

	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/sqliteconn"
	"github.com/invocationstore/irs/internal/storeerrors"
)

// Store is a handle onto the single-writer backend's database file.
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex // process-internal serialization, §4.2
	dbPath   string
}

// Open creates (if absent) and opens storeRoot/db/store.db, installing
// the schema and the invocations view.
func Open(storeRoot string) (*Store, error) {
	dbDir := filepath.Join(storeRoot, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("tablestore: create db dir: %w", err)
	}
	dbPath := filepath.Join(dbDir, "store.db")

	db, err := sql.Open("sqlite3", sqliteconn.ConnString(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("tablestore: open: %w", err)
	}
	// A single physical connection makes the process-internal mutex below
	// the actual point of serialization, instead of letting database/sql
	// silently hand out a second connection under contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema.CreateTablesDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("tablestore: create tables: %w", err)
	}
	if _, err := db.Exec(schema.InvocationsViewDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("tablestore: create invocations view: %w", err)
	}
	if _, err := db.Exec(schema.StoreMetaBootstrapDDL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("tablestore: bootstrap store_meta: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for the query gateway's read path.
func (s *Store) DB() *sql.DB { return s.db }

// withRetry runs fn, retrying on a sqlite "database is locked"/"busy"
// condition with exponential backoff and jitter (10ms-1s, up to 10
// attempts), surfacing storeerrors.ErrBackendBusy once exhausted.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 1 * time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.5

	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if isBusy(err) && attempts < 10 {
			return err // retryable
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: %v", storeerrors.ErrBackendBusy, err)
		}
		return err
	}
	return nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy")
}

// InsertAttempt writes one attempt row.
func (s *Store) InsertAttempt(ctx context.Context, id, timestamp, cmd, cwd, executable, sessionID, tag,
	sourceClient, machineID, hostname, formatHint, runnerID, date string, metadataJSON []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attempts
				(id, timestamp, cmd, cwd, executable, session_id, tag,
				 source_client, machine_id, hostname, format_hint, runner_id, date, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, timestamp, cmd, cwd, executable, sessionID, nullIfEmpty(tag),
			sourceClient, machineID, hostname, nullIfEmpty(formatHint), runnerID, date, string(metadataJSON))
		return err
	})
}

// InsertOutcome writes one outcome row. A second write for the same
// attempt_id is a primary-key conflict; the caller distinguishes a
// recovery-context duplicate (silently dropped) from a normal close
// (surfaced) by the storeerrors.ErrDuplicateOutcome sentinel.
func (s *Store) InsertOutcome(ctx context.Context, attemptID, completedAt string, exitCode *int,
	durationMs int64, signal *int, timeout bool, date string, metadataJSON []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO outcomes
				(attempt_id, completed_at, exit_code, duration_ms, signal, timeout, metadata, date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			attemptID, completedAt, nullableInt(exitCode), durationMs, nullableInt(signal),
			boolToInt(timeout), string(metadataJSON), date)
		if err != nil && isUniqueViolation(err) {
			return fmt.Errorf("%w: attempt %s: %v", storeerrors.ErrDuplicateOutcome, attemptID, err)
		}
		return err
	})
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

// InsertOutput writes one output row.
func (s *Store) InsertOutput(ctx context.Context, id, invocationID, stream, contentHash string,
	byteLength int64, storageType, storageRef, date string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO outputs
				(id, invocation_id, stream, content_hash, byte_length, storage_type, storage_ref, date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, invocationID, stream, contentHash, byteLength, storageType, storageRef, date)
		return err
	})
}

// InsertEvent writes one event row.
func (s *Store) InsertEvent(ctx context.Context, e EventRow) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO events
				(id, invocation_id, severity, event_type, ref_file, ref_line, ref_column,
				 message, format_used, error_code, tool_name, category, fingerprint,
				 test_name, test_status, log_line_start, log_line_end, metadata, date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.InvocationID, e.Severity, e.EventType, nullIfEmpty(e.RefFile), e.RefLine, e.RefColumn,
			e.Message, nullIfEmpty(e.FormatUsed), nullIfEmpty(e.ErrorCode), nullIfEmpty(e.ToolName),
			nullIfEmpty(e.Category), nullIfEmpty(e.Fingerprint), nullIfEmpty(e.TestName), nullIfEmpty(e.TestStatus),
			e.LogLineStart, e.LogLineEnd, string(e.MetadataJSON), e.Date)
		return err
	})
}

// EventRow is the flattened column set for one event insert.
type EventRow struct {
	ID, InvocationID, Severity, EventType string
	RefFile                               string
	RefLine, RefColumn                    int
	Message, FormatUsed                   string
	ErrorCode, ToolName, Category         string
	Fingerprint, TestName, TestStatus     string
	LogLineStart, LogLineEnd              int
	MetadataJSON                          []byte
	Date                                  string
}

// UpsertSession writes or replaces a session row (sessions are optional
// grouping metadata, §3, not append-only in the same sense as the core
// relations).
func (s *Store) UpsertSession(ctx context.Context, sessionID, sourceClient, invoker string,
	invokerPID int, invokerType, registeredAt, cwd, date string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions
				(session_id, source_client, invoker, invoker_pid, invoker_type, registered_at, cwd, date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				source_client = excluded.source_client,
				invoker = excluded.invoker,
				invoker_pid = excluded.invoker_pid,
				invoker_type = excluded.invoker_type,
				cwd = excluded.cwd`,
			sessionID, sourceClient, invoker, invokerPID, nullIfEmpty(invokerType), registeredAt, cwd, date)
		return err
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
