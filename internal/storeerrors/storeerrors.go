// Package storeerrors defines the error kinds of §7: sentinel values the
// rest of the store wraps with fmt.Errorf("...: %w", ...) and that callers
// match with errors.Is.
package storeerrors

import "errors"

var (
	// ErrBackendBusy is raised by the embedded table writer when the engine's
	// own locking rejects a write. Retried with exponential backoff before
	// being surfaced.
	ErrBackendBusy = errors.New("backend busy")

	// ErrBlobIoFailed is raised internally by the blob store when a
	// filesystem operation fails above the inline threshold. Callers of
	// blobstore.Put never see this directly: Put falls back to inline
	// storage and logs instead of propagating it.
	ErrBlobIoFailed = errors.New("blob i/o failed")

	// ErrBlobIntegrity is returned by Open/the integrity sweep when a
	// blob's content no longer hashes to its registry entry.
	ErrBlobIntegrity = errors.New("blob integrity check failed")

	// ErrSchemaVersionAhead is returned by the query gateway on connect when
	// the store's recorded schema version is newer than this binary
	// understands. The gateway still opens, read-only.
	ErrSchemaVersionAhead = errors.New("schema version ahead of reader")

	// ErrDuplicateOutcome is raised when an outcome row is inserted for an
	// attempt_id that already has one. In recovery this is expected and
	// silently dropped; in a normal close it is surfaced to the producer.
	ErrDuplicateOutcome = errors.New("duplicate outcome")

	// ErrMissingExtension is logged, not fatal, when an optional capability
	// (a query gateway helper macro) cannot be installed.
	ErrMissingExtension = errors.New("missing optional extension")

	// ErrRemoteUnavailable aborts the current sync run; no progress is
	// kept, so the next run starts again from its own selection.
	ErrRemoteUnavailable = errors.New("remote unavailable")
)
