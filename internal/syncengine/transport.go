// Package syncengine implements the Sync Engine (C7): by-identity
// replication of rows between a local store and a remote store over a
// pluggable transport, in the dependency order §4.6 mandates.
//
// The Transport shape is grounded on the teacher's internal/rpc
// protocol.Request/Response JSON-opcode pattern (operation name + raw
// args, success/error response) rather than on internal/merge/merge.go,
// which is a vendored third-party dependency we deliberately do not
// build on (see DESIGN.md).
package syncengine

import (
	"context"
	"encoding/json"

	"github.com/invocationstore/irs/internal/blobstore"
)

// Relation is one of schema.SyncOrder's table names, as a plain string
// alias.
type Relation = string

// Selection filters what a Pull or Push transfers (§4.6 Incremental
// selection). Zero values mean "no filter" on that dimension.
type Selection struct {
	Since  string // RFC3339Nano timestamp lower bound, exclusive
	Client string // source_client filter
	Tag    string // tag filter (attempts only; ignored by other relations)
}

// RowSet is one relation's rows for one transfer, still JSON-encoded so
// Transport implementations never need to know the concrete Go type.
type RowSet struct {
	Relation Relation          `json:"relation"`
	Rows     []json.RawMessage `json:"rows"`
}

// Transport is the pluggable link to a remote store. A local-filesystem
// implementation (for peer stores sharing a disk) and an HTTP
// implementation are the two shapes the retrieval pack shows; either
// satisfies this interface identically from the engine's point of view.
type Transport interface {
	// FetchRows returns the remote's rows for relation matching sel.
	FetchRows(ctx context.Context, relation Relation, sel Selection) (RowSet, error)
	// PushRows sends local rows for relation to the remote. The remote
	// must treat each row's identity as authoritative: an id it already
	// has is a no-op, not an update (append-only, §1 Non-goals).
	PushRows(ctx context.Context, rs RowSet) error
	// HasBlob reports whether the remote's blob registry already has
	// contentHash, used to skip redundant blob transfers (§4.6 Blob sync).
	HasBlob(ctx context.Context, contentHash string) (bool, error)
	// PushBlob uploads blob bytes to the remote under contentHash.
	PushBlob(ctx context.Context, contentHash string, data []byte) error
	// FetchBlob downloads blob bytes for contentHash from the remote.
	FetchBlob(ctx context.Context, contentHash string) ([]byte, error)
}

// LocalStore is the capability the sync engine needs from the local
// store: read rows matching a selection (for push) and write rows
// received from the remote (for pull), per relation, plus blob access.
// ShardLocalStore implements it for the multi-writer backend; the
// single-writer backend has no implementation.
type LocalStore interface {
	ExistingIDs(ctx context.Context, relation Relation) (map[string]struct{}, error)
	RowsSince(ctx context.Context, relation Relation, sel Selection) ([]json.RawMessage, error)
	ApplyRows(ctx context.Context, relation Relation, rows []json.RawMessage) (applied int, err error)
	HasBlob(ctx context.Context, contentHash string) (bool, error)
	BlobBytes(ctx context.Context, contentHash string) ([]byte, error)
	PutBlobBytes(ctx context.Context, data []byte, hint string) (blobstore.PutResult, error)
}
