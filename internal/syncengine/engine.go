package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invocationstore/irs/internal/logging"
	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/storeerrors"
	"github.com/invocationstore/irs/internal/types"
)

// Engine replicates rows between a LocalStore and a remote Transport.
type Engine struct {
	storeRoot  string
	local      LocalStore
	transport  Transport
	blobSync   bool // §4.6 Blob sync, opt-in
}

func New(storeRoot string, local LocalStore, transport Transport, blobSync bool) *Engine {
	return &Engine{storeRoot: storeRoot, local: local, transport: transport, blobSync: blobSync}
}

// Result summarizes one push or pull run.
type Result struct {
	Relation string
	Applied  int
	Err      error
}

// Pull fetches remote rows matching sel for every relation in
// schema.SyncOrder and applies those the local store does not already
// have. A failure partway through stops further relations but leaves
// already-applied relations intact (§4.6 "partial failure... consistent
// state").
func (e *Engine) Pull(ctx context.Context, sel Selection) ([]Result, error) {
	var results []Result
	for _, relation := range schema.SyncOrder {
		rs, err := e.transport.FetchRows(ctx, relation, sel)
		if err != nil {
			return results, fmt.Errorf("%w: fetch %s: %v", storeerrors.ErrRemoteUnavailable, relation, err)
		}

		applied, err := e.local.ApplyRows(ctx, relation, rs.Rows)
		results = append(results, Result{Relation: relation, Applied: applied, Err: err})
		if err != nil {
			logging.AppendError(e.storeRoot, "syncengine", fmt.Sprintf("pull %s: %v", relation, err))
			return results, err
		}

		if e.blobSync && relation == schema.RelationOutputs {
			if err := e.pullBlobsFor(ctx, rs.Rows); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// Push sends local rows matching sel to the remote for every relation
// in schema.SyncOrder. The transport's PushRows skips ids the remote
// already has; Applied counts every row sent, including skipped ones.
func (e *Engine) Push(ctx context.Context, sel Selection) ([]Result, error) {
	var results []Result
	for _, relation := range schema.SyncOrder {
		rows, err := e.local.RowsSince(ctx, relation, sel)
		if err != nil {
			return results, fmt.Errorf("syncengine: read local %s: %w", relation, err)
		}
		if len(rows) == 0 {
			results = append(results, Result{Relation: relation})
			continue
		}

		rs := RowSet{Relation: relation, Rows: rows}
		if err := e.transport.PushRows(ctx, rs); err != nil {
			return results, fmt.Errorf("%w: push %s: %v", storeerrors.ErrRemoteUnavailable, relation, err)
		}
		results = append(results, Result{Relation: relation, Applied: len(rows)})

		if e.blobSync && relation == schema.RelationOutputs {
			if err := e.pushBlobsFor(ctx, rows); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// pullBlobsFor transfers any blob a pulled batch of output rows
// references that the local store does not already have.
func (e *Engine) pullBlobsFor(ctx context.Context, rows []json.RawMessage) error {
	for _, raw := range rows {
		var o types.Output
		if err := json.Unmarshal(raw, &o); err != nil {
			continue // malformed row; tolerated per soft-reference discipline
		}
		if o.StorageType != types.StorageBlob {
			continue
		}
		has, err := e.local.HasBlob(ctx, o.ContentHash)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		data, err := e.transport.FetchBlob(ctx, o.ContentHash)
		if err != nil {
			return fmt.Errorf("%w: fetch blob %s: %v", storeerrors.ErrRemoteUnavailable, o.ContentHash, err)
		}
		if _, err := e.local.PutBlobBytes(ctx, data, string(o.Stream)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pushBlobsFor(ctx context.Context, rows []json.RawMessage) error {
	for _, raw := range rows {
		var o types.Output
		if err := json.Unmarshal(raw, &o); err != nil {
			continue
		}
		if o.StorageType != types.StorageBlob {
			continue
		}
		has, err := e.transport.HasBlob(ctx, o.ContentHash)
		if err != nil {
			return fmt.Errorf("%w: probe blob %s: %v", storeerrors.ErrRemoteUnavailable, o.ContentHash, err)
		}
		if has {
			continue
		}
		data, err := e.local.BlobBytes(ctx, o.ContentHash)
		if err != nil {
			return err
		}
		if err := e.transport.PushBlob(ctx, o.ContentHash, data); err != nil {
			return fmt.Errorf("%w: push blob %s: %v", storeerrors.ErrRemoteUnavailable, o.ContentHash, err)
		}
	}
	return nil
}

// IsRemoteUnavailable reports whether err is (or wraps) the
// RemoteUnavailable error kind (§7): that run should be aborted and
// retried wholesale next time, never retried row-by-row.
func IsRemoteUnavailable(err error) bool {
	return errors.Is(err, storeerrors.ErrRemoteUnavailable)
}
