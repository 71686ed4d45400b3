// Package storage defines the backend-agnostic capability interface C2
// (shard writer) and C3 (embedded table writer) both satisfy, and a
// small factory that selects between them at store-open time (§4.2's
// Choice policy, §9's "dynamic dispatch across backends" note).
//
// Grounded on the teacher's internal/storage/factory package: a
// registry of named constructors, a New/NewFromConfig split, and a
// config-driven backend choice recorded for the lifetime of the handle.
package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/shardwriter"
	"github.com/invocationstore/irs/internal/tablestore"
	"github.com/invocationstore/irs/internal/types"
)

// RowBackend is the capability every row-storage backend exposes:
// insert one row of each logical relation. Selection is made once, at
// store open, and bound for the handle's lifetime (§9).
type RowBackend interface {
	InsertAttempt(ctx context.Context, a types.Attempt) error
	InsertOutcome(ctx context.Context, o types.Outcome) error
	InsertOutput(ctx context.Context, o types.Output) error
	InsertEvent(ctx context.Context, e types.Event) error
	UpsertSession(ctx context.Context, s types.Session) error
	Backend() config.Backend
	Close() error
}

// PendingSource is the read-side capability the Recovery Coordinator
// (C6) needs: the set of attempts with no matching outcome. Both
// backends implement it, by SQL anti-join (C3) or by diffing attempt
// and outcome shards across partitions (C2).
type PendingSource interface {
	PendingAttempts(ctx context.Context) ([]types.Attempt, error)
}

// Open selects and opens the configured backend for storeRoot.
func Open(storeRoot string, cfg config.Config) (RowBackend, error) {
	switch cfg.Backend {
	case config.BackendSingleWriter:
		ts, err := tablestore.Open(storeRoot)
		if err != nil {
			return nil, fmt.Errorf("storage: open single-writer backend: %w", err)
		}
		return &tableBackend{ts: ts}, nil
	case config.BackendMultiWriter, "":
		return &shardBackend{
			recent: shardwriter.New(recentDataRoot(storeRoot)),
		}, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

func recentDataRoot(storeRoot string) string {
	return filepath.Join(storeRoot, "data", "recent")
}
