package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/idgen"
	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/shardwriter"
	"github.com/invocationstore/irs/internal/storeerrors"
	"github.com/invocationstore/irs/internal/types"
)

// shardBackend adapts internal/shardwriter (C2) to the RowBackend
// capability interface. Each row becomes one shard file; there is no
// process-internal serialization because shard filenames are unique per
// row (§4.2).
type shardBackend struct {
	recent *shardwriter.Writer
}

func (b *shardBackend) Backend() config.Backend { return config.BackendMultiWriter }
func (b *shardBackend) Close() error            { return nil }

func (b *shardBackend) InsertAttempt(ctx context.Context, a types.Attempt) error {
	_, err := b.recent.WriteRow(schema.RelationAttempts, a.Date, a.SessionID, a.Executable, newRowID(), a)
	return err
}

func (b *shardBackend) InsertOutcome(ctx context.Context, o types.Outcome) error {
	existing, err := b.scanOutcomeAttemptIDs()
	if err != nil {
		return err
	}
	if _, dup := existing[o.AttemptID]; dup {
		return fmt.Errorf("%w: attempt %s", storeerrors.ErrDuplicateOutcome, o.AttemptID)
	}
	_, err = b.recent.WriteRow(schema.RelationOutcomes, o.Date, sessionHintFor(o.AttemptID), "", newRowID(), o)
	return err
}

func (b *shardBackend) InsertOutput(ctx context.Context, o types.Output) error {
	_, err := b.recent.WriteRow(schema.RelationOutputs, o.Date, sessionHintFor(o.InvocationID), string(o.Stream), newRowID(), o)
	return err
}

func (b *shardBackend) InsertEvent(ctx context.Context, e types.Event) error {
	_, err := b.recent.WriteRow(schema.RelationEvents, e.Date, sessionHintFor(e.InvocationID), e.EventType, newRowID(), e)
	return err
}

func (b *shardBackend) UpsertSession(ctx context.Context, s types.Session) error {
	_, err := b.recent.WriteRow("sessions", s.Date, s.SessionID, s.Invoker, newRowID(), s)
	return err
}

// PendingAttempts implements storage.PendingSource for the shard
// backend: it reads every attempt shard and every outcome shard across
// all date partitions, and returns attempts whose id does not appear
// among the outcome rows' attempt_id values.
func (b *shardBackend) PendingAttempts(ctx context.Context) ([]types.Attempt, error) {
	outcomeIDs, err := b.scanOutcomeAttemptIDs()
	if err != nil {
		return nil, err
	}

	dates, err := b.recent.ListPartitionDates(schema.RelationAttempts)
	if err != nil {
		return nil, err
	}

	var out []types.Attempt
	for _, date := range dates {
		shards, err := b.recent.ListShards(schema.RelationAttempts, date)
		if err != nil {
			return nil, err
		}
		for _, path := range shards {
			rows, err := shardwriter.ReadRows(path)
			if err != nil {
				return nil, err
			}
			for _, raw := range rows {
				var a types.Attempt
				if err := json.Unmarshal(raw, &a); err != nil {
					return nil, err
				}
				if _, done := outcomeIDs[a.ID]; !done {
					out = append(out, a)
				}
			}
		}
	}
	return out, nil
}

func (b *shardBackend) scanOutcomeAttemptIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	dates, err := b.recent.ListPartitionDates(schema.RelationOutcomes)
	if err != nil {
		return nil, err
	}
	for _, date := range dates {
		shards, err := b.recent.ListShards(schema.RelationOutcomes, date)
		if err != nil {
			return nil, err
		}
		for _, path := range shards {
			rows, err := shardwriter.ReadRows(path)
			if err != nil {
				return nil, err
			}
			for _, raw := range rows {
				var o types.Outcome
				if err := json.Unmarshal(raw, &o); err != nil {
					return nil, err
				}
				ids[o.AttemptID] = struct{}{}
			}
		}
	}
	return ids, nil
}

func newRowID() string { return idgen.NewAttemptID() }

// sessionHintFor is used where the logical row (outcome, output, event)
// does not itself carry a session_id: the filename's session component
// falls back to the id it soft-references, which is enough to keep
// per-session compaction grouping useful without a join at write time.
func sessionHintFor(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
