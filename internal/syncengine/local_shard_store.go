package syncengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/idgen"
	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/shardwriter"
)

// ShardLocalStore adapts the multi-writer (shard) backend to LocalStore.
// Sync against the single-writer (embedded DB) backend is not wired in
// this pass: its rows live behind SQL, not files, and a row-identity
// scan there needs its own query plan per relation — left for a future
// pass (see DESIGN.md).
type ShardLocalStore struct {
	writer *shardwriter.Writer
	blobs  *blobstore.Store
}

func NewShardLocalStore(writer *shardwriter.Writer, blobs *blobstore.Store) *ShardLocalStore {
	return &ShardLocalStore{writer: writer, blobs: blobs}
}

func (s *ShardLocalStore) ExistingIDs(ctx context.Context, relation Relation) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	dates, err := s.writer.ListPartitionDates(relation)
	if err != nil {
		return nil, err
	}
	for _, date := range dates {
		paths, err := s.writer.ListShards(relation, date)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			shardRows, err := shardwriter.ReadRows(p)
			if err != nil {
				return nil, err
			}
			for _, raw := range shardRows {
				var row map[string]interface{}
				if err := json.Unmarshal(raw, &row); err != nil {
					return nil, err
				}
				if id := identityOf(row); id != "" {
					ids[id] = struct{}{}
				}
			}
		}
	}
	return ids, nil
}

func (s *ShardLocalStore) RowsSince(ctx context.Context, relation Relation, sel Selection) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	dates, err := s.writer.ListPartitionDates(relation)
	if err != nil {
		return nil, err
	}
	for _, date := range dates {
		paths, err := s.writer.ListShards(relation, date)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			shardRows, err := shardwriter.ReadRows(p)
			if err != nil {
				return nil, err
			}
			for _, raw := range shardRows {
				if matchesSelection(raw, sel) {
					rows = append(rows, raw)
				}
			}
		}
	}
	return rows, nil
}

// ApplyRows writes each row to a shard, skipping ids already present in
// the relation's partitions so a repeated pull is a no-op on rows it has
// already applied (§8's pull-then-push idempotence law).
func (s *ShardLocalStore) ApplyRows(ctx context.Context, relation Relation, rows []json.RawMessage) (int, error) {
	existing, err := s.ExistingIDs(ctx, relation)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, raw := range rows {
		var row map[string]interface{}
		if err := json.Unmarshal(raw, &row); err != nil {
			return applied, fmt.Errorf("syncengine: decode %s row: %w", relation, err)
		}
		id := identityOf(row)
		if id == "" {
			continue
		}
		if _, ok := existing[id]; ok {
			continue
		}
		date, _ := row["date"].(string)
		session := sessionOf(row)
		hint := hintOf(relation, row)
		if _, err := s.writer.WriteRow(relation, date, session, hint, idgen.NewAttemptID(), row); err != nil {
			return applied, err
		}
		existing[id] = struct{}{}
		applied++
	}
	return applied, nil
}

func (s *ShardLocalStore) HasBlob(ctx context.Context, contentHash string) (bool, error) {
	_, err := s.blobs.Open(ctx, "file:"+contentHash[:2]+"/"+contentHash+".bin")
	return err == nil, nil
}

func (s *ShardLocalStore) BlobBytes(ctx context.Context, contentHash string) ([]byte, error) {
	return s.blobs.Open(ctx, "file:"+contentHash[:2]+"/"+contentHash+".bin")
}

func (s *ShardLocalStore) PutBlobBytes(ctx context.Context, data []byte, hint string) (blobstore.PutResult, error) {
	return s.blobs.Put(ctx, data, hint)
}

func identityOf(row map[string]interface{}) string {
	for _, key := range []string{"id", "attempt_id", "session_id"} {
		if v, ok := row[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func sessionOf(row map[string]interface{}) string {
	if v, ok := row["session_id"].(string); ok {
		return v
	}
	return identityOf(row)
}

func hintOf(relation Relation, row map[string]interface{}) string {
	switch relation {
	case schema.RelationAttempts:
		if v, ok := row["executable"].(string); ok {
			return v
		}
	case schema.RelationOutputs:
		if v, ok := row["stream"].(string); ok {
			return v
		}
	case schema.RelationEvents:
		if v, ok := row["event_type"].(string); ok {
			return v
		}
	}
	return ""
}
