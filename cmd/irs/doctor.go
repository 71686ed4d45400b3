package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/shardwriter"
	"github.com/invocationstore/irs/internal/storage"
	"github.com/invocationstore/irs/internal/types"
)

// doctorCmd reports, read-only, the consistency issues spec.md's
// Non-goals explicitly leave unenforced: dangling output->blob
// references, corrupt blobs, aging pending attempts, oversized shard
// groups. It never writes anything (narrowed from the teacher's
// cmd/bd/doctor family, which can also repair).
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Read-only consistency report over the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		backend, err := storage.Open(storeRoot, cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		if ps, ok := backend.(storage.PendingSource); ok {
			attempts, err := ps.PendingAttempts(rootCtx)
			if err != nil {
				fmt.Printf("doctor: could not scan pending attempts: %v\n", err)
			} else {
				now := time.Now().UTC()
				stale := 0
				for _, a := range attempts {
					if now.Sub(a.Timestamp) > time.Duration(cfg.MaxAgeHours)*time.Hour {
						stale++
					}
				}
				fmt.Printf("pending attempts: %d (%d older than max_age_hours=%d)\n", len(attempts), stale, cfg.MaxAgeHours)
			}
		}

		writer := shardwriter.New(recentRootFor(storeRoot))
		for _, table := range schema.SyncOrder {
			dates, err := writer.ListPartitionDates(table)
			if err != nil {
				continue
			}
			for _, date := range dates {
				shards, err := writer.ListShards(table, date)
				if err != nil {
					continue
				}
				if len(shards) > cfg.CompactionShardThreshold {
					fmt.Printf("%s/%s: %d shards exceeds compaction_shard_threshold=%d\n", table, date, len(shards), cfg.CompactionShardThreshold)
				}
			}
		}

		blobs, err := blobstore.Open(storeRoot)
		if err != nil {
			return err
		}
		defer blobs.Close()

		corrupt, err := blobs.CorruptHashes(rootCtx)
		if err != nil {
			fmt.Printf("doctor: could not scan corrupt blobs: %v\n", err)
		} else if len(corrupt) > 0 {
			fmt.Printf("corrupt blobs: %d\n", len(corrupt))
			for _, hash := range corrupt {
				fmt.Printf("  corrupt: %s\n", hash)
			}
		}

		dangling, err := danglingOutputRefs(rootCtx, writer, blobs)
		if err != nil {
			fmt.Printf("doctor: could not scan output->blob references: %v\n", err)
		} else if len(dangling) > 0 {
			fmt.Printf("dangling output->blob references: %d\n", len(dangling))
			for _, hash := range dangling {
				fmt.Printf("  dangling: %s\n", hash)
			}
		}

		fmt.Println("doctor: consistency report complete (read-only; no repairs made)")
		return nil
	},
}

// danglingOutputRefs scans every blob-backed output row in the recent
// tier and reports the content_hash of any whose registry row is
// entirely absent: a reference the blob store can never resolve.
// Reclamation deletes the registry row, so a reference to a reclaimed
// blob is reported here too.
func danglingOutputRefs(ctx context.Context, writer *shardwriter.Writer, blobs *blobstore.Store) ([]string, error) {
	const table = "outputs"
	dates, err := writer.ListPartitionDates(table)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, date := range dates {
		shards, err := writer.ListShards(table, date)
		if err != nil {
			return nil, err
		}
		for _, shard := range shards {
			rows, err := shardwriter.ReadRows(shard)
			if err != nil {
				continue
			}
			for _, raw := range rows {
				var row types.Output
				if err := json.Unmarshal(raw, &row); err != nil {
					continue
				}
				if row.StorageType != types.StorageBlob || row.ContentHash == "" || seen[row.ContentHash] {
					continue
				}
				seen[row.ContentHash] = true
				ok, err := blobs.HasHash(ctx, row.ContentHash)
				if err != nil {
					return nil, err
				}
				if !ok {
					out = append(out, row.ContentHash)
				}
			}
		}
	}
	return out, nil
}
