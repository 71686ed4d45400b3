// Package lifecycle implements the Lifecycle Manager (C5): compaction
// of small shards, archival tiering, and blob garbage collection.
//
// The struct/constructor/Config/DryRun/Result shape here is grounded on
// the teacher's internal/compact.Compactor; the payload is different
// (shard-file merge instead of LLM-driven issue-text summarization,
// which has no analog in this store — see DESIGN.md), but the shape —
// a config struct with a DryRun flag, a per-item Result with an Err
// field, a New constructor — is carried over deliberately.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invocationstore/irs/internal/idgen"
	"github.com/invocationstore/irs/internal/lockfile"
	"github.com/invocationstore/irs/internal/logging"
	"github.com/invocationstore/irs/internal/shardwriter"
)

// CompactConfig controls one compaction run.
type CompactConfig struct {
	Threshold int  // shard count above which a session/partition compacts (default 50)
	DryRun    bool
}

func DefaultCompactConfig() CompactConfig {
	return CompactConfig{Threshold: 50}
}

// Compactor merges small shards of one table's partitions into fewer,
// larger shards (§4.4).
type Compactor struct {
	storeRoot string
	writer    *shardwriter.Writer
	config    CompactConfig
}

func NewCompactor(storeRoot string, writer *shardwriter.Writer, config CompactConfig) *Compactor {
	if config.Threshold <= 0 {
		config.Threshold = 50
	}
	return &Compactor{storeRoot: storeRoot, writer: writer, config: config}
}

// CompactResult reports the outcome of compacting one table/date
// partition.
type CompactResult struct {
	Table         string
	Date          string
	Session       string
	OriginalCount int
	Err           error
}

// CompactPartition compacts one (table, date) partition: for every
// session whose shard count in that partition exceeds the threshold, it
// merges that session's eligible shards into a single generation-
// numbered compacted shard (§4.4).
func (c *Compactor) CompactPartition(ctx context.Context, table, date string) ([]*CompactResult, error) {
	lockPath := filepath.Join(c.writer.PartitionDir(table, date), ".compact.lock")
	unlock, err := lockfile.AcquireExclusiveNonBlocking(lockPath)
	if err != nil {
		// Another process is compacting this partition; skip, per §4.4
		// step 1's "if not acquired within a short budget, skip".
		return nil, nil
	}
	defer unlock()

	shards, err := c.writer.ListShards(table, date)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list shards %s/%s: %w", table, date, err)
	}

	bySession := make(map[string][]string)
	generationBySession := make(map[string]int)
	for _, path := range shards {
		session, gen, isCompacted := shardwriter.SessionAndGenerationOf(path)
		if isCompacted {
			if gen >= generationBySession[session] {
				generationBySession[session] = gen + 1
			}
			continue // already-compacted files are excluded from re-merge, §4.4 step 2
		}
		bySession[session] = append(bySession[session], path)
	}

	var results []*CompactResult
	for session, paths := range bySession {
		if len(paths) <= c.config.Threshold {
			continue
		}
		result := &CompactResult{Table: table, Date: date, Session: session, OriginalCount: len(paths)}
		results = append(results, result)

		if c.config.DryRun {
			continue
		}

		if err := c.compactSession(table, date, session, generationBySession[session], paths); err != nil {
			result.Err = err
			logging.AppendError(c.storeRoot, "lifecycle", fmt.Sprintf("compact %s/%s session %s: %v", table, date, session, err))
		}
	}
	return results, nil
}

func (c *Compactor) compactSession(table, date, session string, generation int, paths []string) error {
	rows := make([]interface{}, 0, len(paths))
	for _, p := range paths {
		var row map[string]interface{}
		if err := shardwriter.ReadRow(p, &row); err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		rows = append(rows, row)
	}

	dir := c.writer.PartitionDir(table, date)
	name := shardwriter.CompactedShardName(session, generation, idgen.NewAttemptID())
	tmpPath := filepath.Join(dir, ".tmp.compact."+name)
	finalPath := filepath.Join(dir, name)

	if err := writeCompactedShard(tmpPath, finalPath, rows); err != nil {
		return err
	}

	// Delete source shards only after the compacted shard is durably in
	// place (§4.4 step 5): readers mid-query keep seeing either the old
	// set or the new set, never neither.
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove source shard %s: %w", p, err)
		}
	}
	return nil
}
