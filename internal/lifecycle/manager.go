package lifecycle

import (
	"context"
	"time"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/shardwriter"
)

// Manager ties compaction, archival, and blob reclamation together under
// one entry point driven by a store's config.Config (§4.4).
type Manager struct {
	storeRoot string
	writer    *shardwriter.Writer
	blobs     *blobstore.Store
	cfg       config.Config
}

func NewManager(storeRoot string, writer *shardwriter.Writer, blobs *blobstore.Store, cfg config.Config) *Manager {
	return &Manager{storeRoot: storeRoot, writer: writer, blobs: blobs, cfg: cfg}
}

// RunResult summarizes one full lifecycle pass.
type RunResult struct {
	Compacted []*CompactResult
	Archived  []*ArchiveResult
	Reclaimed blobstore.ReclaimResult
}

// Run compacts every recent-tier partition with an oversized shard count,
// archives partitions older than hot_days, and reclaims unreferenced
// blobs past their grace period — in that order, since compaction and
// archival can only increase the candidate set reclamation sees.
func (m *Manager) Run(ctx context.Context, now time.Time) (RunResult, error) {
	var result RunResult

	compactor := NewCompactor(m.storeRoot, m.writer, CompactConfig{Threshold: m.cfg.CompactionShardThreshold})
	for _, table := range schema.SyncOrder {
		dates, err := m.writer.ListPartitionDates(table)
		if err != nil {
			return result, err
		}
		for _, date := range dates {
			rs, err := compactor.CompactPartition(ctx, table, date)
			if err != nil {
				return result, err
			}
			result.Compacted = append(result.Compacted, rs...)
		}
	}

	archiver := NewArchiver(m.storeRoot, ArchiveConfig{HotDays: m.cfg.HotDays})
	for _, table := range schema.SyncOrder {
		rs, err := archiver.ArchiveTable(table, now)
		if err != nil {
			return result, err
		}
		result.Archived = append(result.Archived, rs...)
	}

	gracePeriod := time.Duration(m.cfg.GracePeriodDays) * 24 * time.Hour
	reclaimed, err := m.blobs.Reclaim(ctx, m.storeRoot, gracePeriod)
	if err != nil {
		return result, err
	}
	result.Reclaimed = reclaimed

	return result, nil
}
