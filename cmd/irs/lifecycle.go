package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/lifecycle"
	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/shardwriter"
)

var dryRun bool

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Merge oversized shard groups in every recent-tier partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		writer := shardwriter.New(recentRootFor(storeRoot))
		compactor := lifecycle.NewCompactor(storeRoot, writer, lifecycle.CompactConfig{
			Threshold: cfg.CompactionShardThreshold,
			DryRun:    dryRun,
		})

		for _, table := range schema.SyncOrder {
			dates, err := writer.ListPartitionDates(table)
			if err != nil {
				return err
			}
			for _, date := range dates {
				results, err := compactor.CompactPartition(rootCtx, table, date)
				if err != nil {
					return err
				}
				for _, r := range results {
					fmt.Printf("%s/%s session=%s shards=%d err=%v\n", r.Table, r.Date, r.Session, r.OriginalCount, r.Err)
				}
			}
		}
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Migrate partitions older than hot_days to the archive tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		archiver := lifecycle.NewArchiver(storeRoot, lifecycle.ArchiveConfig{HotDays: cfg.HotDays, DryRun: dryRun})
		now := time.Now().UTC()
		for _, table := range schema.SyncOrder {
			results, err := archiver.ArchiveTable(table, now)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s/%s -> %s shards=%d err=%v\n", r.Table, r.Date, r.ArchivePath, r.ShardsMoved, r.Err)
			}
		}
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim unreferenced blobs past their grace period",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		blobs, err := blobstore.Open(storeRoot, blobstore.WithInlineThreshold(cfg.InlineThresholdBytes))
		if err != nil {
			return err
		}
		defer blobs.Close()

		result, err := blobs.Reclaim(rootCtx, storeRoot, time.Duration(cfg.GracePeriodDays)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d deleted=%d skipped=%d\n", result.Scanned, result.Deleted, result.Skipped)
		return nil
	},
}

func recentRootFor(storeRoot string) string {
	return filepath.Join(storeRoot, "data", "recent")
}

func init() {
	compactCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would compact without writing")
	archiveCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would archive without moving")
}
