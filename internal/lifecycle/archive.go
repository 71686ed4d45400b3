package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveConfig controls the archival pass.
type ArchiveConfig struct {
	HotDays int // partitions older than this migrate to the archive tier (default 14)
	DryRun  bool
}

func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{HotDays: 14}
}

// Archiver moves cold date partitions from the recent tier to the
// year/week-partitioned archive tier (§4.4's Archival).
type Archiver struct {
	storeRoot   string
	recentRoot  string // data/recent
	archiveRoot string // data/archive
	config      ArchiveConfig
}

func NewArchiver(storeRoot string, config ArchiveConfig) *Archiver {
	if config.HotDays <= 0 {
		config.HotDays = 14
	}
	return &Archiver{
		storeRoot:   storeRoot,
		recentRoot:  filepath.Join(storeRoot, "data", "recent"),
		archiveRoot: filepath.Join(storeRoot, "data", "archive"),
		config:      config,
	}
}

// ArchiveResult reports one table/date partition's migration.
type ArchiveResult struct {
	Table        string
	Date         string
	ShardsMoved  int
	ArchivePath  string
	Err          error
}

// ArchiveTable migrates every date=YYYY-MM-DD partition of table older
// than HotDays into the archive tier's year=YYYY/week=WW layout.
func (a *Archiver) ArchiveTable(table string, now time.Time) ([]*ArchiveResult, error) {
	tableDir := filepath.Join(a.recentRoot, table)
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lifecycle: list %s: %w", tableDir, err)
	}

	cutoff := now.AddDate(0, 0, -a.config.HotDays)
	var results []*ArchiveResult
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		date, ok := parseDatePartition(e.Name())
		if !ok {
			continue
		}
		if !date.Before(cutoff) {
			continue
		}

		result := &ArchiveResult{Table: table, Date: e.Name()}
		results = append(results, result)

		year, week := date.ISOWeek()
		archiveDir := filepath.Join(a.archiveRoot, table, fmt.Sprintf("year=%04d", year), fmt.Sprintf("week=%02d", week))
		result.ArchivePath = archiveDir

		if a.config.DryRun {
			continue
		}

		if err := a.movePartition(filepath.Join(tableDir, e.Name()), archiveDir, result); err != nil {
			result.Err = err
		}
	}
	return results, nil
}

func (a *Archiver) movePartition(srcDir, destDir string, result *ArchiveResult) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", destDir, err)
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", srcDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		dest := filepath.Join(destDir, e.Name())
		if err := os.Rename(src, dest); err != nil {
			return fmt.Errorf("move %s: %w", src, err)
		}
		result.ShardsMoved++
	}
	return os.Remove(srcDir) // now-empty date partition directory
}

func parseDatePartition(name string) (time.Time, bool) {
	const prefix = "date="
	if len(name) != len(prefix)+10 || name[:len(prefix)] != prefix {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", name[len(prefix):])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
