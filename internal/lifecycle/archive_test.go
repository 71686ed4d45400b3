package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeShard(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveTableMovesColdPartitions(t *testing.T) {
	storeRoot := t.TempDir()
	recentRoot := filepath.Join(storeRoot, "data", "recent", "attempts")

	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	cold := now.AddDate(0, 0, -30)
	hot := now.AddDate(0, 0, -1)

	coldDir := filepath.Join(recentRoot, "date="+cold.Format("2006-01-02"))
	hotDir := filepath.Join(recentRoot, "date="+hot.Format("2006-01-02"))
	writeShard(t, coldDir, "sess--hint--uuid.json")
	writeShard(t, hotDir, "sess--hint--uuid.json")

	archiver := NewArchiver(storeRoot, ArchiveConfig{HotDays: 14})
	results, err := archiver.ArchiveTable("attempts", now)
	if err != nil {
		t.Fatalf("ArchiveTable: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (only the cold partition)", len(results))
	}
	r := results[0]
	if r.Err != nil {
		t.Fatalf("unexpected per-result error: %v", r.Err)
	}
	if r.ShardsMoved != 1 {
		t.Fatalf("got ShardsMoved=%d, want 1", r.ShardsMoved)
	}

	year, week := cold.ISOWeek()
	wantDir := filepath.Join(storeRoot, "data", "archive", "attempts",
		fmt.Sprintf("year=%04d", year), fmt.Sprintf("week=%02d", week))
	if _, err := os.Stat(filepath.Join(wantDir, "sess--hint--uuid.json")); err != nil {
		t.Fatalf("expected shard at %s: %v", wantDir, err)
	}
	if _, err := os.Stat(coldDir); !os.IsNotExist(err) {
		t.Fatalf("expected cold source partition to be removed, got err=%v", err)
	}
	if _, err := os.Stat(hotDir); err != nil {
		t.Fatalf("hot partition should remain untouched: %v", err)
	}
}

func TestArchiveTableDryRunMovesNothing(t *testing.T) {
	storeRoot := t.TempDir()
	recentRoot := filepath.Join(storeRoot, "data", "recent", "events")
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	cold := now.AddDate(0, 0, -30)
	coldDir := filepath.Join(recentRoot, "date="+cold.Format("2006-01-02"))
	writeShard(t, coldDir, "sess--hint--uuid.json")

	archiver := NewArchiver(storeRoot, ArchiveConfig{HotDays: 14, DryRun: true})
	results, err := archiver.ArchiveTable("events", now)
	if err != nil {
		t.Fatalf("ArchiveTable: %v", err)
	}
	if len(results) != 1 || results[0].ShardsMoved != 0 {
		t.Fatalf("dry run should report the candidate without moving anything: %+v", results)
	}
	if _, err := os.Stat(coldDir); err != nil {
		t.Fatalf("dry run must not remove the source partition: %v", err)
	}
}

func TestParseDatePartition(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"date=2026-07-31", true},
		{"date=2026-13-99", false},
		{"notadate", false},
		{"date=2026-07-3", false},
	}
	for _, tt := range tests {
		_, ok := parseDatePartition(tt.name)
		if ok != tt.ok {
			t.Errorf("parseDatePartition(%q): got ok=%v, want %v", tt.name, ok, tt.ok)
		}
	}
}

