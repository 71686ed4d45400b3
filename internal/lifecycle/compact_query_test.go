package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/querygateway"
	"github.com/invocationstore/irs/internal/shardwriter"
	"github.com/invocationstore/irs/internal/types"
)

// TestCompactedPartitionStillQueryable guards the §4.4/§8 round-trip
// law "compacting then querying returns the same result set": a
// compacted shard has to decode into exactly the rows it replaced, not
// the single JSON value its old array-shaped encoding produced.
func TestCompactedPartitionStillQueryable(t *testing.T) {
	storeRoot := t.TempDir()
	writer := shardwriter.New(storeRoot + "/data/recent")

	const date = "2026-07-31"
	const n = 5
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		a := types.Attempt{
			ID:           idForIndex(i),
			Timestamp:    now,
			Cmd:          "echo hi",
			Cwd:          "/tmp",
			Executable:   "echo",
			SessionID:    "sess1",
			SourceClient: "shell",
			MachineID:    "m1",
			Hostname:     "host1",
			RunnerID:     "pid:1",
			Date:         date,
		}
		if _, err := writer.WriteRow("attempts", date, "sess1", "echo", idForIndex(i), a); err != nil {
			t.Fatalf("WriteRow: %v", err)
		}
	}

	compactor := NewCompactor(storeRoot, writer, CompactConfig{Threshold: 3})
	results, err := compactor.CompactPartition(context.Background(), "attempts", date)
	if err != nil {
		t.Fatalf("CompactPartition: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected compaction results: %+v", results)
	}

	blobs, err := blobstore.Open(storeRoot)
	if err != nil {
		t.Fatalf("blobstore.Open: %v", err)
	}
	defer blobs.Close()

	ctx := context.Background()
	gw, err := querygateway.Open(ctx, storeRoot, config.Default(), blobs)
	if err != nil {
		t.Fatalf("querygateway.Open: %v", err)
	}
	defer gw.Close()

	var count int
	if err := gw.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM attempts").Scan(&count); err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if count != n {
		t.Fatalf("got %d attempts after compaction, want %d (compacted shard must still decode row by row)", count, n)
	}
}
