package shardwriter

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRowAndReadRowRoundTrip(t *testing.T) {
	w := New(t.TempDir())
	row := map[string]interface{}{"id": "abc123", "exit_code": float64(0)}

	path, err := w.WriteRow("attempts", "2026-07-31", "sess1", "run", "uuid1", row)
	if err != nil {
		t.Fatalf("WriteRow: %v", err)
	}

	var got map[string]interface{}
	if err := ReadRow(path, &got); err != nil {
		t.Fatalf("ReadRow: %v", err)
	}
	if got["id"] != "abc123" {
		t.Fatalf("got id=%v, want abc123", got["id"])
	}
}

func TestWriteRowLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	w := New(root)
	if _, err := w.WriteRow("outputs", "2026-07-31", "sess1", "stdout", "uuid1", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	shards, err := w.ListShards("outputs", "2026-07-31")
	if err != nil {
		t.Fatalf("ListShards: %v", err)
	}
	if len(shards) != 1 {
		t.Fatalf("got %d shards, want 1 (no stray temp files)", len(shards))
	}
}

func TestListShardsSortedAndExcludesTemp(t *testing.T) {
	w := New(t.TempDir())
	for _, uuid := range []string{"c", "a", "b"} {
		if _, err := w.WriteRow("events", "2026-07-31", "sess1", "hint", uuid, map[string]string{}); err != nil {
			t.Fatalf("WriteRow: %v", err)
		}
	}
	shards, err := w.ListShards("events", "2026-07-31")
	if err != nil {
		t.Fatalf("ListShards: %v", err)
	}
	if len(shards) != 3 {
		t.Fatalf("got %d shards, want 3", len(shards))
	}
	for i := 1; i < len(shards); i++ {
		if shards[i-1] > shards[i] {
			t.Fatalf("shards not sorted: %v", shards)
		}
	}
}

func TestReadRowsDecodesOrdinaryShardAsOneRow(t *testing.T) {
	w := New(t.TempDir())
	path, err := w.WriteRow("attempts", "2026-07-31", "sess1", "run", "uuid1", map[string]interface{}{"id": "x"})
	if err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	rows, err := ReadRows(path)
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
}

func TestReadRowsDecodesJSONLinesShard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compacted.shard")
	content := `{"id":"a"}` + "\n" + `{"id":"b"}` + "\n" + `{"id":"c"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test shard: %v", err)
	}
	rows, err := ReadRows(path)
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (one per line)", len(rows))
	}
}

func TestListShardsRecursiveWalksNestedPartitions(t *testing.T) {
	w := New(t.TempDir())
	if _, err := w.WriteRow("attempts", "2026-07-31", "sess1", "hint", "uuid1", map[string]string{}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	shards, err := w.ListShardsRecursive("attempts")
	if err != nil {
		t.Fatalf("ListShardsRecursive: %v", err)
	}
	if len(shards) != 1 {
		t.Fatalf("got %d shards, want 1", len(shards))
	}
}

func TestListPartitionDatesMissingTableReturnsNil(t *testing.T) {
	w := New(t.TempDir())
	dates, err := w.ListPartitionDates("nonexistent")
	if err != nil {
		t.Fatalf("ListPartitionDates: %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("got %v, want empty", dates)
	}
}

func TestSessionAndGenerationOf(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		wantSess   string
		wantGen    int
		wantIsComp bool
	}{
		{"plain", "sess1--hint--uuid1.shard", "sess1", 0, false},
		{"no hint", "sess1--uuid1.shard", "sess1", 0, false},
		{"compacted", "sess1--__compacted-3__--uuid1.shard", "sess1", 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, gen, ok := SessionAndGenerationOf(tt.filename)
			if sess != tt.wantSess || gen != tt.wantGen || ok != tt.wantIsComp {
				t.Fatalf("got (%q, %d, %v), want (%q, %d, %v)", sess, gen, ok, tt.wantSess, tt.wantGen, tt.wantIsComp)
			}
		})
	}
}

func TestCompactedShardNameRoundTripsThroughSessionAndGenerationOf(t *testing.T) {
	name := CompactedShardName("my session!", 5, "uuid1")
	sess, gen, ok := SessionAndGenerationOf(filepath.Base(name))
	if !ok {
		t.Fatalf("expected compacted shard to be recognized")
	}
	if sess != "my_session_" {
		t.Fatalf("got sanitized session %q, want my_session_", sess)
	}
	if gen != 5 {
		t.Fatalf("got generation %d, want 5", gen)
	}
}
