package lifecycle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// writeCompactedShard serializes rows one JSON object per line (the same
// shape shardwriter.ReadRows expects from any shard, compacted or not),
// using the same temp-write-fsync-rename protocol as every other shard
// write in this store (§4.2, §4.4 step 4).
func writeCompactedShard(tmpPath, finalPath string, rows []interface{}) error {
	var buf bytes.Buffer
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal compacted row: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	payload := buf.Bytes()

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp compacted shard: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp compacted shard: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp compacted shard: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp compacted shard: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename compacted shard into place: %w", err)
	}
	return nil
}
