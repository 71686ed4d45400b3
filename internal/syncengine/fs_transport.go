package syncengine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/invocationstore/irs/internal/idgen"
)

// FSTransport is a Transport between two IRS stores sharing a mounted
// filesystem path (e.g. an NFS-backed peer, or a second disk mounted
// locally for testing). It is the simplest Transport that satisfies the
// interface and is meant to exercise the sync engine end to end without
// a network dependency; an HTTP-based Transport would satisfy the same
// interface identically.
type FSTransport struct {
	remoteRoot string
}

func NewFSTransport(remoteRoot string) *FSTransport {
	return &FSTransport{remoteRoot: remoteRoot}
}

func (t *FSTransport) relationDir(relation Relation) string {
	return filepath.Join(t.remoteRoot, "sync", relation)
}

func (t *FSTransport) FetchRows(ctx context.Context, relation Relation, sel Selection) (RowSet, error) {
	dir := t.relationDir(relation)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return RowSet{Relation: relation}, nil
		}
		return RowSet{}, err
	}

	var rows []json.RawMessage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return RowSet{}, err
		}
		if !matchesSelection(data, sel) {
			continue
		}
		rows = append(rows, json.RawMessage(data))
	}
	return RowSet{Relation: relation, Rows: rows}, nil
}

func (t *FSTransport) PushRows(ctx context.Context, rs RowSet) error {
	dir := t.relationDir(rs.Relation)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, row := range rs.Rows {
		id := rowIdentity(row)
		if id == "" {
			id = idgen.NewAttemptID()
		}
		path := filepath.Join(dir, id+".json")
		if _, err := os.Stat(path); err == nil {
			continue // remote already has this id; append-only, no-op
		}
		if err := writeFile(path, row); err != nil {
			return err
		}
	}
	return nil
}

func (t *FSTransport) blobPath(contentHash string) string {
	return filepath.Join(t.remoteRoot, "blobs", "content", "recent", contentHash[:2], contentHash+".bin")
}

func (t *FSTransport) HasBlob(ctx context.Context, contentHash string) (bool, error) {
	_, err := os.Stat(t.blobPath(contentHash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (t *FSTransport) PushBlob(ctx context.Context, contentHash string, data []byte) error {
	path := t.blobPath(contentHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeFile(path, data)
}

func (t *FSTransport) FetchBlob(ctx context.Context, contentHash string) ([]byte, error) {
	return os.ReadFile(t.blobPath(contentHash))
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// rowIdentity extracts whichever of "id" / "attempt_id" / "session_id"
// a row carries, since different relations key on different fields.
func rowIdentity(row json.RawMessage) string {
	var probe struct {
		ID        string `json:"id"`
		AttemptID string `json:"attempt_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(row, &probe); err != nil {
		return ""
	}
	switch {
	case probe.ID != "":
		return probe.ID
	case probe.AttemptID != "":
		return probe.AttemptID
	case probe.SessionID != "":
		return probe.SessionID
	default:
		return ""
	}
}

// matchesSelection applies sel's since/client/tag filters to one row's
// raw JSON. Selection is pushed down on the FetchRows side per §4.6.
func matchesSelection(row json.RawMessage, sel Selection) bool {
	if sel.Since == "" && sel.Client == "" && sel.Tag == "" {
		return true
	}
	var probe struct {
		Timestamp    string `json:"timestamp"`
		CompletedAt  string `json:"completed_at"`
		RegisteredAt string `json:"registered_at"`
		SourceClient string `json:"source_client"`
		Tag          string `json:"tag"`
	}
	if err := json.Unmarshal(row, &probe); err != nil {
		return true
	}
	if sel.Since != "" {
		ts := probe.Timestamp
		if ts == "" {
			ts = probe.CompletedAt
		}
		if ts == "" {
			ts = probe.RegisteredAt
		}
		if ts != "" && ts <= sel.Since {
			return false
		}
	}
	if sel.Client != "" && probe.SourceClient != "" && probe.SourceClient != sel.Client {
		return false
	}
	if sel.Tag != "" && probe.Tag != "" && probe.Tag != sel.Tag {
		return false
	}
	return true
}
