package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/invocationstore/irs/internal/sqliteconn"
	"github.com/invocationstore/irs/internal/types"
)

// Registry is the blob_registry relation (§3, §6.5). It lives in its own
// sqlite file independent of the chosen row-storage backend (C2 vs C3),
// since both backends' outputs reference the same blob space.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if absent) the registry database at
// blobRoot/registry.db.
func OpenRegistry(blobRoot string) (*Registry, error) {
	if err := os.MkdirAll(blobRoot, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create blob root: %w", err)
	}
	dbPath := filepath.Join(blobRoot, "registry.db")
	db, err := sql.Open("sqlite3", sqliteconn.ConnString(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("blobstore: open registry: %w", err)
	}
	db.SetMaxOpenConns(1) // registry writes are single-writer regardless of row backend choice

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: init registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS blob_registry (
	content_hash  TEXT PRIMARY KEY,
	byte_length   INTEGER NOT NULL,
	compression   TEXT NOT NULL DEFAULT 'none',
	ref_count     INTEGER NOT NULL DEFAULT 0,
	first_seen    TEXT NOT NULL,
	last_accessed TEXT NOT NULL,
	storage_tier  TEXT NOT NULL DEFAULT 'recent',
	storage_path  TEXT NOT NULL,
	verified_at   TEXT,
	corrupt       INTEGER NOT NULL DEFAULT 0
);
`

func (r *Registry) Close() error { return r.db.Close() }

// Lookup returns the registry entry for hash, or ok=false if absent.
func (r *Registry) Lookup(ctx context.Context, hash string) (types.BlobRegistryEntry, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT content_hash, byte_length, compression, ref_count, first_seen,
		       last_accessed, storage_tier, storage_path, verified_at, corrupt
		FROM blob_registry WHERE content_hash = ?`, hash)
	var e types.BlobRegistryEntry
	var firstSeen, lastAccessed string
	var verifiedAt sql.NullString
	var corrupt int
	err := row.Scan(&e.ContentHash, &e.ByteLength, &e.Compression, &e.RefCount,
		&firstSeen, &lastAccessed, &e.StorageTier, &e.StoragePath, &verifiedAt, &corrupt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.BlobRegistryEntry{}, false, nil
	}
	if err != nil {
		return types.BlobRegistryEntry{}, false, fmt.Errorf("blobstore: lookup %s: %w", hash, err)
	}
	e.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	e.LastAccessed, _ = time.Parse(time.RFC3339Nano, lastAccessed)
	if verifiedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, verifiedAt.String)
		e.VerifiedAt = &t
	}
	e.Corrupt = corrupt != 0
	return e, true, nil
}

// IncrementRefCount bumps ref_count by one and refreshes last_accessed for
// an existing dedup hit.
func (r *Registry) IncrementRefCount(ctx context.Context, hash string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE blob_registry SET ref_count = ref_count + 1, last_accessed = ?
		WHERE content_hash = ?`, now.UTC().Format(time.RFC3339Nano), hash)
	if err != nil {
		return fmt.Errorf("blobstore: increment ref_count %s: %w", hash, err)
	}
	return nil
}

// Insert creates a new registry row with ref_count = 1. If a row already
// exists (a peer won the race between Lookup and Insert), it falls through
// to an increment instead, matching the blob write protocol's step 5.
func (r *Registry) Insert(ctx context.Context, e types.BlobRegistryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blob_registry
			(content_hash, byte_length, compression, ref_count, first_seen,
			 last_accessed, storage_tier, storage_path, verified_at, corrupt)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, NULL, 0)
		ON CONFLICT(content_hash) DO UPDATE SET
			ref_count = ref_count + 1,
			last_accessed = excluded.last_accessed`,
		e.ContentHash, e.ByteLength, string(e.Compression),
		e.FirstSeen.UTC().Format(time.RFC3339Nano),
		e.LastAccessed.UTC().Format(time.RFC3339Nano),
		string(e.StorageTier), e.StoragePath)
	if err != nil {
		return fmt.Errorf("blobstore: insert registry row %s: %w", e.ContentHash, err)
	}
	return nil
}

// DecrementRefCount drops ref_count by one, floored at zero, when an
// output row referencing hash is deleted.
func (r *Registry) DecrementRefCount(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE blob_registry SET ref_count = MAX(ref_count - 1, 0)
		WHERE content_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("blobstore: decrement ref_count %s: %w", hash, err)
	}
	return nil
}

// MarkCorrupt flags a registry row after an integrity sweep mismatch.
func (r *Registry) MarkCorrupt(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE blob_registry SET corrupt = 1, verified_at = ?
		WHERE content_hash = ?`, at.UTC().Format(time.RFC3339Nano), hash)
	return err
}

// MarkVerified records a clean integrity sweep pass for hash.
func (r *Registry) MarkVerified(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE blob_registry SET verified_at = ?
		WHERE content_hash = ?`, at.UTC().Format(time.RFC3339Nano), hash)
	return err
}

// Delete removes a registry row, used by reclamation once the backing
// file has been deleted.
func (r *Registry) Delete(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blob_registry WHERE content_hash = ?`, hash)
	return err
}

// ReclaimCandidates returns registry rows with ref_count = 0 and
// last_accessed older than cutoff, ordered by hash for deterministic
// sweep order.
func (r *Registry) ReclaimCandidates(ctx context.Context, cutoff time.Time) ([]types.BlobRegistryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT content_hash, byte_length, compression, ref_count, first_seen,
		       last_accessed, storage_tier, storage_path, verified_at, corrupt
		FROM blob_registry
		WHERE ref_count = 0 AND last_accessed < ?
		ORDER BY content_hash`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("blobstore: scan reclaim candidates: %w", err)
	}
	defer rows.Close()

	var out []types.BlobRegistryEntry
	for rows.Next() {
		var e types.BlobRegistryEntry
		var firstSeen, lastAccessed string
		var verifiedAt sql.NullString
		var corrupt int
		if err := rows.Scan(&e.ContentHash, &e.ByteLength, &e.Compression, &e.RefCount,
			&firstSeen, &lastAccessed, &e.StorageTier, &e.StoragePath, &verifiedAt, &corrupt); err != nil {
			return nil, fmt.Errorf("blobstore: scan reclaim row: %w", err)
		}
		e.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
		e.LastAccessed, _ = time.Parse(time.RFC3339Nano, lastAccessed)
		e.Corrupt = corrupt != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// CorruptHashes returns the content_hash of every registry row flagged
// corrupt by a prior integrity sweep (§4.1, §7 BlobIntegrity).
func (r *Registry) CorruptHashes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT content_hash FROM blob_registry WHERE corrupt = 1 ORDER BY content_hash`)
	if err != nil {
		return nil, fmt.Errorf("blobstore: scan corrupt rows: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("blobstore: scan corrupt hash: %w", err)
		}
		out = append(out, hash)
	}
	return out, rows.Err()
}

// Has reports whether hash has a registry row at all, regardless of
// ref_count, for dangling-reference checks.
func (r *Registry) Has(ctx context.Context, hash string) (bool, error) {
	_, ok, err := r.Lookup(ctx, hash)
	return ok, err
}

// StillUnreferenced re-checks ref_count and last_accessed immediately
// before a reclaim delete, per §4.1's cooperative-lock discipline: a
// concurrent dedup hit that landed after the candidate scan must abort
// this hash's deletion.
func (r *Registry) StillUnreferenced(ctx context.Context, hash string, scannedAt time.Time) (bool, error) {
	e, ok, err := r.Lookup(ctx, hash)
	if err != nil || !ok {
		return false, err
	}
	if e.RefCount != 0 {
		return false, nil
	}
	return !e.LastAccessed.After(scannedAt), nil
}
