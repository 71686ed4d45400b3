// Package blobstore implements the content-addressed blob store (C1):
// deduplicated, atomically-written immutable byte blobs keyed by BLAKE3
// hash, with reference counting and mark-and-sweep reclamation.
//
// Grounded on the atomic-rename/content-hash pattern shown in the
// BLAKE3Store of the retrieval pack's helios CAS, adapted from an
// in-process LRU cache into a durable two-tier (recent/archive) registry
// backed store, and on internal/lockfile for the reclamation advisory
// lock.
package blobstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/invocationstore/irs/internal/idgen"
	"github.com/invocationstore/irs/internal/lockfile"
	"github.com/invocationstore/irs/internal/logging"
	"github.com/invocationstore/irs/internal/storeerrors"
	"github.com/invocationstore/irs/internal/types"
)

// Store is a handle onto one store's blob space: the recent tier root,
// the archive tier root, any attached remote roots (read-only, for
// resolution), and the registry database shared across both tiers.
type Store struct {
	storeRoot     string // for errors.log
	recentRoot    string // blobs/content under $STORE_ROOT, tier=recent
	archiveRoot   string // tier=archive
	extraRoots    []string
	registry      *Registry
	inlineThresh  int64
	codec         types.CompressionCodec
	codecMinBytes int64
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithInlineThreshold overrides the default 4 KiB inline threshold.
func WithInlineThreshold(n int64) Option {
	return func(s *Store) { s.inlineThresh = n }
}

// WithCompression sets the codec applied to blobs at or above minBytes.
// Per §9's open question, compression is not mandated; none is the
// zero-value default until a caller opts in.
func WithCompression(codec types.CompressionCodec, minBytes int64) Option {
	return func(s *Store) {
		s.codec = codec
		s.codecMinBytes = minBytes
	}
}

// WithBlobRoots adds additional read-only roots searched by Open, in
// order, after the local recent and archive tiers (§4.1, §6.2).
func WithBlobRoots(roots ...string) Option {
	return func(s *Store) { s.extraRoots = append(s.extraRoots, roots...) }
}

// Open opens or creates the blob store rooted at storeRoot/blobs.
func Open(storeRoot string, opts ...Option) (*Store, error) {
	blobRoot := filepath.Join(storeRoot, "blobs")
	contentRoot := filepath.Join(blobRoot, "content")
	recentRoot := filepath.Join(contentRoot, "recent")
	archiveRoot := filepath.Join(contentRoot, "archive")
	if err := os.MkdirAll(recentRoot, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create recent tier: %w", err)
	}
	if err := os.MkdirAll(archiveRoot, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create archive tier: %w", err)
	}

	reg, err := OpenRegistry(blobRoot)
	if err != nil {
		return nil, err
	}

	s := &Store{
		storeRoot:    storeRoot,
		recentRoot:   recentRoot,
		archiveRoot:  archiveRoot,
		registry:     reg,
		inlineThresh: 4096,
		codec:        types.CompressionNone,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.registry.Close() }

// PutResult is the return value of Put.
type PutResult struct {
	Hash        string
	StorageType types.StorageType
	StorageRef  string
	DedupHit    bool
}

// Put stores bytes, returning their content address. Bytes under the
// inline threshold are returned as a data: URI without touching the
// filesystem or registry at all (§4.1).
func (s *Store) Put(ctx context.Context, data []byte, hint string) (PutResult, error) {
	if int64(len(data)) < s.inlineThresh {
		return PutResult{
			StorageType: types.StorageInline,
			StorageRef:  inlineURI(data),
		}, nil
	}

	hash := idgen.ContentHash(data)
	res, err := s.putBlob(ctx, hash, data, hint)
	if err != nil {
		// Failure above the threshold falls back to inline rather than
		// blocking the caller (§4.1 Failure semantics, §7 BlobIoFailed).
		logging.AppendError(s.storeRoot, "blobstore", fmt.Sprintf("put %s fell back to inline: %v", hash, err))
		return PutResult{
			StorageType: types.StorageInline,
			StorageRef:  inlineURI(data),
		}, nil
	}
	return res, nil
}

func (s *Store) putBlob(ctx context.Context, hash string, data []byte, hint string) (PutResult, error) {
	now := time.Now().UTC()

	if entry, ok, err := s.registry.Lookup(ctx, hash); err != nil {
		return PutResult{}, err
	} else if ok {
		if err := s.registry.IncrementRefCount(ctx, hash, now); err != nil {
			return PutResult{}, err
		}
		return PutResult{
			Hash:        hash,
			StorageType: types.StorageBlob,
			StorageRef:  refURIFromPath(entry.StoragePath),
			DedupHit:    true,
		}, nil
	}

	subdir := idgen.ShardSubdir(hash)
	dir := filepath.Join(s.recentRoot, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PutResult{}, fmt.Errorf("%w: mkdir %s: %v", storeerrors.ErrBlobIoFailed, dir, err)
	}

	payload, ext, err := s.encode(data)
	if err != nil {
		return PutResult{}, fmt.Errorf("%w: encode: %v", storeerrors.ErrBlobIoFailed, err)
	}

	name := hash
	if hint != "" {
		name += "--" + sanitizeHint(hint)
	}
	finalPath := filepath.Join(dir, name+".bin"+ext)

	if err := writeTempThenRename(dir, finalPath, payload); err != nil {
		return PutResult{}, fmt.Errorf("%w: %v", storeerrors.ErrBlobIoFailed, err)
	}

	rel := filepath.Join("recent", subdir, filepath.Base(finalPath))
	entry := types.BlobRegistryEntry{
		ContentHash:  hash,
		ByteLength:   int64(len(data)),
		Compression:  s.codec,
		RefCount:     1,
		FirstSeen:    now,
		LastAccessed: now,
		StorageTier:  types.TierRecent,
		StoragePath:  rel,
	}
	if err := s.registry.Insert(ctx, entry); err != nil {
		return PutResult{}, err
	}

	return PutResult{
		Hash:        hash,
		StorageType: types.StorageBlob,
		StorageRef:  refURIFromPath(rel),
		DedupHit:    false,
	}, nil
}

// writeTempThenRename implements the blob write protocol's steps 3-4: a
// collision-unique temp file in the destination directory, then an
// atomic rename. A destination that already exists at rename time means
// a peer completed the same write concurrently; that is success, not an
// error (§4.1).
func writeTempThenRename(dir, finalPath string, payload []byte) error {
	var randSuffix [8]byte
	if _, err := rand.Read(randSuffix[:]); err != nil {
		return err
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".tmp.%s%s", hex.EncodeToString(randSuffix[:]), filepath.Ext(finalPath)))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		if os.IsExist(err) {
			os.Remove(tmpPath)
			return nil
		}
		// Some platforms report a destination collision as a generic
		// rename error rather than IsExist; treat an existing, readable
		// destination as the race-won-by-a-peer case too.
		if _, statErr := os.Stat(finalPath); statErr == nil {
			os.Remove(tmpPath)
			return nil
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) encode(data []byte) (payload []byte, ext string, err error) {
	switch s.codec {
	case types.CompressionNone:
		return data, "", nil
	case types.CompressionGzip:
		if int64(len(data)) < s.codecMinBytes {
			return data, "", nil
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, "", err
		}
		if err := zw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ".gz", nil
	case types.CompressionZstd:
		if int64(len(data)) < s.codecMinBytes {
			return data, "", nil
		}
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, "", err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), ".zst", nil
	default:
		return data, "", nil
	}
}

func decode(payload []byte, ext string) ([]byte, error) {
	switch ext {
	case "":
		return payload, nil
	case ".gz":
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case ".zst":
		dec, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, fmt.Errorf("blobstore: unknown extension %q", ext)
	}
}

// Open resolves storageRef (an inline data: URI or a file: blob
// reference) and returns the decoded bytes.
func (s *Store) Open(ctx context.Context, storageRef string) ([]byte, error) {
	if strings.HasPrefix(storageRef, "data:") {
		return decodeInlineURI(storageRef)
	}
	if !strings.HasPrefix(storageRef, "file:") {
		return nil, fmt.Errorf("blobstore: unsupported storage ref scheme: %s", storageRef)
	}
	tail := strings.TrimPrefix(storageRef, "file:")

	roots := append([]string{s.recentRoot, s.archiveRoot}, s.extraRoots...)
	var lastErr error
	for _, root := range roots {
		path := filepath.Join(root, filepath.FromSlash(tail))
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		ext := ""
		switch {
		case strings.HasSuffix(path, ".gz"):
			ext = ".gz"
		case strings.HasSuffix(path, ".zst"):
			ext = ".zst"
		}
		decoded, err := decode(data, ext)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", storeerrors.ErrBlobIntegrity, path, err)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("blobstore: blob not found in any root, last error: %w", lastErr)
}

// VerifyIntegrity re-hashes hash's backing file and marks the registry
// row corrupt on mismatch (§4.1's periodic sweep, §7 BlobIntegrity).
func (s *Store) VerifyIntegrity(ctx context.Context, hash string) error {
	entry, ok, err := s.registry.Lookup(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("blobstore: no registry entry for %s", hash)
	}
	ref := refURIFromPath(entry.StoragePath)
	data, err := s.Open(ctx, ref)
	if err != nil {
		s.registry.MarkCorrupt(ctx, hash, time.Now().UTC())
		return fmt.Errorf("%w: %s: %v", storeerrors.ErrBlobIntegrity, hash, err)
	}
	if idgen.ContentHash(data) != hash {
		s.registry.MarkCorrupt(ctx, hash, time.Now().UTC())
		return fmt.Errorf("%w: %s: rehash mismatch", storeerrors.ErrBlobIntegrity, hash)
	}
	return s.registry.MarkVerified(ctx, hash, time.Now().UTC())
}

// CorruptHashes returns every content hash flagged corrupt by a prior
// VerifyIntegrity sweep.
func (s *Store) CorruptHashes(ctx context.Context) ([]string, error) {
	return s.registry.CorruptHashes(ctx)
}

// HasHash reports whether hash has a registry row, for callers checking
// an output row's content_hash against the blob space without opening it.
func (s *Store) HasHash(ctx context.Context, hash string) (bool, error) {
	return s.registry.Has(ctx, hash)
}

// IncrementRef bumps a blob's reference count when a new output row
// references it (called outside the Put path when a sync-pulled output
// arrives referencing a hash already local).
func (s *Store) IncrementRef(ctx context.Context, hash string) error {
	return s.registry.IncrementRefCount(ctx, hash, time.Now().UTC())
}

// DecrementRef drops a blob's reference count when an output row
// referencing it is deleted.
func (s *Store) DecrementRef(ctx context.Context, hash string) error {
	return s.registry.DecrementRefCount(ctx, hash)
}

// ReclaimResult summarizes one reclamation pass.
type ReclaimResult struct {
	Scanned int
	Deleted int
	Skipped int
}

// Reclaim runs the mark-and-sweep pass of §4.1: any registry entry with
// ref_count = 0 and last_accessed older than gracePeriod is deleted,
// provided the entry is still unreferenced immediately before deletion.
// The reclaim lock is held for the whole pass; if another process holds
// it, the pass is skipped and an empty result is returned.
func (s *Store) Reclaim(ctx context.Context, storeRoot string, gracePeriod time.Duration) (ReclaimResult, error) {
	lockPath := filepath.Join(storeRoot, "blobs", ".reclaim.lock")
	unlock, err := lockfile.AcquireExclusiveNonBlocking(lockPath)
	if err != nil {
		if lockfile.IsLocked(err) || errors.Is(err, lockfile.ErrLockBusy) {
			return ReclaimResult{}, nil // another process is reclaiming; skip, not an error
		}
		return ReclaimResult{}, fmt.Errorf("blobstore: acquire reclaim lock: %w", err)
	}
	defer unlock()

	scannedAt := time.Now().UTC()
	cutoff := scannedAt.Add(-gracePeriod)
	candidates, err := s.registry.ReclaimCandidates(ctx, cutoff)
	if err != nil {
		return ReclaimResult{}, err
	}

	var result ReclaimResult
	result.Scanned = len(candidates)
	for _, c := range candidates {
		ok, err := s.registry.StillUnreferenced(ctx, c.ContentHash, scannedAt)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}
		root := s.recentRoot
		if c.StorageTier == types.TierArchive {
			root = s.archiveRoot
		}
		path := filepath.Join(root, strings.TrimPrefix(c.StoragePath, string(c.StorageTier)+string(filepath.Separator)))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.AppendError(storeRoot, "blobstore", fmt.Sprintf("reclaim: remove %s: %v", path, err))
			result.Skipped++
			continue
		}
		if err := s.registry.Delete(ctx, c.ContentHash); err != nil {
			return result, err
		}
		result.Deleted++
	}
	return result, nil
}

func inlineURI(data []byte) string {
	return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(data)
}

func decodeInlineURI(uri string) ([]byte, error) {
	const prefix = "data:application/octet-stream;base64,"
	if !strings.HasPrefix(uri, prefix) {
		idx := strings.Index(uri, ";base64,")
		if idx < 0 {
			return nil, fmt.Errorf("blobstore: malformed inline uri")
		}
		return base64.StdEncoding.DecodeString(uri[idx+len(";base64,"):])
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
}

// refURIFromPath turns a tier-relative storage path ("recent/ab/ab12...bin")
// into the file: storage-ref grammar of §6.2 (hash[0:2]/hash[--hint].ext),
// stripping the tier prefix since tier is a local storage-root concept,
// not part of the portable reference.
func refURIFromPath(relPath string) string {
	parts := strings.SplitN(filepath.ToSlash(relPath), "/", 2)
	if len(parts) == 2 {
		return "file:" + parts[1]
	}
	return "file:" + filepath.ToSlash(relPath)
}

func sanitizeHint(hint string) string {
	var b strings.Builder
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}
