// Package capture implements the Capture Facade (C9): the public entry
// points a producer calls to open an attempt, append output bytes,
// close with an outcome, and emit events. This is the only package a
// shell hook or wrapper tool needs to import.
//
// Grounded on the teacher's cmd/bd command handlers, which hold a
// package-level storage.Storage handle and a root context.Context and
// call straight into it per command; here that shape becomes an
// explicit Facade value so it can be constructed more than once in
// tests (§9's "no module-scoped mutable state" note).
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/idgen"
	"github.com/invocationstore/irs/internal/logging"
	"github.com/invocationstore/irs/internal/storage"
	"github.com/invocationstore/irs/internal/types"
)

// Facade is the producer-facing handle. Safe for concurrent use: in the
// multi-writer backend distinct attempts need no coordination; in the
// single-writer backend, storage.RowBackend itself serializes (§4.7).
type Facade struct {
	storeRoot string
	backend   storage.RowBackend
	blobs     *blobstore.Store
	cfg       config.Config

	mu          sync.Mutex
	openOutputs map[string]*pendingOutput // key: attemptID+"/"+stream
}

type pendingOutput struct {
	buf  []byte
	hint string
}

// New constructs a Facade over an already-open backend and blob store.
func New(storeRoot string, backend storage.RowBackend, blobs *blobstore.Store, cfg config.Config) *Facade {
	return &Facade{
		storeRoot:   storeRoot,
		backend:     backend,
		blobs:       blobs,
		cfg:         cfg,
		openOutputs: make(map[string]*pendingOutput),
	}
}

// AttemptDescriptor carries open_attempt's parameters (§4.7).
type AttemptDescriptor struct {
	Cmd          string
	Cwd          string
	SessionID    string
	SourceClient string
	MachineID    string
	Hostname     string
	RunnerID     string
	FormatHint   string
	Tag          string
	Metadata     types.Metadata

	// InheritedAttemptID, when non-empty, is the env_uuid_ref case: a
	// nested invocation reuses the parent's attempt id instead of
	// allocating a new one (§4.7).
	InheritedAttemptID string
}

// OpenAttempt allocates (or reuses, per InheritedAttemptID) an attempt
// id, writes an attempt row, and returns the id immediately. Any core
// failure here is swallowed and logged, never surfaced to the producer
// (§7's propagation rule) — except that an id is always returned, even
// a best-effort one, so the caller's command can proceed.
func (f *Facade) OpenAttempt(ctx context.Context, d AttemptDescriptor) string {
	id := d.InheritedAttemptID
	nested := id != ""
	if id == "" {
		id = idgen.NewAttemptID()
	}

	now := time.Now().UTC()
	a := types.Attempt{
		ID:           id,
		Timestamp:    now,
		Cmd:          d.Cmd,
		Cwd:          d.Cwd,
		Executable:   executableOf(d.Cmd),
		SessionID:    d.SessionID,
		Tag:          d.Tag,
		SourceClient: d.SourceClient,
		MachineID:    d.MachineID,
		Hostname:     d.Hostname,
		FormatHint:   d.FormatHint,
		RunnerID:     d.RunnerID,
		Date:         now.Format("2006-01-02"),
		Metadata:     d.Metadata,
	}

	// A nested invocation records only a supplementary row, identified by
	// the inherited id; it never re-inserts the attempt row the parent
	// already wrote (§4.7's "dedup across nested clients is by identity").
	if nested {
		return id
	}

	if err := f.backend.InsertAttempt(ctx, a); err != nil {
		logging.AppendError(f.storeRoot, "capture", fmt.Sprintf("open_attempt %s: %v", id, err))
	}
	return id
}

// AppendOutput accumulates bytes for one (attemptID, stream) pair in
// memory, to be finalized by FinishOutput. Producers may call this
// multiple times as a command streams output.
func (f *Facade) AppendOutput(attemptID string, stream types.Stream, bytesChunk []byte, hint string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := outputKey(attemptID, stream)
	p, ok := f.openOutputs[key]
	if !ok {
		p = &pendingOutput{hint: hint}
		f.openOutputs[key] = p
	}
	p.buf = append(p.buf, bytesChunk...)
}

// FinishOutput finalizes the accumulated bytes for (attemptID, stream):
// puts them through the blob store and writes an output row.
func (f *Facade) FinishOutput(ctx context.Context, attemptID string, stream types.Stream) (outputID string) {
	f.mu.Lock()
	key := outputKey(attemptID, stream)
	p, ok := f.openOutputs[key]
	delete(f.openOutputs, key)
	f.mu.Unlock()

	var buf []byte
	var hint string
	if ok {
		buf = p.buf
		hint = p.hint
	}

	id := idgen.NewAttemptID()
	res, err := f.blobs.Put(ctx, buf, hint)
	if err != nil {
		logging.AppendError(f.storeRoot, "capture", fmt.Sprintf("finish_output %s/%s: %v", attemptID, stream, err))
		return ""
	}

	now := time.Now().UTC()
	o := types.Output{
		ID:           id,
		InvocationID: attemptID,
		Stream:       stream,
		ContentHash:  res.Hash,
		ByteLength:   int64(len(buf)),
		StorageType:  res.StorageType,
		StorageRef:   res.StorageRef,
		Date:         now.Format("2006-01-02"),
	}
	if err := f.backend.InsertOutput(ctx, o); err != nil {
		logging.AppendError(f.storeRoot, "capture", fmt.Sprintf("insert output %s: %v", id, err))
		return ""
	}
	return id
}

// CloseAttempt writes the outcome row. A duplicate close for the same
// attempt_id is surfaced as storeerrors.ErrDuplicateOutcome (§4.7,
// contrasted with the recovery coordinator's silent handling of the
// same race).
func (f *Facade) CloseAttempt(ctx context.Context, attemptID string, exitCode *int, durationMs int64,
	signal *int, timeout bool, metadata types.Metadata) error {
	now := time.Now().UTC()
	o := types.Outcome{
		AttemptID:   attemptID,
		CompletedAt: now,
		ExitCode:    exitCode,
		DurationMs:  durationMs,
		Signal:      signal,
		Timeout:     timeout,
		Metadata:    metadata,
		Date:        now.Format("2006-01-02"),
	}
	if err := f.backend.InsertOutcome(ctx, o); err != nil {
		return fmt.Errorf("capture: close_attempt %s: %w", attemptID, err)
	}
	return nil
}

// RecordEvents inserts one row per parsed diagnostic.
func (f *Facade) RecordEvents(ctx context.Context, events []types.Event) error {
	for _, e := range events {
		if e.ID == "" {
			e.ID = idgen.NewAttemptID()
		}
		if e.Date == "" {
			e.Date = time.Now().UTC().Format("2006-01-02")
		}
		if err := f.backend.InsertEvent(ctx, e); err != nil {
			logging.AppendError(f.storeRoot, "capture", fmt.Sprintf("record_events %s: %v", e.ID, err))
			return err
		}
	}
	return nil
}

// RegisterSession upserts optional session grouping metadata.
func (f *Facade) RegisterSession(ctx context.Context, s types.Session) error {
	if s.RegisteredAt.IsZero() {
		s.RegisteredAt = time.Now().UTC()
	}
	if s.Date == "" {
		s.Date = s.RegisteredAt.Format("2006-01-02")
	}
	return f.backend.UpsertSession(ctx, s)
}

func outputKey(attemptID string, stream types.Stream) string {
	return attemptID + "/" + string(stream)
}

func executableOf(cmd string) string {
	for i, r := range cmd {
		if r == ' ' || r == '\t' {
			return cmd[:i]
		}
	}
	return cmd
}
