package storage

import (
	"context"
	"testing"

	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/types"
)

func TestOpenSelectsMultiWriterBackendByDefault(t *testing.T) {
	root := t.TempDir()
	backend, err := Open(root, config.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer backend.Close()

	if backend.Backend() != config.BackendMultiWriter {
		t.Fatalf("Backend() = %v, want %v", backend.Backend(), config.BackendMultiWriter)
	}
}

func TestOpenSelectsSingleWriterBackend(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Backend = config.BackendSingleWriter

	backend, err := Open(root, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer backend.Close()

	if backend.Backend() != config.BackendSingleWriter {
		t.Fatalf("Backend() = %v, want %v", backend.Backend(), config.BackendSingleWriter)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Backend = "quantum"

	if _, err := Open(root, cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestShardBackendPendingAttemptsExcludesCompleted(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backend, err := Open(root, config.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer backend.Close()

	if err := backend.InsertAttempt(ctx, types.Attempt{ID: "a1", SessionID: "s", Date: "2026-07-31"}); err != nil {
		t.Fatalf("InsertAttempt a1: %v", err)
	}
	if err := backend.InsertAttempt(ctx, types.Attempt{ID: "a2", SessionID: "s", Date: "2026-07-31"}); err != nil {
		t.Fatalf("InsertAttempt a2: %v", err)
	}
	zero := 0
	if err := backend.InsertOutcome(ctx, types.Outcome{AttemptID: "a1", ExitCode: &zero, Date: "2026-07-31"}); err != nil {
		t.Fatalf("InsertOutcome: %v", err)
	}

	pending, ok := backend.(PendingSource)
	if !ok {
		t.Fatalf("shard backend must implement PendingSource")
	}
	attempts, err := pending.PendingAttempts(ctx)
	if err != nil {
		t.Fatalf("PendingAttempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].ID != "a2" {
		t.Fatalf("got %+v, want only a2 pending", attempts)
	}
}
