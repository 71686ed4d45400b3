package tablestore

import (
	"context"
	"errors"
	"testing"

	"github.com/invocationstore/irs/internal/storeerrors"
)

func TestInsertAttemptOutcomeOutputRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.InsertAttempt(ctx, "a1", "2026-07-31T00:00:00Z", "echo hi", "/tmp", "echo",
		"sess1", "", "shell", "m1", "host1", "", "pid:1", "2026-07-31", []byte("{}")); err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}

	zero := 0
	if err := s.InsertOutcome(ctx, "a1", "2026-07-31T00:00:04Z", &zero, 4, nil, false, "2026-07-31", []byte("{}")); err != nil {
		t.Fatalf("InsertOutcome: %v", err)
	}

	if err := s.InsertOutput(ctx, "o1", "a1", "stdout", "deadbeef", 3, "inline", "data:application/octet-stream;base64,aGkK", "2026-07-31"); err != nil {
		t.Fatalf("InsertOutput: %v", err)
	}

	var status string
	err = s.DB().QueryRowContext(ctx, "SELECT status FROM invocations WHERE id = ?", "a1").Scan(&status)
	if err != nil {
		t.Fatalf("query invocations: %v", err)
	}
	if status != "completed" {
		t.Fatalf("status = %q, want completed", status)
	}
}

func TestInsertOutcomeTwiceIsDuplicate(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.InsertAttempt(ctx, "a1", "2026-07-31T00:00:00Z", "true", "/tmp", "true",
		"sess1", "", "shell", "m1", "host1", "", "pid:1", "2026-07-31", nil); err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}

	zero := 0
	if err := s.InsertOutcome(ctx, "a1", "2026-07-31T00:00:01Z", &zero, 1, nil, false, "2026-07-31", nil); err != nil {
		t.Fatalf("first InsertOutcome: %v", err)
	}

	err = s.InsertOutcome(ctx, "a1", "2026-07-31T00:00:02Z", &zero, 1, nil, false, "2026-07-31", nil)
	if err == nil {
		t.Fatalf("expected duplicate outcome error")
	}
	if !errors.Is(err, storeerrors.ErrDuplicateOutcome) {
		t.Fatalf("expected ErrDuplicateOutcome, got %v", err)
	}
}

func TestUpsertSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.UpsertSession(ctx, "sess1", "shell", "zsh", 123, "interactive", "2026-07-31T00:00:00Z", "/tmp", "2026-07-31"); err != nil {
		t.Fatalf("first UpsertSession: %v", err)
	}
	if err := s.UpsertSession(ctx, "sess1", "shell", "bash", 456, "interactive", "2026-07-31T00:00:00Z", "/tmp", "2026-07-31"); err != nil {
		t.Fatalf("second UpsertSession: %v", err)
	}

	var invoker string
	if err := s.DB().QueryRowContext(ctx, "SELECT invoker FROM sessions WHERE session_id = ?", "sess1").Scan(&invoker); err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	if invoker != "bash" {
		t.Fatalf("invoker = %q, want bash (second upsert should win)", invoker)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one session row, got %d", count)
	}
}
