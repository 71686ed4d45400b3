package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/storage"
	"github.com/invocationstore/irs/internal/types"
)

// TestRunOrphansStaleDeadPidAttempt mirrors spec.md §8 scenario S3: an
// attempt owned by a dead pid, never closed, becomes orphaned once
// max_age_hours has elapsed, and a second pass is a no-op.
func TestRunOrphansStaleDeadPidAttempt(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backend, err := storage.Open(root, config.Default())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer backend.Close()

	staleTime := time.Now().UTC().Add(-48 * time.Hour)
	if err := backend.InsertAttempt(ctx, types.Attempt{
		ID: "u1", Timestamp: staleTime, SessionID: "s",
		RunnerID: "pid:999999999", Date: staleTime.Format("2006-01-02"),
	}); err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}

	coord, err := New(backend, 24)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := coord.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Orphaned != 1 {
		t.Fatalf("got %+v, want 1 orphaned", result)
	}

	pending, err := backend.(interface {
		PendingAttempts(context.Context) ([]types.Attempt, error)
	}).PendingAttempts(ctx)
	if err != nil {
		t.Fatalf("PendingAttempts: %v", err)
	}
	for _, a := range pending {
		if a.ID == "u1" {
			t.Fatalf("u1 should no longer be pending after recovery")
		}
	}

	// Second pass must be a no-op (idempotent, §8).
	result2, err := coord.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result2.Scanned != 0 {
		t.Fatalf("second pass scanned %d attempts, want 0 (u1 no longer pending)", result2.Scanned)
	}
}

// TestRunOrphansFreshDeadPidImmediately guards §4.5 step 2: a pid that
// conclusively fails liveness must orphan right away, even though it is
// nowhere near max_age_hours old — the liveness probe, not the age gate,
// is conclusive for known schemes.
func TestRunOrphansFreshDeadPidImmediately(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backend, err := storage.Open(root, config.Default())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer backend.Close()

	fresh := time.Now().UTC().Add(-1 * time.Minute)
	if err := backend.InsertAttempt(ctx, types.Attempt{
		ID: "u3", Timestamp: fresh, SessionID: "s",
		RunnerID: "pid:999999999", Date: fresh.Format("2006-01-02"),
	}); err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}

	coord, err := New(backend, 24)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := coord.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Orphaned != 1 {
		t.Fatalf("got %+v, want 1 orphaned (dead pid must not wait for max_age_hours=24)", result)
	}
}

// TestRunMaxAgeZeroOrphansEverythingPending verifies the §8 boundary
// behaviour: with max_age_hours=0, every pending attempt becomes
// orphaned regardless of liveness-unknown schemes.
func TestRunMaxAgeZeroOrphansEverythingPending(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backend, err := storage.Open(root, config.Default())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer backend.Close()

	now := time.Now().UTC()
	if err := backend.InsertAttempt(ctx, types.Attempt{
		ID: "u2", Timestamp: now, SessionID: "s",
		RunnerID: "gha:run:123", Date: now.Format("2006-01-02"),
	}); err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}

	coord, err := New(backend, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := coord.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Orphaned != 1 {
		t.Fatalf("got %+v, want 1 orphaned with max_age_hours=0", result)
	}
}
