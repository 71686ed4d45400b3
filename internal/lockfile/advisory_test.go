package lockfile

import (
	"path/filepath"
	"testing"
)

func TestAcquireExclusiveNonBlockingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".test.lock")

	unlock, err := AcquireExclusiveNonBlocking(path)
	if err != nil {
		t.Fatalf("AcquireExclusiveNonBlocking: %v", err)
	}

	_, err = AcquireExclusiveNonBlocking(path)
	if err == nil {
		t.Fatalf("expected a second acquire on the same path to fail while held")
	}
	if !IsLocked(err) {
		t.Fatalf("expected IsLocked(err) to recognize contention, got %v", err)
	}

	unlock()

	unlock2, err := AcquireExclusiveNonBlocking(path)
	if err != nil {
		t.Fatalf("expected to reacquire after unlock: %v", err)
	}
	unlock2()
}
