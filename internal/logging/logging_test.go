package logging

import (
	"os"
	"strings"
	"testing"
)

func TestAppendErrorWritesLine(t *testing.T) {
	root := t.TempDir()
	AppendError(root, "blobstore", "put fell back to inline: disk full")

	data, err := os.ReadFile(root + "/errors.log")
	if err != nil {
		t.Fatalf("read errors.log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "blobstore") || !strings.Contains(line, "disk full") {
		t.Fatalf("unexpected errors.log content: %q", line)
	}
}

func TestAppendErrorAppendsAcrossCalls(t *testing.T) {
	root := t.TempDir()
	AppendError(root, "capture", "first")
	AppendError(root, "capture", "second")

	data, err := os.ReadFile(root + "/errors.log")
	if err != nil {
		t.Fatalf("read errors.log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), string(data))
	}
}

func TestDebugfGatedByEnv(t *testing.T) {
	SetVerbose(false)
	if Enabled() {
		t.Fatalf("logging must be disabled by default in tests (IRS_DEBUG unset, verbose off)")
	}
	SetVerbose(true)
	defer SetVerbose(false)
	if !Enabled() {
		t.Fatalf("SetVerbose(true) must enable Enabled()")
	}
}
