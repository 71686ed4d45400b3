package recovery

import (
	"os"
	"strconv"
	"testing"
)

func TestProbeLivenessPidScheme(t *testing.T) {
	alive, known := probeLiveness("pid:" + strconv.Itoa(os.Getpid()))
	if !known {
		t.Fatalf("pid scheme must be known")
	}
	if !alive {
		t.Fatalf("the current process's own pid must be reported alive")
	}

	// PID 1 exists on every unix system doctor/recover runs on, but we
	// only need a pid scheme that parses; an implausibly large pid is
	// reliably not running on any single-process test box.
	alive, known = probeLiveness("pid:999999999")
	if !known {
		t.Fatalf("pid scheme must be known even when the pid is dead")
	}
	if alive {
		t.Fatalf("an implausible pid must not be reported alive")
	}
}

func TestProbeLivenessUnknownSchemes(t *testing.T) {
	tests := []string{"gha:run-123", "k8s:pod-abc", "docker:container-1", "opaque-no-colon"}
	for _, runnerID := range tests {
		if _, known := probeLiveness(runnerID); known {
			t.Errorf("probeLiveness(%q): expected known=false (age-based recovery)", runnerID)
		}
	}
}

func TestProbeLivenessMalformedPid(t *testing.T) {
	if _, known := probeLiveness("pid:not-a-number"); known {
		t.Fatalf("a malformed pid payload must not be reported known")
	}
}
