package sqliteconn

import (
	"os"
	"strings"
	"testing"
)

func TestConnStringReadWrite(t *testing.T) {
	cs := ConnString("/tmp/store.db", false)
	if strings.Contains(cs, "mode=ro") {
		t.Fatalf("read-write conn string must not set mode=ro: %s", cs)
	}
	if !strings.Contains(cs, "_pragma=busy_timeout(") {
		t.Fatalf("conn string must set busy_timeout: %s", cs)
	}
	if !strings.Contains(cs, "_pragma=foreign_keys(ON)") {
		t.Fatalf("conn string must enable foreign_keys: %s", cs)
	}
}

func TestConnStringReadOnly(t *testing.T) {
	cs := ConnString("/tmp/store.db", true)
	if !strings.Contains(cs, "mode=ro") {
		t.Fatalf("read-only conn string must set mode=ro: %s", cs)
	}
}

func TestConnStringHonorsLockTimeoutEnv(t *testing.T) {
	os.Setenv("IRS_LOCK_TIMEOUT", "5s")
	defer os.Unsetenv("IRS_LOCK_TIMEOUT")

	cs := ConnString("/tmp/store.db", false)
	if !strings.Contains(cs, "busy_timeout(5000)") {
		t.Fatalf("expected busy_timeout(5000) from IRS_LOCK_TIMEOUT=5s, got %s", cs)
	}
}

func TestConnStringEmptyPath(t *testing.T) {
	if ConnString("", false) != "" {
		t.Fatalf("empty path must yield empty conn string")
	}
}
