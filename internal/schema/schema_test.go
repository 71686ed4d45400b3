package schema

import (
	"strings"
	"testing"
)

func TestSyncOrderPlacesDependenciesBeforeDependents(t *testing.T) {
	index := make(map[string]int, len(SyncOrder))
	for i, rel := range SyncOrder {
		index[rel] = i
	}
	// attempts and outcomes both soft-reference sessions/attempts; outputs
	// and events soft-reference the invocation (attempt) id. Each of these
	// must come after what it references.
	if index[RelationAttempts] <= index[RelationSessions] {
		t.Fatalf("attempts must sync after sessions")
	}
	if index[RelationOutcomes] <= index[RelationAttempts] {
		t.Fatalf("outcomes must sync after attempts")
	}
	if index[RelationOutputs] <= index[RelationAttempts] {
		t.Fatalf("outputs must sync after attempts")
	}
	if index[RelationEvents] <= index[RelationOutputs] {
		t.Fatalf("events must sync after outputs")
	}
}

func TestCreateTablesDDLDeclaresEveryNativeTable(t *testing.T) {
	for _, table := range []string{"attempts", "outcomes", "outputs", "events", "sessions"} {
		if !strings.Contains(CreateTablesDDL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("CreateTablesDDL missing table %q", table)
		}
	}
}

func TestInvocationsViewDDLReferencesAttemptsAndOutcomes(t *testing.T) {
	if !strings.Contains(InvocationsViewDDL, "attempts") || !strings.Contains(InvocationsViewDDL, "outcomes") {
		t.Fatalf("InvocationsViewDDL must derive from both attempts and outcomes")
	}
}
