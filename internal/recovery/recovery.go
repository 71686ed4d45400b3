// Package recovery implements the Recovery Coordinator (C6): it scans
// the pending set, probes runner-id liveness, and transitions abandoned
// attempts to the orphaned terminal state (§4.5).
//
// Grounded on internal/lockfile's IsProcessRunning (adapted from the
// teacher's process_unix.go) for the pid: scheme, and on spec.md §4.5's
// scheme table for everything else.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/invocationstore/irs/internal/lockfile"
	"github.com/invocationstore/irs/internal/storage"
	"github.com/invocationstore/irs/internal/storeerrors"
	"github.com/invocationstore/irs/internal/types"
)

// Coordinator runs recovery passes over one store.
type Coordinator struct {
	backend     storage.RowBackend
	pending     storage.PendingSource
	maxAgeHours int
	now         func() time.Time // overridable for tests
}

// New constructs a Coordinator. backend must also implement
// storage.PendingSource (both shipped backends do); an error is
// returned otherwise since recovery has no other way to find the
// pending set.
func New(backend storage.RowBackend, maxAgeHours int) (*Coordinator, error) {
	ps, ok := backend.(storage.PendingSource)
	if !ok {
		return nil, fmt.Errorf("recovery: backend %T does not implement PendingSource", backend)
	}
	return &Coordinator{backend: backend, pending: ps, maxAgeHours: maxAgeHours, now: time.Now}, nil
}

// Result summarizes one recovery pass.
type Result struct {
	Scanned         int
	Orphaned        int
	StillRunning    int
	DuplicateOutcome int
}

// Run executes one pass: classify every pending attempt and write
// outcome rows for those that should transition to orphaned (§4.5's
// state machine). It is idempotent: running it twice produces the same
// final state, since the second pass's insert attempts hit the first
// pass's rows and are dropped as duplicates.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	attempts, err := c.pending.PendingAttempts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: list pending: %w", err)
	}

	var result Result
	result.Scanned = len(attempts)
	now := c.now().UTC()

	for _, a := range attempts {
		alive, known := probeLiveness(a.RunnerID)
		age := now.Sub(a.Timestamp)

		reason := "stale"
		switch {
		case known && alive:
			result.StillRunning++
			continue
		case known && !alive:
			// A liveness probe that conclusively fails (e.g. a dead pid)
			// orphans the attempt immediately: §4.5 step 2 does not gate
			// this case on age, only the liveness-unknown case below.
			reason = "liveness_failed"
		default:
			if age < time.Duration(c.maxAgeHours)*time.Hour {
				result.StillRunning++
				continue
			}
		}

		meta := types.Metadata{
			"recovery": mustJSON(map[string]string{"reason": reason}),
		}
		o := types.Outcome{
			AttemptID:   a.ID,
			CompletedAt: now,
			ExitCode:    nil,
			DurationMs:  age.Milliseconds(),
			Signal:      nil,
			Timeout:     false,
			Metadata:    meta,
			Date:        a.Date,
		}

		err := c.backend.InsertOutcome(ctx, o)
		if err == nil {
			result.Orphaned++
			continue
		}
		if errors.Is(err, storeerrors.ErrDuplicateOutcome) {
			// Won by normal termination racing recovery (§4.5): silently
			// move on, this is the expected idempotent-retry path.
			result.DuplicateOutcome++
			continue
		}
		return result, fmt.Errorf("recovery: write outcome for %s: %w", a.ID, err)
	}

	return result, nil
}

// probeLiveness parses a runner_id per the §6.3 grammar and returns
// (alive, known). known is false for unknown/opaque schemes, which are
// recovered by age alone.
func probeLiveness(runnerID string) (alive bool, known bool) {
	scheme, payload, ok := strings.Cut(runnerID, ":")
	if !ok {
		return false, false
	}
	switch scheme {
	case "pid":
		pid, err := strconv.Atoi(payload)
		if err != nil {
			return false, false
		}
		return lockfile.IsProcessRunning(pid), true
	case "gha", "k8s", "docker":
		// Not directly probed; treated as alive unless stale by age
		// (§4.5's table). Returning known=false here routes through the
		// age check below exactly as "assume alive unless stale" implies.
		return false, false
	default:
		return false, false
	}
}

func mustJSON(v map[string]string) json.RawMessage {
	b, _ := json.Marshal(v) // only ever called with a literal map; cannot fail
	return b
}
