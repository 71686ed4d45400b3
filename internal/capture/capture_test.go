package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/idgen"
	"github.com/invocationstore/irs/internal/storage"
	"github.com/invocationstore/irs/internal/storeerrors"
	"github.com/invocationstore/irs/internal/types"
)

func newTestFacade(t *testing.T) (*Facade, storage.RowBackend, *blobstore.Store) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()

	backend, err := storage.Open(root, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	blobs, err := blobstore.Open(root, blobstore.WithInlineThreshold(cfg.InlineThresholdBytes))
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	return New(root, backend, blobs, cfg), backend, blobs
}

// TestHappyPath mirrors spec.md §8 scenario S1: open, append stdout,
// finish, close with exit_code=0.
func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newTestFacade(t)

	id := f.OpenAttempt(ctx, AttemptDescriptor{
		Cmd:          "echo hi",
		SessionID:    "sh-1",
		SourceClient: "shell-hook",
		MachineID:    "m1",
		RunnerID:     "pid:1",
	})
	require.NotEmpty(t, id)

	f.AppendOutput(id, types.StreamStdout, []byte("hi\n"), "echo")
	outputID := f.FinishOutput(ctx, id, types.StreamStdout)
	require.NotEmpty(t, outputID)

	zero := 0
	require.NoError(t, f.CloseAttempt(ctx, id, &zero, 4, nil, false, nil))

	pending, ok := f.backend.(interface {
		PendingAttempts(ctx context.Context) ([]types.Attempt, error)
	})
	require.True(t, ok, "backend must implement PendingAttempts")
	attempts, err := pending.PendingAttempts(ctx)
	require.NoError(t, err)
	for _, a := range attempts {
		require.NotEqual(t, id, a.ID, "attempt must not still be pending after close")
	}
}

// TestFinishOutputSmallBytesAreInline checks output invariant #2 from §8:
// byte_length < inline_threshold implies storage_type == inline.
func TestFinishOutputSmallBytesAreInline(t *testing.T) {
	ctx := context.Background()
	f, _, blobs := newTestFacade(t)

	id := f.OpenAttempt(ctx, AttemptDescriptor{Cmd: "true", SessionID: "s", RunnerID: "pid:1"})
	f.AppendOutput(id, types.StreamStdout, []byte("hi\n"), "true")
	outID := f.FinishOutput(ctx, id, types.StreamStdout)
	require.NotEmpty(t, outID)

	// There is no direct read API for outputs on the backend interface in
	// this package, so verify indirectly: the blob store never receives a
	// registry entry for bytes this small.
	ok, err := blobs.HasHash(ctx, idgen.ContentHash([]byte("hi\n")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFinishOutputEmptyBytesIsInline(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newTestFacade(t)

	id := f.OpenAttempt(ctx, AttemptDescriptor{Cmd: "true", SessionID: "s", RunnerID: "pid:1"})
	f.AppendOutput(id, types.StreamStderr, nil, "true")
	outID := f.FinishOutput(ctx, id, types.StreamStderr)
	require.NotEmpty(t, outID, "empty stream must still finalize with an output id")
}

func TestNestedInvocationReusesInheritedID(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newTestFacade(t)

	parentID := f.OpenAttempt(ctx, AttemptDescriptor{Cmd: "wrapper", SessionID: "s", RunnerID: "pid:1"})
	nestedID := f.OpenAttempt(ctx, AttemptDescriptor{
		Cmd:                "inner",
		SessionID:          "s",
		RunnerID:           "pid:1",
		InheritedAttemptID: parentID,
	})
	require.Equal(t, parentID, nestedID, "nested invocation must reuse the parent's attempt id")
}

func TestCloseAttemptTwiceSurfacesDuplicateOutcome(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Backend = config.BackendSingleWriter

	backend, err := storage.Open(root, cfg)
	require.NoError(t, err)
	defer backend.Close()

	blobs, err := blobstore.Open(root)
	require.NoError(t, err)
	defer blobs.Close()

	f := New(root, backend, blobs, cfg)
	id := f.OpenAttempt(ctx, AttemptDescriptor{Cmd: "true", SessionID: "s", RunnerID: "pid:1"})

	zero := 0
	require.NoError(t, f.CloseAttempt(ctx, id, &zero, 1, nil, false, nil))

	err = f.CloseAttempt(ctx, id, &zero, 1, nil, false, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, storeerrors.ErrDuplicateOutcome)
}

func TestRecordEventsAndRegisterSession(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newTestFacade(t)

	require.NoError(t, f.RegisterSession(ctx, types.Session{
		SessionID: "sh-1", SourceClient: "shell", Invoker: "zsh",
	}))

	id := f.OpenAttempt(ctx, AttemptDescriptor{Cmd: "go build", SessionID: "sh-1", RunnerID: "pid:1"})
	events := []types.Event{
		{
			InvocationID: id,
			Severity:     types.SeverityError,
			EventType:    "compile_error",
			Message:      "undefined: foo",
		},
	}
	require.NoError(t, f.RecordEvents(ctx, events))
}
