package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/tablestore"
	"github.com/invocationstore/irs/internal/types"
)

// tableBackend adapts internal/tablestore (C3) to the RowBackend
// capability interface.
type tableBackend struct {
	ts *tablestore.Store
}

func (b *tableBackend) Backend() config.Backend { return config.BackendSingleWriter }
func (b *tableBackend) Close() error            { return b.ts.Close() }

func (b *tableBackend) InsertAttempt(ctx context.Context, a types.Attempt) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	return b.ts.InsertAttempt(ctx, a.ID, a.Timestamp.UTC().Format(time.RFC3339Nano), a.Cmd, a.Cwd,
		a.Executable, a.SessionID, a.Tag, a.SourceClient, a.MachineID, a.Hostname,
		a.FormatHint, a.RunnerID, a.Date, meta)
}

func (b *tableBackend) InsertOutcome(ctx context.Context, o types.Outcome) error {
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return err
	}
	return b.ts.InsertOutcome(ctx, o.AttemptID, o.CompletedAt.UTC().Format(time.RFC3339Nano), o.ExitCode,
		o.DurationMs, o.Signal, o.Timeout, o.Date, meta)
}

func (b *tableBackend) InsertOutput(ctx context.Context, o types.Output) error {
	return b.ts.InsertOutput(ctx, o.ID, o.InvocationID, string(o.Stream), o.ContentHash,
		o.ByteLength, string(o.StorageType), o.StorageRef, o.Date)
}

func (b *tableBackend) InsertEvent(ctx context.Context, e types.Event) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	return b.ts.InsertEvent(ctx, tablestore.EventRow{
		ID: e.ID, InvocationID: e.InvocationID, Severity: string(e.Severity), EventType: e.EventType,
		RefFile: e.RefFile, RefLine: e.RefLine, RefColumn: e.RefColumn, Message: e.Message,
		FormatUsed: e.FormatUsed, ErrorCode: e.ErrorCode, ToolName: e.ToolName, Category: e.Category,
		Fingerprint: e.Fingerprint, TestName: e.TestName, TestStatus: e.TestStatus,
		LogLineStart: e.LogLineStart, LogLineEnd: e.LogLineEnd, MetadataJSON: meta, Date: e.Date,
	})
}

func (b *tableBackend) UpsertSession(ctx context.Context, s types.Session) error {
	return b.ts.UpsertSession(ctx, s.SessionID, s.SourceClient, s.Invoker, s.InvokerPID,
		s.InvokerType, s.RegisteredAt.UTC().Format(time.RFC3339Nano), s.Cwd, s.Date)
}

// PendingAttempts implements storage.PendingSource via the anti-join
// named in §4.5: attempts with no row in outcomes.
func (b *tableBackend) PendingAttempts(ctx context.Context) ([]types.Attempt, error) {
	rows, err := b.ts.DB().QueryContext(ctx, `
		SELECT a.id, a.timestamp, a.cmd, a.cwd, a.executable, a.session_id, a.tag,
		       a.source_client, a.machine_id, a.hostname, a.format_hint, a.runner_id,
		       a.date, a.metadata
		FROM attempts a
		WHERE a.id NOT IN (SELECT attempt_id FROM outcomes)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Attempt
	for rows.Next() {
		var a types.Attempt
		var ts string
		var tag, formatHint sql.NullString
		var metaJSON sql.NullString
		if err := rows.Scan(&a.ID, &ts, &a.Cmd, &a.Cwd, &a.Executable, &a.SessionID, &tag,
			&a.SourceClient, &a.MachineID, &a.Hostname, &formatHint, &a.RunnerID, &a.Date, &metaJSON); err != nil {
			return nil, err
		}
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		a.Tag = tag.String
		a.FormatHint = formatHint.String
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &a.Metadata)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
