// Package querygateway implements the Query Gateway (C8): it exposes
// the logical schema to read-only clients, resolving blob references on
// demand and binding whichever physical backend the store actually uses.
//
// Grounded on teacher's internal/storage/sqlite view-installation idiom
// and internal/query/evaluator.go's read-only-handle shape; the query
// *language* evaluator itself (lexer/parser/AST) has no analog here —
// readers issue plain SQL against the exposed relations, per spec.md
// §4.8, rather than a bd-style filter DSL.
package querygateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/config"
	"github.com/invocationstore/irs/internal/logging"
	"github.com/invocationstore/irs/internal/schema"
	"github.com/invocationstore/irs/internal/shardwriter"
	"github.com/invocationstore/irs/internal/sqliteconn"
	"github.com/invocationstore/irs/internal/storeerrors"
)

// Gateway is a read-only handle onto one store's queryable relations.
type Gateway struct {
	storeRoot   string
	db          *sql.DB
	blobs       *blobstore.Store
	blobRoots   []string // session-variable equivalent for resolve_storage_ref (§4.8 step 2)
	readOnly    bool     // true when SchemaVersionAhead degraded the connection
	schemaAhead bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	extraBlobRoots []string
	extensionPaths []string
}

// WithBlobRoots appends roots to the list BlobRoots reports, after the
// local recent/archive tiers (§6.2, §4.8 step 2). ReadBlob does not
// search this list.
func WithBlobRoots(roots ...string) Option {
	return func(o *options) { o.extraBlobRoots = append(o.extraBlobRoots, roots...) }
}

// WithExtensions names optional sqlite extension paths to load at connect
// (§4.8 step 4's "helper macros", §7 MissingExtension). A path that fails
// to load is logged and skipped, never fatal.
func WithExtensions(paths ...string) Option {
	return func(o *options) { o.extensionPaths = append(o.extensionPaths, paths...) }
}

// Open connects to storeRoot's store for read-only querying, following
// §4.8's connect sequence.
func Open(ctx context.Context, storeRoot string, cfg config.Config, blobs *blobstore.Store, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{
		storeRoot: storeRoot,
		blobs:     blobs,
		blobRoots: append([]string{
			filepath.Join(storeRoot, "blobs", "content", "recent"),
			filepath.Join(storeRoot, "blobs", "content", "archive"),
		}, o.extraBlobRoots...),
	}

	driverName := registerExtendedDriver(storeRoot, o.extensionPaths)

	switch cfg.Backend {
	case config.BackendSingleWriter:
		db, err := sql.Open(driverName, sqliteconn.ConnString(filepath.Join(storeRoot, "db", "store.db"), true))
		if err != nil {
			return nil, fmt.Errorf("querygateway: open: %w", err)
		}
		g.db = db
		if err := g.checkSchemaVersion(ctx); err != nil {
			return nil, err
		}
	case config.BackendMultiWriter:
		// No physical engine backs the multi-writer tier; materialize one
		// in-memory and populate it from shard files (§4.8 step 3's "union
		// shards per partition" realized without a columnar virtual-table
		// extension, since none exists in the retrieval pack — see
		// DESIGN.md).
		db, err := sql.Open(driverName, "file::memory:?cache=shared")
		if err != nil {
			return nil, fmt.Errorf("querygateway: open in-memory: %w", err)
		}
		if _, err := db.ExecContext(ctx, schema.CreateTablesDDL); err != nil {
			return nil, fmt.Errorf("querygateway: install schema: %w", err)
		}
		if _, err := db.ExecContext(ctx, schema.InvocationsViewDDL); err != nil {
			return nil, fmt.Errorf("querygateway: install view: %w", err)
		}
		g.db = db
		if err := populateFromShards(ctx, db, storeRoot); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("querygateway: unknown backend %q", cfg.Backend)
	}

	return g, nil
}

func (g *Gateway) Close() error { return g.db.Close() }

// DB exposes the underlying read-only handle for ad-hoc SQL.
func (g *Gateway) DB() *sql.DB { return g.db }

// SchemaAhead reports whether the connection was degraded to read-only
// because the store's on-disk schema version is newer than this
// binary's (§7 SchemaVersionAhead).
func (g *Gateway) SchemaAhead() bool { return g.schemaAhead }

func (g *Gateway) checkSchemaVersion(ctx context.Context) error {
	var value string
	err := g.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows || err != nil {
		return nil // no meta row yet (fresh store); nothing to compare
	}
	if value > schema.Version {
		g.schemaAhead = true
		g.readOnly = true
		logging.AppendError(g.storeRoot, "querygateway",
			fmt.Sprintf("%v: store schema %s ahead of binary schema %s; opened read-only", storeerrors.ErrSchemaVersionAhead, value, schema.Version))
	}
	return nil
}

// ReadBlob implements the read_blob(storage_ref) capability (§4.8): for
// data: URIs bytes are decoded inline; for file: references the blob
// store's own roots are searched in order. Both cases delegate to
// blobstore.Store.Open; the gateway's BlobRoots list is not consulted.
func (g *Gateway) ReadBlob(ctx context.Context, storageRef string) ([]byte, error) {
	return g.blobs.Open(ctx, storageRef)
}

// BlobRoots returns the gateway's ordered list of blob roots — the
// Go-level equivalent of §4.8 step 2's session variable. ReadBlob does
// not use it.
func (g *Gateway) BlobRoots() []string {
	out := make([]string, len(g.blobRoots))
	copy(out, g.blobRoots)
	return out
}

// AttachRemote attaches another store's embedded database as alias and
// installs TEMP views unioning its relations with the local ones.
// sqlite TEMP objects are connection-scoped and never written to any
// database file, which is exactly the "never persist" discipline §4.8
// step 5 requires — attaching and detaching is safe across sessions
// because nothing survives the connection that created it.
func (g *Gateway) AttachRemote(ctx context.Context, alias, dbPath string) error {
	if _, err := g.db.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE '%s' AS %s", escapeSQLString(dbPath), alias)); err != nil {
		return fmt.Errorf("querygateway: attach %s: %w", alias, err)
	}
	for _, relation := range []string{schema.RelationAttempts, schema.RelationOutcomes, schema.RelationOutputs, schema.RelationEvents, schema.RelationSessions} {
		viewName := fmt.Sprintf("%s_union_%s", relation, alias)
		ddl := fmt.Sprintf(`CREATE TEMP VIEW IF NOT EXISTS %s AS
			SELECT * FROM %s
			UNION ALL
			SELECT * FROM %s.%s`, viewName, relation, alias, relation)
		if _, err := g.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("querygateway: install union view for %s: %w", relation, err)
		}
	}
	return nil
}

func escapeSQLString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// populateFromShards loads every shard row of every relation into the
// in-memory database, giving multi-writer-mode readers a real SQL
// surface over file-backed data (§4.8 step 3). Archival is pure
// reorganisation (§4.4): a partition moved to the archive tier must keep
// showing up here, so this unions both tiers' shard trees rather than
// reading only data/recent. The two tiers partition differently (recent
// nests one level by date=, archive nests two by year=/week=), which is
// exactly why ListShardsRecursive walks the whole table subtree instead
// of assuming a partition layout.
func populateFromShards(ctx context.Context, db *sql.DB, storeRoot string) error {
	roots := []string{
		filepath.Join(storeRoot, "data", "recent"),
		filepath.Join(storeRoot, "data", "archive"),
	}
	for _, relation := range schema.SyncOrder {
		for _, root := range roots {
			writer := shardwriter.New(root)
			paths, err := writer.ListShardsRecursive(relation)
			if err != nil {
				return fmt.Errorf("querygateway: list shards %s under %s: %w", relation, root, err)
			}
			for _, p := range paths {
				rows, err := shardwriter.ReadRows(p)
				if err != nil {
					return fmt.Errorf("querygateway: read %s: %w", p, err)
				}
				for _, raw := range rows {
					var row map[string]interface{}
					if err := json.Unmarshal(raw, &row); err != nil {
						return fmt.Errorf("querygateway: decode %s: %w", p, err)
					}
					if err := insertRow(ctx, db, relation, row); err != nil {
						return fmt.Errorf("querygateway: populate %s from %s: %w", relation, p, err)
					}
				}
			}
		}
	}
	return nil
}

var relationColumns = map[string][]string{
	schema.RelationAttempts: {"id", "timestamp", "cmd", "cwd", "executable", "session_id", "tag",
		"source_client", "machine_id", "hostname", "format_hint", "runner_id", "date", "metadata"},
	schema.RelationOutcomes: {"attempt_id", "completed_at", "exit_code", "duration_ms", "signal", "timeout", "metadata", "date"},
	schema.RelationOutputs:  {"id", "invocation_id", "stream", "content_hash", "byte_length", "storage_type", "storage_ref", "date"},
	schema.RelationEvents: {"id", "invocation_id", "severity", "event_type", "ref_file", "ref_line", "ref_column",
		"message", "format_used", "error_code", "tool_name", "category", "fingerprint", "test_name", "test_status",
		"log_line_start", "log_line_end", "metadata", "date"},
	schema.RelationSessions: {"session_id", "source_client", "invoker", "invoker_pid", "invoker_type", "registered_at", "cwd", "date"},
}

func insertRow(ctx context.Context, db *sql.DB, relation string, row map[string]interface{}) error {
	cols, ok := relationColumns[relation]
	if !ok {
		return fmt.Errorf("unknown relation %q", relation)
	}
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = normalizeValue(row[c])
	}
	stmt := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", relation, joinCols(cols), joinCols(placeholders))
	_, err := db.ExecContext(ctx, stmt, args...)
	return err
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// normalizeValue flattens the JSON-decoded metadata map (or any nested
// value) back to its JSON text form for TEXT columns, since shard rows
// round-trip through map[string]interface{} rather than typed structs.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, float64, bool:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
