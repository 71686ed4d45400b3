package querygateway

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/invocationstore/irs/internal/logging"
)

var registerOnce sync.Map // driverName -> struct{}, guards sql.Register against double-registration

// registerExtendedDriver registers (once) a sqlite3 driver variant whose
// connections load extensionPaths at connect time, and returns its
// driver name. A path that fails to load is logged and skipped rather
// than refused (§7 MissingExtension) — optional helper macros are
// unavailable, queries still work.
func registerExtendedDriver(storeRoot string, extensionPaths []string) string {
	if len(extensionPaths) == 0 {
		return "sqlite3"
	}

	name := fmt.Sprintf("sqlite3_irs_ext_%d", len(extensionPaths))
	if _, loaded := registerOnce.LoadOrStore(name, struct{}{}); loaded {
		return name
	}

	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, path := range extensionPaths {
				if err := conn.LoadExtension(path, ""); err != nil {
					logging.AppendError(storeRoot, "querygateway", fmt.Sprintf("extension %s unavailable: %v", path, err))
				}
			}
			return nil
		},
	})
	return name
}
