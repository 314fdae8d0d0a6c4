// Package db opens the per-workspace SQLite file everything durable lives
// in. One desk, one workspace, one database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Path returns the database file location for a workspace. The file sits
// under a .deskline directory so the workspace root stays clean.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".deskline", "deskline.db")
}

// Open opens the workspace database, creating the .deskline directory on
// first use. Foreign keys are enforced and writers wait behind a busy
// timeout instead of failing on a held lock.
func Open(workspace string) (*sql.DB, error) {
	file := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", file)
	return sql.Open("sqlite", dsn)
}
