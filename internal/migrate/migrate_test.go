package migrate_test

import (
	"testing"

	"deskline/internal/db"
	"deskline/internal/migrate"
)

func TestMigrateRecordsVersion(t *testing.T) {
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("version %d after migrate, want >= 1", v)
	}

	// core tables exist and accept writes
	if _, err := conn.Exec(`INSERT INTO actors(id,role,locale,banned,created_at,updated_at)
		VALUES ('a','requester','en',0,'2026-02-01T12:00:00Z','2026-02-01T12:00:00Z')`); err != nil {
		t.Fatalf("insert actor: %v", err)
	}

	// a second run is a no-op
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v2, _ := migrate.Version(conn); v2 != v {
		t.Fatalf("version moved from %d to %d on a no-op run", v, v2)
	}
}
