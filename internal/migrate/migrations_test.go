package migrate_test

import (
	"testing"

	"loreline/internal/db"
	"loreline/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	// The recovery path reruns Migrate on every reconnect.
	for i := 0; i < 3; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}

	for _, table := range []string{"documents", "directives", "tasks", "states", "activity"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	var rows, version int
	if err := conn.QueryRow(`SELECT count(*) FROM schema_version`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Fatalf("schema_version rows = %d, want 1", rows)
	}
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version < 1 {
		t.Fatalf("recorded version = %d", version)
	}
}
