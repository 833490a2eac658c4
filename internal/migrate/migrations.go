// Package migrate applies the embedded schema scripts to the primary
// database. It is safe to call repeatedly: the recovery path reruns it on
// every reconnect and an up-to-date schema is a no-op.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type script struct {
	version int
	name    string
	body    string
}

// scripts returns the embedded migrations sorted by their NNN_ prefix.
func scripts() ([]script, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	out := make([]script, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing NNN_ version prefix", e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		body, err := schemaFS.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, script{version: version, name: e.Name(), body: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func currentVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	switch err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v); err {
	case nil:
		return v, nil
	case sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("seed schema_version: %w", err)
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
}

// Migrate brings the database to the latest embedded schema version. All
// pending scripts apply inside one transaction so a mid-sequence failure
// leaves the recorded version untouched.
func Migrate(db *sql.DB) error {
	pending, err := scripts()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	v, err := currentVersion(tx)
	if err != nil {
		return err
	}
	applied := 0
	for _, s := range pending {
		if s.version <= v {
			continue
		}
		if _, err := tx.Exec(s.body); err != nil {
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
		v = s.version
		applied++
	}
	if applied > 0 {
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, v); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return tx.Commit()
}
