package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"nodes", "objects", "object_disinherit", "permissions", "operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheckStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckStatus(db)
		if !errors.Is(err, ErrNoSchema) {
			t.Errorf("CheckStatus() error = %v, want ErrNoSchema", err)
		}
	})

	t.Run("ok after migration", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}
		if err := CheckStatus(db); err != nil {
			t.Errorf("CheckStatus() after migration returned error: %v", err)
		}
	})

	t.Run("migrate up is idempotent", func(t *testing.T) {
		db := openTestDB(t)
		for i := 0; i < 2; i++ {
			if err := MigrateUp(db); err != nil {
				t.Fatalf("MigrateUp() run %d failed: %v", i+1, err)
			}
		}
		st, err := CurrentStatus(db)
		if err != nil {
			t.Fatalf("CurrentStatus() error = %v", err)
		}
		if st.Version != st.Latest || st.Dirty {
			t.Errorf("status = %+v, want clean at latest", st)
		}
	})
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enabling foreign keys: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	t.Run("object needs an existing node", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO objects (node_id, type, name, created_at, updated_at)
			VALUES (42, 'file', 'a.txt', datetime('now'), datetime('now'))`)
		if err == nil {
			t.Error("expected foreign key violation, insert succeeded")
		}
	})

	t.Run("node names are unique ignoring case", func(t *testing.T) {
		if _, err := db.Exec("INSERT INTO nodes (name, created_at) VALUES ('Site', datetime('now'))"); err != nil {
			t.Fatalf("inserting node: %v", err)
		}
		if _, err := db.Exec("INSERT INTO nodes (name, created_at) VALUES ('site', datetime('now'))"); err == nil {
			t.Error("expected unique violation, insert succeeded")
		}
	})

	t.Run("object type is checked", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO objects (node_id, type, name, created_at, updated_at)
			VALUES ((SELECT id FROM nodes LIMIT 1), 'template', 'x', datetime('now'), datetime('now'))`)
		if err == nil {
			t.Error("expected check constraint violation, insert succeeded")
		}
	})
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
