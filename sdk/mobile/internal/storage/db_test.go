package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewDB_CreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before NewDB")
	}

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after NewDB")
	}
	if db.Path() != dbPath {
		t.Errorf("Path: got %q, want %q", db.Path(), dbPath)
	}
}

func TestNewDB_RunsMigrations(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(
		"INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)",
		"sample", "1", 1000,
	); err != nil {
		t.Fatalf("insert into app_state should succeed: %v", err)
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}
}

func TestNewDB_ReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("first NewDB: %v", err)
	}
	if _, err := db1.Exec("INSERT INTO app_state (key, value, updated_at) VALUES ('k', 'v', 1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("second NewDB: %v", err)
	}
	defer db2.Close()

	var value string
	if err := db2.QueryRow("SELECT value FROM app_state WHERE key = 'k'").Scan(&value); err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if value != "v" {
		t.Fatalf("expected value %q after reopen, got %q", "v", value)
	}

	var rows int
	if err := db2.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("count schema_version: %v", err)
	}
	if rows != len(migrations) {
		t.Fatalf("migrations re-applied: %d version rows", rows)
	}
}

func TestNewDB_EmptyPath(t *testing.T) {
	if _, err := NewDB(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewDB_Memory(t *testing.T) {
	db, err := NewDB(MemoryPath)
	if err != nil {
		t.Fatalf("NewDB(memory): %v", err)
	}
	defer db.Close()

	// A second statement must see the table the migration created.
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM app_state").Scan(&count); err != nil {
		t.Fatalf("query memory db: %v", err)
	}
}

func TestClose_NilInner(t *testing.T) {
	db := &DB{}
	if err := db.Close(); err != nil {
		t.Fatalf("close nil inner: %v", err)
	}
}

func TestDB_WALMode(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected WAL mode, got %q", mode)
	}
}

func TestDB_BeginTx(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := tx.Exec("INSERT INTO app_state (key, value, updated_at) VALUES ('tx', '1', 1)"); err != nil {
		t.Fatalf("tx exec: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("tx rollback: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM app_state").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to leave 0 rows, got %d", count)
	}
}
