// Package storage persists the appgate launch state on the device.
//
// State lives in a small SQLite database opened through modernc.org/sqlite
// (pure Go, no CGO) so the package cross-compiles with gomobile. The
// database runs in WAL mode and applies its schema migrations on open.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Register the pure-Go SQLite driver. This does NOT require CGO.
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database. State does not survive
// the process, which is what tests and the desktop simulator want.
const MemoryPath = ":memory:"

// DB wraps a *sql.DB connection to the launch-state database.
type DB struct {
	inner *sql.DB
	path  string
}

// NewDB opens (or creates) the SQLite database at dbPath and migrates it.
func NewDB(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if dbPath == MemoryPath {
		dsn = dbPath
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every pooled connection to :memory: would see its own empty database.
	if dbPath == MemoryPath {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{
		inner: sqlDB,
		path:  dbPath,
	}, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Exec executes a query without returning rows.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.inner.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.inner.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.inner.QueryRow(query, args...)
}

// BeginTx starts a transaction bound to ctx.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.inner.BeginTx(ctx, nil)
}
