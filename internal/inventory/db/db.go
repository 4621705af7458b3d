// Package db persists inventory passes in an embedded SQLite database.
//
// The database runs in WAL mode so readers (status, records, dashboard)
// never block the persistence worker.
//
// Schema:
//   - records: one row per primary or child record, live or archived
//   - relations: ordered named references between records
//   - sources: per-source synchronization status
//
// A pass is written through Begin, which returns a graph.Tx. Nothing of a
// pass is visible to readers until it commits.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open("/var/lib/invsync/inventory.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_type TEXT NOT NULL,
		object_type TEXT NOT NULL,
		ref TEXT NOT NULL,
		uid TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		attributes TEXT NOT NULL DEFAULT '{}',  -- JSON object
		owner_id INTEGER REFERENCES records(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,  -- unix nanoseconds
		updated_at INTEGER NOT NULL,
		archived_at INTEGER,
		UNIQUE (record_type, object_type, ref)
	);

	CREATE TABLE IF NOT EXISTS relations (
		record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		position INTEGER NOT NULL,
		target_type TEXT NOT NULL,
		target_object_type TEXT NOT NULL,
		target_ref TEXT NOT NULL,
		target_id INTEGER REFERENCES records(id) ON DELETE SET NULL,
		PRIMARY KEY (record_id, name, position)
	);

	CREATE TABLE IF NOT EXISTS sources (
		name TEXT PRIMARY KEY,
		last_version TEXT NOT NULL DEFAULT '',
		last_success_at INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		last_error_at INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_uid ON records(record_type, uid)
	    WHERE uid != '';
	CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_id);
	CREATE INDEX IF NOT EXISTS idx_records_live ON records(record_type, object_type)
	    WHERE archived_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// nanos converts a nullable unix-nanosecond column.
func nanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
