package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rnwolfe/hooksched/internal/config"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the hooksched database.
func Open() (*DB, error) {
	paths := config.GetPaths()
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data dirs: %w", err)
	}
	return OpenPath(paths.DBFile)
}

// OpenPath opens the database at path and applies migrations.
func OpenPath(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Concurrent hooks append history; one writer avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the raw sql.DB for direct queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// migrate runs all schema migrations.
func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// One row per finished hook run
		`CREATE TABLE IF NOT EXISTS hook_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hook TEXT NOT NULL,
			execution_id TEXT DEFAULT '',
			started_at TEXT NOT NULL,
			duration_us INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			error TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hook_executions_hook ON hook_executions(hook, id)`,
		// Advisory dynamic priority factors
		`CREATE TABLE IF NOT EXISTS priority_adjustments (
			hook TEXT PRIMARY KEY,
			factor REAL NOT NULL DEFAULT 1,
			reason TEXT DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Finished rollback transactions
		`CREATE TABLE IF NOT EXISTS rollback_journal (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			hooks TEXT DEFAULT '',
			state TEXT NOT NULL,
			actions INTEGER DEFAULT 0,
			failures INTEGER DEFAULT 0,
			error TEXT DEFAULT '',
			created_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		// Key-value store for misc state
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	// ALTER TABLE has no IF NOT EXISTS; SQLite reports "duplicate column name".
	alterMigrations := []string{
		`ALTER TABLE rollback_journal ADD COLUMN trigger_name TEXT DEFAULT ''`,
	}
	for _, m := range alterMigrations {
		if _, err := db.conn.Exec(m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column name") {
				return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
			}
		}
	}

	return nil
}

// GetKV returns the value stored under key, or "" when absent.
func (db *DB) GetKV(key string) (string, error) {
	var v sql.NullString
	err := db.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.String, nil
}

// SetKV stores value under key.
func (db *DB) SetKV(key, value string) error {
	_, err := db.conn.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}
