// Package sqlite implements store.Driver on top of database/sql and
// modernc.org/sqlite — a pure-Go driver, no cgo, matching the teacher's
// choice for its single-binary deployment story. The schema and query
// shapes mirror internal/store/postgres as closely as SQLite's dialect
// allows; differences are called out per file.
package sqlite

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
)

// DB is the sqlite-backed store.Driver implementation.
type DB struct {
	db *sql.DB
}

// Open opens dsn (a filesystem path, optionally with sqlite query
// parameters) and enables WAL + foreign keys, the same pragmas the
// teacher applies to its sqlite driver.
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite connection")
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one pooled conn avoids SQLITE_BUSY
	if _, err := sqlDB.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "configuring sqlite pragmas")
	}
	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// EnsureMonitorTables creates every table in §6's persisted layout if
// absent, using SQLite's dialect (TEXT timestamps, INTEGER PK).
func (d *DB) EnsureMonitorTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_ref TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			error_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id TEXT NOT NULL,
			source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS contents (
			hash_id TEXT PRIMARY KEY,
			source_id INTEGER NOT NULL,
			external_item_id TEXT NOT NULL,
			link TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT 'New Chat',
			summary TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL REFERENCES ai_chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_settings (
			user_id TEXT PRIMARY KEY,
			provider_key TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitor_filters (
			user_id TEXT PRIMARY KEY,
			filters TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitor_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL,
			message TEXT NOT NULL,
			ai_annotation TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_history_user_created ON monitor_history (user_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensuring monitor tables")
		}
	}
	return nil
}
