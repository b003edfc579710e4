// Package postgres implements store.Driver on top of database/sql and
// github.com/lib/pq, following the teacher's store/db/postgres
// convention: fixed SQL statements, RETURNING on inserts and updates,
// and explicit transactions for the three operations (§4.2) that
// require atomicity (GetOrCreateActiveChat, SetActiveChat, SaveMessage).
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// DB is the postgres-backed store.Driver implementation.
type DB struct {
	db *sql.DB
}

// Open connects to dsn and verifies it with a ping; callers should treat
// a non-nil error as "self-disable the store" per §4.2's failure
// semantics, not a fatal startup error.
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// EnsureMonitorTables creates every table in §6's persisted layout if
// absent. It is idempotent, matching §4.2's contract, and is called by
// the Monitor Service on first write rather than assumed pre-migrated.
func (d *DB) EnsureMonitorTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id BIGSERIAL PRIMARY KEY,
			external_ref TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			error_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id TEXT NOT NULL,
			source_id BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS contents (
			hash_id TEXT PRIMARY KEY,
			source_id BIGINT NOT NULL,
			external_item_id TEXT NOT NULL,
			link TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ai_chats (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT 'New Chat',
			summary TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ai_messages (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES ai_chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ai_settings (
			user_id TEXT PRIMARY KEY,
			provider_key TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS monitor_filters (
			user_id TEXT PRIMARY KEY,
			filters JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS monitor_history (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL,
			message TEXT NOT NULL,
			ai_annotation TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
