package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/leadpilot/leadpilot/internal/profile"
	"github.com/leadpilot/leadpilot/internal/version"
	"github.com/leadpilot/leadpilot/store"
)

// SQLite is supported for development and demo instances only. Postgres
// is the production driver.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode avoids most locking issues; a busy timeout covers
	// the rest. With the modernc driver each pragma must be prefixed
	// with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

var migrationStmts = []string{
	`CREATE TABLE IF NOT EXISTS conversation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		lead_id INTEGER NOT NULL,
		assistant_id TEXT NOT NULL DEFAULT '',
		thread_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		conversation_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		reply_to_uid TEXT NOT NULL DEFAULT '',
		synthesized BOOLEAN NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_message_conversation_id ON chat_message (conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_message_reply_to_uid ON chat_message (reply_to_uid)`,
	`CREATE TABLE IF NOT EXISTS lead_activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lead_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_activity_lead_id ON lead_activity (lead_id)`,
	`CREATE TABLE IF NOT EXISTS assistant_setting (
		assistant_id TEXT PRIMARY KEY,
		max_prompt_tokens INTEGER NOT NULL DEFAULT 0,
		max_completion_tokens INTEGER NOT NULL DEFAULT 0,
		updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS instance_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version TEXT NOT NULL
	)`,
}

// Migrate applies the schema. All statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply migration")
		}
	}
	return d.ensureSchemaVersion(ctx)
}

// ensureSchemaVersion records the binary's minor version and refuses to
// start against a database written by a newer release.
func (d *DB) ensureSchemaVersion(ctx context.Context) error {
	current := version.GetMinorVersion(d.profile.Version)
	if current == "" {
		return nil
	}

	var stored string
	err := d.db.QueryRowContext(ctx, "SELECT version FROM instance_version WHERE id = 1").Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = d.db.ExecContext(ctx, "INSERT INTO instance_version (id, version) VALUES (1, ?)", current)
		return errors.Wrap(err, "failed to record schema version")
	}
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	if !version.IsVersionGreaterOrEqualThan(current, stored) {
		return errors.Errorf("database schema version %s is newer than binary version %s, refusing to downgrade", stored, current)
	}
	if stored != current {
		if _, err := d.db.ExecContext(ctx, "UPDATE instance_version SET version = ? WHERE id = 1", current); err != nil {
			return errors.Wrap(err, "failed to update schema version")
		}
	}
	return nil
}
