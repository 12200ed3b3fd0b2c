package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/leadpilot/leadpilot/internal/profile"
	"github.com/leadpilot/leadpilot/internal/version"
	"github.com/leadpilot/leadpilot/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database specified by its connection string.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(5 * time.Minute)

	driver := DB{db: pgDB, profile: profile}

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
		id SERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		lead_id INTEGER NOT NULL,
		assistant_id TEXT NOT NULL DEFAULT '',
		thread_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW()),
		updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE TABLE IF NOT EXISTS chat_message (
		id SERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		conversation_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		reply_to_uid TEXT NOT NULL DEFAULT '',
		synthesized BOOLEAN NOT NULL DEFAULT FALSE,
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_message_conversation_id ON chat_message (conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_message_reply_to_uid ON chat_message (reply_to_uid)`,
	`CREATE TABLE IF NOT EXISTS lead_activity (
		id SERIAL PRIMARY KEY,
		lead_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_activity_lead_id ON lead_activity (lead_id)`,
	`CREATE TABLE IF NOT EXISTS assistant_setting (
		assistant_id TEXT PRIMARY KEY,
		max_prompt_tokens INTEGER NOT NULL DEFAULT 0,
		max_completion_tokens INTEGER NOT NULL DEFAULT 0,
		updated_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
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
		_, err = d.db.ExecContext(ctx, "INSERT INTO instance_version (id, version) VALUES (1, $1)", current)
		return errors.Wrap(err, "failed to record schema version")
	}
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	if !version.IsVersionGreaterOrEqualThan(current, stored) {
		return errors.Errorf("database schema version %s is newer than binary version %s, refusing to downgrade", stored, current)
	}
	if stored != current {
		if _, err := d.db.ExecContext(ctx, "UPDATE instance_version SET version = $1 WHERE id = 1", current); err != nil {
			return errors.Wrap(err, "failed to update schema version")
		}
	}
	return nil
}

// placeholder returns the positional parameter for the given 1-based index.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}
