package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// migration is a versioned schema change applied exactly once
type migration struct {
	version int
	name    string
	sql     string
}

// Migrations are embedded so a single binary carries its own schema.
var migrations = []migration{
	{
		version: 1,
		name:    "create_tasks",
		sql: `
			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				creator_id TEXT NOT NULL,
				status TEXT NOT NULL,
				stage TEXT NOT NULL,
				is_group_task INTEGER NOT NULL DEFAULT 0,
				approval_status TEXT,
				completed_at TIMESTAMP,
				approved_at TIMESTAMP,
				approved_by TEXT NOT NULL DEFAULT '',
				elapsed_seconds INTEGER NOT NULL DEFAULT 0,
				last_reminder_sent TIMESTAMP,
				version INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_tasks_stage_status ON tasks(stage, status);
		`,
	},
	{
		version: 2,
		name:    "create_assignments",
		sql: `
			CREATE TABLE IF NOT EXISTS assignments (
				task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				assignee_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				stage TEXT NOT NULL,
				status TEXT NOT NULL,
				approval TEXT NOT NULL,
				completed_at TIMESTAMP,
				approval_at TIMESTAMP,
				approved_by TEXT NOT NULL DEFAULT '',
				rejection_reason TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (task_id, assignee_id)
			);
		`,
	},
	{
		version: 3,
		name:    "create_task_tokens",
		sql: `
			CREATE TABLE IF NOT EXISTS task_tokens (
				digest TEXT PRIMARY KEY,
				task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				actor_id TEXT NOT NULL,
				action TEXT NOT NULL,
				assignee_scope TEXT NOT NULL DEFAULT '',
				issued_at TIMESTAMP NOT NULL,
				used INTEGER NOT NULL DEFAULT 0,
				used_at TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_task_tokens_task ON task_tokens(task_id);
		`,
	},
	{
		version: 4,
		name:    "create_history",
		sql: `
			CREATE TABLE IF NOT EXISTS history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_id TEXT NOT NULL,
				task_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				actor_id TEXT NOT NULL DEFAULT '',
				old_value TEXT NOT NULL DEFAULT '',
				new_value TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_history_task ON history(task_id);
		`,
	},
	{
		version: 5,
		name:    "create_notifications",
		sql: `
			CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				event_id TEXT NOT NULL,
				task_id TEXT NOT NULL,
				recipient_id TEXT NOT NULL,
				type TEXT NOT NULL,
				message TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				sent_at TIMESTAMP,
				UNIQUE (event_id, recipient_id)
			);
			CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id);
		`,
	},
	{
		version: 6,
		name:    "create_actors",
		sql: `
			CREATE TABLE IF NOT EXISTS actors (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL
			);
		`,
	},
}

// Migrator applies pending schema migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// Run applies all migrations not yet recorded in schema_migrations
func (m *Migrator) Run() error {
	if _, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate migrations: %w", err)
	}

	for _, mig := range migrations {
		if applied[mig.version] {
			continue
		}
		err := m.db.WithTransaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(mig.sql); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", mig.version, mig.name, err)
			}
			if _, err := tx.Exec(
				"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
				mig.version, mig.name,
			); err != nil {
				return fmt.Errorf("record migration %d: %w", mig.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.logger.Info("Migration applied",
			zap.Int("version", mig.version),
			zap.String("name", mig.name))
	}
	return nil
}
