package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// currentSchemaVersion is the version a fully migrated database reports.
const currentSchemaVersion = 3

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is applied in order, each step exactly once. Applied versions
// are tracked in the schema_version table so old databases upgrade in place.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: turns and memories",
		SQL: `
		CREATE TABLE IF NOT EXISTS turns (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_key    TEXT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_turns_chat ON turns(chat_key, created_at);

		CREATE TABLE IF NOT EXISTS memories (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_key    TEXT NOT NULL,
			category    TEXT NOT NULL,
			content     TEXT NOT NULL,
			importance  INTEGER DEFAULT 5,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_memories_chat ON memories(chat_key, category);
		`,
	},
	{
		Version:     2,
		Description: "reminders with cron rescheduling",
		SQL: `
		CREATE TABLE IF NOT EXISTS reminders (
			id          TEXT PRIMARY KEY,
			chat_key    TEXT NOT NULL,
			channel     TEXT NOT NULL,
			chat_id     TEXT NOT NULL,
			sender_id   TEXT,
			text        TEXT NOT NULL,
			due_at      DATETIME NOT NULL,
			cron_expr   TEXT,
			done        INTEGER DEFAULT 0,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			done_at     DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(done, due_at);
		CREATE INDEX IF NOT EXISTS idx_reminders_chat ON reminders(chat_key);
		`,
	},
	{
		Version:     3,
		Description: "moderation audit log",
		SQL: `
		CREATE TABLE IF NOT EXISTS moderation_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			channel     TEXT NOT NULL,
			chat_id     TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			rule        TEXT NOT NULL,
			action      TEXT NOT NULL,
			details     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_moderation_time ON moderation_log(created_at);
		`,
	},
}

func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	applied, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= applied {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
		logger.Info("applied schema migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

// schemaVersion reports the highest applied migration, 0 for a fresh database.
func schemaVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
