// Package memory persists conversation history, long-term memories,
// reminders, and the moderation audit log in SQLite.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chaperone/internal/domain"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	logger     *slog.Logger
	maxPerChat int // oldest turns beyond this are pruned per chat
}

func NewSQLiteStore(dbPath string, maxPerChat int, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if maxPerChat <= 0 {
		maxPerChat = 500
	}
	store := &SQLiteStore{db: db, logger: logger, maxPerChat: maxPerChat}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) AddTurn(ctx context.Context, chatKey string, msg domain.TurnRecord) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (chat_key, role, content, created_at) VALUES (?, ?, ?, ?)`,
		chatKey, msg.Role, msg.Content, created,
	)
	if err != nil {
		return err
	}
	return s.pruneTurns(ctx, chatKey)
}

func (s *SQLiteStore) pruneTurns(ctx context.Context, chatKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE chat_key = ? AND id NOT IN (
			SELECT id FROM turns WHERE chat_key = ? ORDER BY id DESC LIMIT ?
		)`,
		chatKey, chatKey, s.maxPerChat,
	)
	return err
}

func (s *SQLiteStore) RecentTurns(ctx context.Context, chatKey string, limit int) ([]domain.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_key, role, content, created_at FROM (
			SELECT * FROM turns WHERE chat_key = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		chatKey, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.TurnRecord
	for rows.Next() {
		var t domain.TurnRecord
		if err := rows.Scan(&t.ID, &t.ChatKey, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) ClearTurns(ctx context.Context, chatKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE chat_key = ?`, chatKey)
	return err
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, mem domain.MemoryEntry) error {
	importance := mem.Importance
	if importance <= 0 {
		importance = 5
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (chat_key, category, content, importance) VALUES (?, ?, ?, ?)`,
		mem.ChatKey, mem.Category, mem.Content, importance,
	)
	return err
}

func (s *SQLiteStore) SearchMemories(ctx context.Context, chatKey, query string, limit int) ([]domain.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_key, category, content, importance, created_at
		 FROM memories
		 WHERE chat_key = ? AND content LIKE ?
		 ORDER BY importance DESC, created_at DESC LIMIT ?`,
		chatKey, "%"+query+"%", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.MemoryEntry
	for rows.Next() {
		var e domain.MemoryEntry
		if err := rows.Scan(&e.ID, &e.ChatKey, &e.Category, &e.Content, &e.Importance, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) SaveReminder(ctx context.Context, rem domain.Reminder) error {
	created := rem.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, chat_key, channel, chat_id, sender_id, text, due_at, cron_expr, done, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rem.ID, rem.ChatKey, rem.Channel, rem.ChatID, rem.SenderID, rem.Text,
		rem.DueAt, rem.CronExpr, rem.Done, created,
	)
	return err
}

func (s *SQLiteStore) UpdateReminder(ctx context.Context, rem domain.Reminder) error {
	var doneAt any
	if rem.DoneAt != nil {
		doneAt = *rem.DoneAt
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET text = ?, due_at = ?, cron_expr = ?, done = ?, done_at = ? WHERE id = ?`,
		rem.Text, rem.DueAt, rem.CronExpr, rem.Done, doneAt, rem.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found", rem.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteReminder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListReminders(ctx context.Context, chatKey string) ([]domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_key, channel, chat_id, sender_id, text, due_at, cron_expr, done, created_at, done_at
		 FROM reminders WHERE chat_key = ? ORDER BY due_at ASC`,
		chatKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *SQLiteStore) DueReminders(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_key, channel, chat_id, sender_id, text, due_at, cron_expr, done, created_at, done_at
		 FROM reminders WHERE done = 0 AND due_at <= ? ORDER BY due_at ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]domain.Reminder, error) {
	var rems []domain.Reminder
	for rows.Next() {
		var (
			r        domain.Reminder
			cronExpr sql.NullString
			senderID sql.NullString
			doneAt   sql.NullTime
		)
		err := rows.Scan(&r.ID, &r.ChatKey, &r.Channel, &r.ChatID, &senderID,
			&r.Text, &r.DueAt, &cronExpr, &r.Done, &r.CreatedAt, &doneAt)
		if err != nil {
			return nil, err
		}
		r.CronExpr = cronExpr.String
		r.SenderID = senderID.String
		if doneAt.Valid {
			t := doneAt.Time
			r.DoneAt = &t
		}
		rems = append(rems, r)
	}
	return rems, rows.Err()
}

func (s *SQLiteStore) LogModeration(ctx context.Context, entry domain.ModerationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moderation_log (channel, chat_id, sender_id, rule, action, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Channel, entry.ChatID, entry.SenderID, entry.Rule, entry.Action, entry.Details,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)
