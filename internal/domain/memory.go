package domain

import (
	"context"
	"time"
)

// HistoryStore persists conversation history, long-term memory entries,
// reminders, and the moderation audit log.
type HistoryStore interface {
	AddTurn(ctx context.Context, chatKey string, msg TurnRecord) error
	RecentTurns(ctx context.Context, chatKey string, limit int) ([]TurnRecord, error)
	ClearTurns(ctx context.Context, chatKey string) error

	SaveMemory(ctx context.Context, mem MemoryEntry) error
	SearchMemories(ctx context.Context, chatKey, query string, limit int) ([]MemoryEntry, error)

	SaveReminder(ctx context.Context, rem Reminder) error
	UpdateReminder(ctx context.Context, rem Reminder) error
	DeleteReminder(ctx context.Context, id string) error
	ListReminders(ctx context.Context, chatKey string) ([]Reminder, error)
	DueReminders(ctx context.Context, now time.Time) ([]Reminder, error)

	LogModeration(ctx context.Context, entry ModerationRecord) error

	Close() error
}

// TurnRecord is one persisted conversation turn.
type TurnRecord struct {
	ID        int64     `json:"id"`
	ChatKey   string    `json:"chat_key"` // channel:chatID
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryEntry is one long-term memory item searchable by the memory
// capability and the memory tool.
type MemoryEntry struct {
	ID         int64     `json:"id"`
	ChatKey    string    `json:"chat_key"`
	Category   string    `json:"category"` // fact | preference | summary
	Content    string    `json:"content"`
	Importance int       `json:"importance"` // 1-10
	CreatedAt  time.Time `json:"created_at"`
}

// Reminder is a scheduled one-shot or recurring prompt back to a chat.
type Reminder struct {
	ID        string     `json:"id"`
	ChatKey   string     `json:"chat_key"`
	Channel   string     `json:"channel"`
	ChatID    string     `json:"chat_id"`
	SenderID  string     `json:"sender_id"`
	Text      string     `json:"text"`
	DueAt     time.Time  `json:"due_at"`
	CronExpr  string     `json:"cron_expr,omitempty"` // recurring when set
	Done      bool       `json:"done"`
	CreatedAt time.Time  `json:"created_at"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

// ModerationRecord is one audit-log entry for a moderation action.
type ModerationRecord struct {
	Channel  string
	ChatID   string
	SenderID string
	Rule     string // spam | link | forward
	Action   string // warned | deleted | removal
	Details  string
}
