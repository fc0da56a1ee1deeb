package capability

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

// Shared fakes for the handler tests.

type fakeProvider struct {
	reply string
	calls int
}

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls++
	return &domain.ChatResponse{Content: p.reply, FinishReason: domain.FinishStop}, nil
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Models() []string                  { return []string{"fake-1"} }
func (p *fakeProvider) SupportsToolCalling() bool         { return true }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }

type fakeTransport struct {
	texts  []string
	media  []domain.Media
	voices int
	group  *domain.GroupInfo
}

func (t *fakeTransport) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	t.texts = append(t.texts, text)
	return nil
}

func (t *fakeTransport) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	t.media = append(t.media, media)
	return nil
}

func (t *fakeTransport) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	t.voices++
	return nil
}

func (t *fakeTransport) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	return nil
}

func (t *fakeTransport) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	return t.group, nil
}

func (t *fakeTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return nil
}

// fakeStore is an in-memory domain.HistoryStore.
type fakeStore struct {
	turns     map[string][]domain.TurnRecord
	memories  []domain.MemoryEntry
	reminders map[string]domain.Reminder
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		turns:     make(map[string][]domain.TurnRecord),
		reminders: make(map[string]domain.Reminder),
	}
}

func (s *fakeStore) AddTurn(ctx context.Context, chatKey string, msg domain.TurnRecord) error {
	s.turns[chatKey] = append(s.turns[chatKey], msg)
	return nil
}

func (s *fakeStore) RecentTurns(ctx context.Context, chatKey string, limit int) ([]domain.TurnRecord, error) {
	turns := s.turns[chatKey]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (s *fakeStore) ClearTurns(ctx context.Context, chatKey string) error {
	delete(s.turns, chatKey)
	return nil
}

func (s *fakeStore) SaveMemory(ctx context.Context, mem domain.MemoryEntry) error {
	s.memories = append(s.memories, mem)
	return nil
}

func (s *fakeStore) SearchMemories(ctx context.Context, chatKey, query string, limit int) ([]domain.MemoryEntry, error) {
	var out []domain.MemoryEntry
	for _, m := range s.memories {
		if m.ChatKey == chatKey && strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SaveReminder(ctx context.Context, rem domain.Reminder) error {
	s.reminders[rem.ID] = rem
	return nil
}

func (s *fakeStore) UpdateReminder(ctx context.Context, rem domain.Reminder) error {
	s.reminders[rem.ID] = rem
	return nil
}

func (s *fakeStore) DeleteReminder(ctx context.Context, id string) error {
	delete(s.reminders, id)
	return nil
}

func (s *fakeStore) ListReminders(ctx context.Context, chatKey string) ([]domain.Reminder, error) {
	var out []domain.Reminder
	for _, rem := range s.reminders {
		if rem.ChatKey == chatKey {
			out = append(out, rem)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DueAt.Before(out[b].DueAt) })
	return out, nil
}

func (s *fakeStore) DueReminders(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	var out []domain.Reminder
	for _, rem := range s.reminders {
		if !rem.Done && !rem.DueAt.After(now) {
			out = append(out, rem)
		}
	}
	return out, nil
}

func (s *fakeStore) LogModeration(ctx context.Context, entry domain.ModerationRecord) error {
	return nil
}

func (s *fakeStore) Close() error { return nil }

func allFlags() domain.Flags {
	return domain.FlagFunc(func(string) bool { return true })
}

func testDeps(provider *fakeProvider, transport *fakeTransport, store *fakeStore) *Deps {
	cfg := config.Defaults()
	return &Deps{
		Provider:  provider,
		Flags:     allFlags(),
		Store:     store,
		Transport: transport,
		Config:    cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func directCtx() *domain.MessageContext {
	return &domain.MessageContext{
		Channel:    "whatsapp",
		ChatID:     "alice@s.whatsapp.net",
		SenderID:   "alice@s.whatsapp.net",
		SenderName: "alice",
		Timestamp:  time.Unix(1_700_000_000, 0),
	}
}
