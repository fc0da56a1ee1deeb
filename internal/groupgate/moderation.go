package groupgate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chaperone/internal/config"
	"chaperone/internal/domain"
	"chaperone/internal/gate"
)

// Moderator applies the group moderation policies: spam bursts, link
// blocking, and forward blocking. Group admins bypass all of them.
type Moderator struct {
	spam       *gate.Window // keyed per sender per chat
	lex        *Lexicon
	store      domain.HistoryStore // optional audit log
	logger     *slog.Logger
	strikes    map[string]int
	mu         sync.Mutex
	maxStrikes int
}

type ModeratorConfig struct {
	Spam    *gate.Window
	Lexicon *Lexicon
	Store   domain.HistoryStore
	Logger  *slog.Logger
	// MaxStrikes is the spam violation count that yields a removal verdict.
	MaxStrikes int
}

func NewModerator(cfg ModeratorConfig) *Moderator {
	if cfg.Lexicon == nil {
		cfg.Lexicon = DefaultLexicon()
	}
	if cfg.MaxStrikes <= 0 {
		cfg.MaxStrikes = 3
	}
	return &Moderator{
		spam:       cfg.Spam,
		lex:        cfg.Lexicon,
		store:      cfg.Store,
		logger:     cfg.Logger,
		strikes:    make(map[string]int),
		maxStrikes: cfg.MaxStrikes,
	}
}

// Check evaluates one group message. A nil verdict means no action. Spam
// detection runs first; link and forward checks fire only when spam did not
// already act. A shouldDelete verdict discards the message entirely.
func (m *Moderator) Check(ctx context.Context, msg *domain.InboundMessage, text string, g config.GroupConfig, info *domain.GroupInfo) *domain.ModerationVerdict {
	if !g.SpamDetection && !g.BlockLinks && !g.BlockForwards {
		return nil
	}
	if info.IsAdmin(msg.SenderID) {
		return nil
	}

	if g.SpamDetection && m.spam != nil {
		key := msg.SenderID + "|" + msg.ChatID
		if _, burst := m.spam.Hit(key); burst {
			return m.spamVerdict(ctx, msg, key, g)
		}
	}

	if g.BlockLinks && m.lex.ContainsLink(text) {
		m.audit(ctx, msg, "link", "deleted", text)
		return &domain.ModerationVerdict{
			ShouldDelete: true,
			Warning:      fmt.Sprintf("@%s links are not allowed in this group.", msg.SenderName),
		}
	}

	if g.BlockForwards && msg.IsForwarded {
		m.audit(ctx, msg, "forward", "deleted", "")
		return &domain.ModerationVerdict{
			ShouldDelete: true,
			Warning:      fmt.Sprintf("@%s forwarded messages are not allowed in this group.", msg.SenderName),
		}
	}

	return nil
}

// spamVerdict escalates: the first maxStrikes-1 violations warn (delete is
// policy-controlled), the maxStrikes-th produces a removal-worthy verdict.
func (m *Moderator) spamVerdict(ctx context.Context, msg *domain.InboundMessage, key string, g config.GroupConfig) *domain.ModerationVerdict {
	m.mu.Lock()
	m.strikes[key]++
	n := m.strikes[key]
	m.mu.Unlock()

	m.logger.Warn("spam violation",
		"sender", msg.SenderID, "chat", msg.ChatID, "strike", n)

	if n >= m.maxStrikes {
		m.audit(ctx, msg, "spam", "removal", fmt.Sprintf("strike %d", n))
		return &domain.ModerationVerdict{
			ShouldDelete: true,
			Remove:       true,
			Warning:      fmt.Sprintf("@%s has been flagged for removal after repeated spam.", msg.SenderName),
		}
	}

	m.audit(ctx, msg, "spam", "warned", fmt.Sprintf("strike %d", n))
	return &domain.ModerationVerdict{
		ShouldDelete: g.DeleteOnWarn,
		Warning: fmt.Sprintf("@%s please slow down (warning %d/%d).",
			msg.SenderName, n, m.maxStrikes),
	}
}

// Strikes returns the current spam strike count for a sender in a chat.
func (m *Moderator) Strikes(senderID, chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strikes[senderID+"|"+chatID]
}

func (m *Moderator) audit(ctx context.Context, msg *domain.InboundMessage, rule, action, details string) {
	if m.store == nil {
		return
	}
	err := m.store.LogModeration(ctx, domain.ModerationRecord{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Rule:     rule,
		Action:   action,
		Details:  details,
	})
	if err != nil {
		m.logger.Warn("moderation audit write failed", "err", err)
	}
}
