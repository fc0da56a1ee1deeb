package gate

import (
	"log/slog"
	"strings"

	"chaperone/internal/domain"
)

// Verdict names the admission step that rejected a message. Empty means
// admitted. Rejections are silent: no reply is ever sent for them.
type Verdict string

const (
	Admitted       Verdict = ""
	RejectEmpty    Verdict = "no_content"
	RejectSelf     Verdict = "self_message"
	RejectStatus   Verdict = "broadcast"
	RejectDenied   Verdict = "whitelist_denied"
	RejectRateOver Verdict = "rate_limited"
)

// Gate is the admission pre-filter: self messages, broadcast noise, whitelist
// denial, and per-sender rate limiting, checked in that order. The whitelist
// check runs before the rate-limit hit so denied senders never consume quota.
type Gate struct {
	selfID    func(channel string) string
	whitelist map[string]bool
	limiter   *Window
	logger    *slog.Logger
}

type GateConfig struct {
	// SelfID returns the bot's own sender identifier on a channel.
	SelfID    func(channel string) string
	Whitelist []string // allowed sender or chat IDs; empty allows all
	Limiter   *Window
	Logger    *slog.Logger
}

func New(cfg GateConfig) *Gate {
	wl := make(map[string]bool, len(cfg.Whitelist))
	for _, id := range cfg.Whitelist {
		wl[NormalizeJID(id)] = true
	}
	if cfg.SelfID == nil {
		cfg.SelfID = func(string) string { return "" }
	}
	return &Gate{
		selfID:    cfg.SelfID,
		whitelist: wl,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
	}
}

// Admit runs the admission steps against one inbound message. Each step is a
// hard short-circuit.
func (g *Gate) Admit(msg *domain.InboundMessage) Verdict {
	if !msg.HasContent() {
		return RejectEmpty
	}

	sender := NormalizeJID(msg.SenderID)
	if self := NormalizeJID(g.selfID(msg.Channel)); self != "" && sender == self {
		return RejectSelf
	}

	if isBroadcast(msg.ChatID) {
		return RejectStatus
	}

	if len(g.whitelist) > 0 && !g.whitelist[sender] && !g.whitelist[NormalizeJID(msg.ChatID)] {
		g.logger.Debug("whitelist denied", "sender", msg.SenderID, "chat", msg.ChatID)
		return RejectDenied
	}

	if g.limiter != nil {
		if count, limited := g.limiter.Hit(sender); limited {
			g.logger.Warn("sender rate limited", "sender", msg.SenderID, "count", count)
			return RejectRateOver
		}
	}

	return Admitted
}

// NormalizeJID canonicalizes a transport identifier: lowercase, with device
// and resource suffixes stripped ("123:4@s.whatsapp.net" → "123@s.whatsapp.net").
func NormalizeJID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if at := strings.IndexByte(id, '@'); at > 0 {
		user := id[:at]
		if colon := strings.IndexByte(user, ':'); colon >= 0 {
			user = user[:colon]
		}
		if slash := strings.IndexByte(user, '/'); slash >= 0 {
			user = user[:slash]
		}
		return user + id[at:]
	}
	return id
}

func isBroadcast(chatID string) bool {
	return chatID == "status@broadcast" || strings.HasSuffix(chatID, "@broadcast")
}
