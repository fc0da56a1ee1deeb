package groupgate

import (
	"context"
	"testing"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"
	"chaperone/internal/gate"
)

func modCfg() config.GroupConfig {
	return config.GroupConfig{
		SpamDetection: true,
		SpamWindowMs:  60_000,
		SpamMax:       3,
		SpamStrikes:   3,
		BlockLinks:    true,
		BlockForwards: true,
	}
}

func groupInfo(admins ...string) *domain.GroupInfo {
	info := &domain.GroupInfo{Name: "testers"}
	info.Participants = append(info.Participants, domain.Participant{ID: "alice@s.whatsapp.net"})
	for _, a := range admins {
		info.Participants = append(info.Participants, domain.Participant{ID: a, IsAdmin: true})
	}
	return info
}

func groupMsg(sender, body string) *domain.InboundMessage {
	return &domain.InboundMessage{
		Channel:    "whatsapp",
		ChatID:     "group@g.us",
		SenderID:   sender,
		SenderName: "alice",
		IsGroup:    true,
		Body:       body,
		Timestamp:  time.Now(),
	}
}

func newModerator(maxStrikes int) *Moderator {
	clk := time.Unix(1000, 0)
	return NewModerator(ModeratorConfig{
		Spam:       gate.NewWindow(60*time.Second, 3, func() time.Time { return clk }),
		Logger:     testLogger(),
		MaxStrikes: maxStrikes,
	})
}

func TestCheck_NoPoliciesEnabled(t *testing.T) {
	m := newModerator(3)
	cfg := config.GroupConfig{} // everything off

	msg := groupMsg("alice@s.whatsapp.net", "http://spam.example.com")
	if v := m.Check(context.Background(), msg, msg.Body, cfg, groupInfo()); v != nil {
		t.Fatalf("expected no action with policies disabled, got %+v", v)
	}
}

func TestCheck_AdminBypass(t *testing.T) {
	m := newModerator(3)
	msg := groupMsg("admin@s.whatsapp.net", "http://any.example.com")
	msg.IsForwarded = true

	// Admins bypass every policy regardless of content.
	for i := 0; i < 20; i++ {
		if v := m.Check(context.Background(), msg, msg.Body, modCfg(), groupInfo("admin@s.whatsapp.net")); v != nil {
			t.Fatalf("admin must never be moderated, got %+v", v)
		}
	}
}

func TestCheck_LinkBlocked(t *testing.T) {
	m := newModerator(3)
	msg := groupMsg("alice@s.whatsapp.net", "check this https://example.com/deal")

	v := m.Check(context.Background(), msg, msg.Body, modCfg(), groupInfo())
	if v == nil || !v.ShouldDelete {
		t.Fatalf("expected delete verdict for link, got %+v", v)
	}
	if v.Warning == "" {
		t.Fatal("link verdict should carry a warning")
	}
}

func TestCheck_ForwardBlocked(t *testing.T) {
	m := newModerator(3)
	msg := groupMsg("alice@s.whatsapp.net", "interesting read")
	msg.IsForwarded = true

	v := m.Check(context.Background(), msg, msg.Body, modCfg(), groupInfo())
	if v == nil || !v.ShouldDelete {
		t.Fatalf("expected delete verdict for forward, got %+v", v)
	}
}

func TestCheck_LinkOnlyWhenEnabled(t *testing.T) {
	m := newModerator(3)
	cfg := modCfg()
	cfg.BlockLinks = false

	msg := groupMsg("alice@s.whatsapp.net", "see https://example.com")
	if v := m.Check(context.Background(), msg, msg.Body, cfg, groupInfo()); v != nil {
		t.Fatalf("links allowed, expected no verdict, got %+v", v)
	}
}

func TestCheck_SpamEscalation(t *testing.T) {
	m := newModerator(3)
	cfg := modCfg()
	cfg.DeleteOnWarn = false
	sender := "alice@s.whatsapp.net"

	// First 3 messages fill the window without a violation.
	for i := 0; i < 3; i++ {
		msg := groupMsg(sender, "spam spam spam")
		if v := m.Check(context.Background(), msg, msg.Body, cfg, groupInfo()); v != nil {
			t.Fatalf("message %d within quota, got verdict %+v", i, v)
		}
	}

	// Strikes 1 and 2: warnings, no removal, delete per policy (off).
	for strike := 1; strike <= 2; strike++ {
		msg := groupMsg(sender, "spam spam spam")
		v := m.Check(context.Background(), msg, msg.Body, cfg, groupInfo())
		if v == nil {
			t.Fatalf("strike %d: expected warning verdict", strike)
		}
		if v.Remove {
			t.Fatalf("strike %d: premature removal", strike)
		}
		if v.ShouldDelete {
			t.Fatalf("strike %d: deleteOnWarn is off", strike)
		}
		if m.Strikes(sender, "group@g.us") != strike {
			t.Fatalf("expected strike count %d, got %d", strike, m.Strikes(sender, "group@g.us"))
		}
	}

	// Strike 3: removal-worthy verdict.
	msg := groupMsg(sender, "spam spam spam")
	v := m.Check(context.Background(), msg, msg.Body, cfg, groupInfo())
	if v == nil || !v.Remove || !v.ShouldDelete {
		t.Fatalf("strike 3: expected removal verdict, got %+v", v)
	}
}

func TestCheck_DeleteOnWarn(t *testing.T) {
	m := newModerator(3)
	cfg := modCfg()
	cfg.DeleteOnWarn = true
	sender := "alice@s.whatsapp.net"

	for i := 0; i < 3; i++ {
		msg := groupMsg(sender, "x")
		m.Check(context.Background(), msg, msg.Body, cfg, groupInfo())
	}
	msg := groupMsg(sender, "x")
	v := m.Check(context.Background(), msg, msg.Body, cfg, groupInfo())
	if v == nil || !v.ShouldDelete {
		t.Fatalf("deleteOnWarn should delete on first strike, got %+v", v)
	}
	if v.Remove {
		t.Fatal("first strike must not be removal-worthy")
	}
}

func TestCheck_SpamActsBeforeLinkCheck(t *testing.T) {
	m := newModerator(3)
	cfg := modCfg()
	sender := "alice@s.whatsapp.net"

	for i := 0; i < 3; i++ {
		msg := groupMsg(sender, "filler")
		m.Check(context.Background(), msg, msg.Body, cfg, groupInfo())
	}

	// Over quota AND carrying a link: the spam verdict must win.
	msg := groupMsg(sender, "https://example.com")
	v := m.Check(context.Background(), msg, msg.Body, cfg, groupInfo())
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.ShouldDelete {
		t.Fatalf("spam warning (deleteOnWarn off) should win over link delete, got %+v", v)
	}
}

func TestLexicon_ContainsLink(t *testing.T) {
	lex := DefaultLexicon()
	for _, text := range []string{
		"https://example.com/x",
		"visit www.shop.example now",
		"deal at bit.ly/abc",
	} {
		if !lex.ContainsLink(text) {
			t.Fatalf("expected link detection in %q", text)
		}
	}
	if lex.ContainsLink("no links here, just words") {
		t.Fatal("false positive link detection")
	}
}
