package groupgate

import (
	"io"
	"log/slog"
	"testing"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGroupCfg() config.GroupConfig {
	return config.GroupConfig{
		ResponseRate:     15,
		MinMessageLength: 5,
	}
}

func newEtiquette(random func() float64) *Etiquette {
	return NewEtiquette(EtiquetteConfig{Random: random, Logger: testLogger()})
}

func ctxGroup() *domain.MessageContext {
	return &domain.MessageContext{IsGroup: true, GroupName: "testers", SenderID: "alice@s.whatsapp.net"}
}

func TestDecide_MentionIsHigh(t *testing.T) {
	e := newEtiquette(nil)
	mc := ctxGroup()
	mc.BotMentioned = true

	// A mention wins even for a message that would otherwise be suppressed.
	d := e.Decide("ok", mc, testGroupCfg())
	if !d.ShouldRespond || d.Priority != domain.PriorityHigh {
		t.Fatalf("expected high-priority response, got %+v", d)
	}
}

func TestDecide_ReplyToBotIsHigh(t *testing.T) {
	e := newEtiquette(nil)
	mc := ctxGroup()
	mc.ReplyToBot = true

	d := e.Decide("hm", mc, testGroupCfg())
	if !d.ShouldRespond || d.Priority != domain.PriorityHigh {
		t.Fatalf("expected high-priority response, got %+v", d)
	}
}

func TestDecide_BelowMinLength(t *testing.T) {
	e := newEtiquette(func() float64 { return 0 }) // would always respond if reached
	d := e.Decide("lol", ctxGroup(), testGroupCfg())
	if d.ShouldRespond {
		t.Fatalf("expected suppression for 3-char message, got %+v", d)
	}
	if d.Priority != domain.PriorityNone {
		t.Fatalf("expected priority none, got %s", d.Priority)
	}
}

func TestDecide_BanterSuppressed(t *testing.T) {
	e := newEtiquette(func() float64 { return 0 })
	cfg := testGroupCfg()
	cfg.MinMessageLength = 1

	for _, text := range []string{"lol", "lmao", "hahahaha", "jajaja", "kkkkk", "thanks", "xD"} {
		if d := e.Decide(text, ctxGroup(), cfg); d.ShouldRespond {
			t.Fatalf("banter %q should be suppressed, got %+v", text, d)
		}
	}
}

func TestDecide_EmojiOnlySuppressed(t *testing.T) {
	e := newEtiquette(func() float64 { return 0 })
	cfg := testGroupCfg()
	cfg.MinMessageLength = 1

	if d := e.Decide("😂😂😂🔥🔥", ctxGroup(), cfg); d.ShouldRespond {
		t.Fatalf("emoji-only should be suppressed, got %+v", d)
	}
}

func TestDecide_RepeatedRunSuppressed(t *testing.T) {
	e := newEtiquette(func() float64 { return 0 })
	cfg := testGroupCfg()
	cfg.MinMessageLength = 1

	if d := e.Decide("aaaaaaaa", ctxGroup(), cfg); d.ShouldRespond {
		t.Fatalf("repeated-run should be suppressed, got %+v", d)
	}
}

func TestDecide_QuestionIsMedium(t *testing.T) {
	e := newEtiquette(func() float64 { return 0.99 }) // draw would miss
	d := e.Decide("does anyone know a good plumber?", ctxGroup(), testGroupCfg())
	if !d.ShouldRespond || d.Priority != domain.PriorityMedium {
		t.Fatalf("expected medium-priority response, got %+v", d)
	}

	d = e.Decide("where did everyone go yesterday", ctxGroup(), testGroupCfg())
	if !d.ShouldRespond || d.Priority != domain.PriorityMedium {
		t.Fatalf("interrogative opener should be a question, got %+v", d)
	}
}

func TestDecide_ResponseRate100AlwaysLow(t *testing.T) {
	cfg := testGroupCfg()
	cfg.ResponseRate = 100

	for _, draw := range []float64{0, 0.5, 0.999} {
		e := newEtiquette(func() float64 { return draw })
		d := e.Decide("we should plan the trip for next month", ctxGroup(), cfg)
		if !d.ShouldRespond || d.Priority != domain.PriorityLow {
			t.Fatalf("draw=%v: expected low-priority response, got %+v", draw, d)
		}
	}
}

func TestDecide_ResponseRate0NeverResponds(t *testing.T) {
	cfg := testGroupCfg()
	cfg.ResponseRate = 0

	e := newEtiquette(func() float64 { return 0 })
	d := e.Decide("we should plan the trip for next month", ctxGroup(), cfg)
	if d.ShouldRespond {
		t.Fatalf("responseRate=0 must disable responses, got %+v", d)
	}
}

func TestDecide_DrawBoundary(t *testing.T) {
	cfg := testGroupCfg()
	cfg.ResponseRate = 30

	e := newEtiquette(func() float64 { return 0.29 })
	if d := e.Decide("we should plan the trip for next month", ctxGroup(), cfg); !d.ShouldRespond {
		t.Fatalf("draw under rate should respond, got %+v", d)
	}

	e = newEtiquette(func() float64 { return 0.31 })
	if d := e.Decide("we should plan the trip for next month", ctxGroup(), cfg); d.ShouldRespond {
		t.Fatalf("draw over rate should not respond, got %+v", d)
	}
}
