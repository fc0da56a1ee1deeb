package engine

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"chaperone/internal/bus"
	"chaperone/internal/capability"
	"chaperone/internal/config"
	"chaperone/internal/dispatch"
	"chaperone/internal/domain"
	"chaperone/internal/gate"
	"chaperone/internal/groupgate"
	"chaperone/internal/waterfall"
)

const botJID = "bot@s.whatsapp.net"

type sentText struct {
	chat   string
	text   string
	quoted bool
}

// captureTransport records every outbound call.
type captureTransport struct {
	mu        sync.Mutex
	texts     []sentText
	voices    int
	media     int
	deletes   []string
	presences []domain.Presence
	group     *domain.GroupInfo
}

func (t *captureTransport) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, sentText{chat: chatID, text: text, quoted: quote != nil})
	return nil
}

func (t *captureTransport) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.media++
	return nil
}

func (t *captureTransport) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.voices++
	return nil
}

func (t *captureTransport) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presences = append(t.presences, p)
	return nil
}

func (t *captureTransport) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	return t.group, nil
}

func (t *captureTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletes = append(t.deletes, messageID)
	return nil
}

func (t *captureTransport) sentTexts() []sentText {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentText(nil), t.texts...)
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	panic bool
}

func (h *recordingHandler) Name() string { return "recorder" }

func (h *recordingHandler) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	h.mu.Lock()
	h.calls = append(h.calls, text)
	h.mu.Unlock()
	if h.panic {
		panic("handler exploded")
	}
	return domain.TextResult("ok: " + text), nil
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type testHarness struct {
	engine    *Engine
	transport *captureTransport
	handler   *recordingHandler
	cfg       *config.Config
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *testHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.General.BotName = "chaperone"
	cfg.Group.ResponseRate = 0
	cfg.Group.MinMessageLength = 0
	cfg.Group.SpamDetection = false
	cfg.Group.BlockLinks = false
	cfg.Group.BlockForwards = false
	if mutate != nil {
		mutate(cfg)
	}

	transport := &captureTransport{group: &domain.GroupInfo{
		Name: "testers",
		Participants: []domain.Participant{
			{ID: "admin@s.whatsapp.net", IsAdmin: true},
			{ID: "alice@s.whatsapp.net"},
		},
	}}
	handler := &recordingHandler{}

	deps := &capability.Deps{
		Flags:     cfg,
		Config:    cfg,
		Transport: transport,
		Logger:    logger,
	}
	chain := waterfall.New(logger, handler)
	nonText := capability.NewNonText(deps, capability.NewSticker(deps), capability.NewFallback(deps))

	eng := New(Config{
		Cfg:  cfg,
		Gate: gate.New(gate.GateConfig{SelfID: func(string) string { return botJID }, Logger: logger}),
		Etiquette: groupgate.NewEtiquette(groupgate.EtiquetteConfig{
			Random: func() float64 { return 0.999 },
			Logger: logger,
		}),
		Moderator: groupgate.NewModerator(groupgate.ModeratorConfig{Logger: logger}),
		Bus:       bus.New(8, logger),
		Flags:     cfg,
		Logger:    logger,
		BotID:     func(string) string { return botJID },
		Pipelines: map[string]*Pipeline{
			"whatsapp": {
				Transport:  transport,
				Chain:      chain,
				NonText:    nonText,
				Dispatcher: dispatch.New(dispatch.Config{Transport: transport, Logger: logger}),
			},
		},
	})
	return &testHarness{engine: eng, transport: transport, handler: handler, cfg: cfg}
}

func inbound(sender, chat string, group bool, body string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:    "whatsapp",
		ID:         "m1",
		ChatID:     chat,
		SenderID:   sender,
		SenderName: "Alice",
		IsGroup:    group,
		Body:       body,
		Timestamp:  time.Now(),
	}
}

func TestHandleBatch_SelfMessageSilentlyDropped(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{
		inbound(botJID, "chat1", false, "hello me"),
	})

	if h.handler.callCount() != 0 {
		t.Fatalf("handler invoked for self message")
	}
	if len(h.transport.sentTexts()) != 0 {
		t.Fatalf("transport called for self message: %+v", h.transport.sentTexts())
	}
}

func TestHandleBatch_DirectMessageAnswered(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{
		inbound("alice@s.whatsapp.net", "alice@s.whatsapp.net", false, "hi there"),
	})

	texts := h.transport.sentTexts()
	if len(texts) != 1 || texts[0].text != "ok: hi there" {
		t.Fatalf("unexpected sends: %+v", texts)
	}
	if texts[0].quoted {
		t.Fatal("direct replies must not quote")
	}
}

func TestGroup_UnaddressedMessageDropped(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{
		inbound("alice@s.whatsapp.net", "group1@g.us", true, "just chatting with folks"),
	})

	if h.handler.callCount() != 0 {
		t.Fatal("handler invoked for unaddressed group message")
	}
}

func TestGroup_MentionAnsweredWithQuoteAndPresence(t *testing.T) {
	h := newHarness(t, nil)

	msg := inbound("alice@s.whatsapp.net", "group1@g.us", true, "hey @chaperone what's up")
	msg.MentionIDs = []string{botJID}
	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{msg})

	texts := h.transport.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("expected one reply, got %+v", texts)
	}
	if !texts[0].quoted {
		t.Fatal("group replies must quote the original")
	}
	if len(h.transport.presences) != 1 || h.transport.presences[0] != domain.PresenceComposing {
		t.Fatalf("expected composing presence, got %v", h.transport.presences)
	}
}

func TestGroup_ResponseRateHundredAlwaysAnswers(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Group.ResponseRate = 100
	})

	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{
		inbound("alice@s.whatsapp.net", "group1@g.us", true, "we should plan the trip for next month"),
	})

	if h.handler.callCount() != 1 {
		t.Fatalf("expected answer at 100%% response rate, got %d calls", h.handler.callCount())
	}
}

func TestGroup_LinkDeletedAndWarned(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Group.BlockLinks = true
	})

	msg := inbound("alice@s.whatsapp.net", "group1@g.us", true, "check https://spam.example/deal")
	msg.MentionIDs = []string{botJID}
	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{msg})

	if len(h.transport.deletes) != 1 || h.transport.deletes[0] != "m1" {
		t.Fatalf("expected delete of m1, got %v", h.transport.deletes)
	}
	texts := h.transport.sentTexts()
	if len(texts) != 1 || texts[0].quoted {
		t.Fatalf("expected one unquoted warning, got %+v", texts)
	}
	if h.handler.callCount() != 0 {
		t.Fatal("moderated message must not reach the waterfall")
	}
}

func TestGroup_AdminBypassesModeration(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Group.BlockLinks = true
	})

	msg := inbound("admin@s.whatsapp.net", "group1@g.us", true, "see https://example.com/agenda @chaperone")
	msg.MentionIDs = []string{botJID}
	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{msg})

	if len(h.transport.deletes) != 0 {
		t.Fatalf("admin message deleted: %v", h.transport.deletes)
	}
	if h.handler.callCount() != 1 {
		t.Fatal("admin message should be answered normally")
	}
}

func TestGroup_NonTextUnaddressedIgnored(t *testing.T) {
	h := newHarness(t, nil)

	msg := inbound("alice@s.whatsapp.net", "group1@g.us", true, "")
	msg.MimeType = "image/jpeg"
	msg.ImageCaption = "look at this"
	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{msg})

	if len(h.transport.sentTexts()) != 0 {
		t.Fatalf("unaddressed group image answered: %+v", h.transport.sentTexts())
	}
}

func TestHandleBatch_PanicFatalToOneMessageOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.handler.panic = true

	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{
		inbound("alice@s.whatsapp.net", "alice@s.whatsapp.net", false, "boom"),
	})

	h.handler.panic = false
	h.engine.HandleBatch(context.Background(), []domain.InboundMessage{
		inbound("alice@s.whatsapp.net", "alice@s.whatsapp.net", false, "still alive?"),
	})

	texts := h.transport.sentTexts()
	if len(texts) != 1 || texts[0].text != "ok: still alive?" {
		t.Fatalf("engine did not survive handler panic: %+v", texts)
	}
}

func TestHandleParticipantsChanged_Welcome(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.HandleParticipantsChanged(context.Background(), domain.ParticipantsEvent{
		Channel:        "whatsapp",
		ChatID:         "group1@g.us",
		Action:         domain.ParticipantJoin,
		ParticipantIDs: []string{"carol@s.whatsapp.net"},
	})

	texts := h.transport.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("expected one greeting, got %+v", texts)
	}
	if got := texts[0].text; !strings.Contains(got, "@carol") {
		t.Fatalf("greeting should mention joiner: %q", got)
	}
}

func TestHandleParticipantsChanged_FlagOff(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Features[config.FlagWelcome] = false
	})

	h.engine.HandleParticipantsChanged(context.Background(), domain.ParticipantsEvent{
		Channel:        "whatsapp",
		ChatID:         "group1@g.us",
		Action:         domain.ParticipantJoin,
		ParticipantIDs: []string{"carol@s.whatsapp.net"},
	})

	if len(h.transport.sentTexts()) != 0 {
		t.Fatal("greeting sent with welcome flag off")
	}
}

func TestBuildContext(t *testing.T) {
	h := newHarness(t, nil)

	msg := inbound("alice@s.whatsapp.net", "group1@g.us", true, "can you send me a voice note about this")
	msg.QuotedSender = "bot:12@s.whatsapp.net"
	msg.QuotedText = "earlier reply"
	mc := h.engine.BuildContext(&msg)

	if !mc.ReplyToBot {
		t.Fatal("quoted bot message not detected (device suffix)")
	}
	if !mc.RespondWithVoice {
		t.Fatal("voice request not detected")
	}
	if mc.BotMentioned {
		t.Fatal("false mention")
	}

	msg2 := inbound("alice@s.whatsapp.net", "group1@g.us", true, "@chaperone hello")
	mc2 := h.engine.BuildContext(&msg2)
	if !mc2.BotMentioned {
		t.Fatal("name mention not detected")
	}
}
