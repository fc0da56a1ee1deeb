package dispatch

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"chaperone/internal/domain"
)

type captureTransport struct {
	texts  []string
	quotes []*domain.InboundMessage
	voices int
}

func (t *captureTransport) SendText(ctx context.Context, chatID, text string, quote *domain.InboundMessage) error {
	t.texts = append(t.texts, text)
	t.quotes = append(t.quotes, quote)
	return nil
}

func (t *captureTransport) SendMedia(ctx context.Context, chatID string, media domain.Media, quote *domain.InboundMessage) error {
	return nil
}

func (t *captureTransport) SendVoice(ctx context.Context, chatID string, audio []byte, quote *domain.InboundMessage) error {
	t.voices++
	t.quotes = append(t.quotes, quote)
	return nil
}

func (t *captureTransport) SetPresence(ctx context.Context, chatID string, p domain.Presence) error {
	return nil
}

func (t *captureTransport) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	return nil, nil
}

func (t *captureTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return nil
}

func newDispatcher(tr *captureTransport, maxChunk int) *Dispatcher {
	d := New(Config{
		Transport: tr,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxChunk:  maxChunk,
		Delay:     time.Millisecond,
	})
	d.sleep = func(time.Duration) {}
	return d
}

func direct() *domain.MessageContext {
	return &domain.MessageContext{ChatID: "c", IsGroup: false}
}

func group() *domain.MessageContext {
	return &domain.MessageContext{ChatID: "g", IsGroup: true}
}

func TestDispatch_EmptyResultSendsNothing(t *testing.T) {
	tr := &captureTransport{}
	d := newDispatcher(tr, 100)

	for _, res := range []*domain.CapabilityResult{nil, domain.TextResult(""), domain.TextResult("   ")} {
		if err := d.Dispatch(context.Background(), &domain.InboundMessage{}, direct(), res); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if len(tr.texts) != 0 || tr.voices != 0 {
		t.Fatalf("expected no sends, got %d texts %d voices", len(tr.texts), tr.voices)
	}
}

func TestDispatch_QuotesOnlyInGroups(t *testing.T) {
	tr := &captureTransport{}
	d := newDispatcher(tr, 100)
	msg := &domain.InboundMessage{ID: "m1"}

	d.Dispatch(context.Background(), msg, direct(), domain.TextResult("hi"))
	if tr.quotes[0] != nil {
		t.Fatal("direct chats must not quote")
	}

	d.Dispatch(context.Background(), msg, group(), domain.TextResult("hi"))
	if tr.quotes[1] != msg {
		t.Fatal("group sends must quote the original message")
	}
}

func TestDispatch_VoiceResult(t *testing.T) {
	tr := &captureTransport{}
	d := newDispatcher(tr, 100)

	res := &domain.CapabilityResult{Text: "spoken", Audio: []byte{1, 2, 3}, Success: true}
	if err := d.Dispatch(context.Background(), &domain.InboundMessage{}, group(), res); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if tr.voices != 1 {
		t.Fatalf("expected one voice send, got %d", tr.voices)
	}
	if len(tr.texts) != 0 {
		t.Fatal("voice result must not also send text")
	}
}

func TestDispatch_ChunksInOrder(t *testing.T) {
	tr := &captureTransport{}
	d := newDispatcher(tr, 40)

	text := "First paragraph here.\n\nSecond paragraph follows it.\n\nThird one closes."
	if err := d.Dispatch(context.Background(), &domain.InboundMessage{}, direct(), domain.TextResult(text)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(tr.texts) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(tr.texts))
	}
	if joined := strings.Join(tr.texts, " "); !strings.Contains(joined, "Third one closes.") {
		t.Fatalf("content lost in chunking: %q", joined)
	}
	for _, c := range tr.texts {
		if len(c) > 40 {
			t.Fatalf("chunk exceeds limit: %d chars", len(c))
		}
	}
}

func TestSplit(t *testing.T) {
	if got := Split("", 10); got != nil {
		t.Fatalf("empty input: %v", got)
	}
	if got := Split("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short input: %v", got)
	}

	// Prefers the paragraph break over a mid-sentence cut.
	text := "Alpha beta gamma.\n\nDelta epsilon zeta eta theta."
	got := Split(text, 30)
	if got[0] != "Alpha beta gamma." {
		t.Fatalf("expected paragraph-boundary cut, got %q", got[0])
	}

	// A single oversized token still gets cut.
	got = Split(strings.Repeat("x", 25), 10)
	if len(got) != 3 {
		t.Fatalf("oversized token: %v", got)
	}
}

func TestSplit_ForcedCutKeepsValidUTF8(t *testing.T) {
	// 40 three-byte runes with no whitespace: every cut is forced.
	text := strings.Repeat("日", 40)
	got := Split(text, 50)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %v", got)
	}
	var rejoined strings.Builder
	for i, chunk := range got {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, chunk)
		}
		if len(chunk) > 50 {
			t.Fatalf("chunk %d is %d bytes", i, len(chunk))
		}
		rejoined.WriteString(chunk)
	}
	if rejoined.String() != text {
		t.Fatalf("chunks lost content: %q", rejoined.String())
	}
}
