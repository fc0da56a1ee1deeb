package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"chaperone/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "whatsapp", ChatID: "1", Body: "hi"})

	select {
	case msg := <-b.Subscribe():
		if msg.Body != "hi" {
			t.Fatalf("expected 'hi', got %q", msg.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishEvent(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.PublishEvent(domain.ParticipantsEvent{
		Channel: "whatsapp",
		ChatID:  "g1",
		Action:  domain.ParticipantJoin,
	})

	select {
	case ev := <-b.Events():
		if ev.Action != domain.ParticipantJoin {
			t.Fatalf("expected join, got %s", ev.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()

	// Must not panic.
	b.Publish(domain.InboundMessage{Channel: "cli"})
	b.PublishEvent(domain.ParticipantsEvent{Channel: "cli"})
	b.Close() // double close is safe
}

func TestEventBufferFullDrops(t *testing.T) {
	b := New(1, testLogger())
	defer b.Close()

	b.PublishEvent(domain.ParticipantsEvent{ChatID: "a"})
	b.PublishEvent(domain.ParticipantsEvent{ChatID: "b"}) // dropped, must not block

	ev := <-b.Events()
	if ev.ChatID != "a" {
		t.Fatalf("expected first event retained, got %q", ev.ChatID)
	}
}
