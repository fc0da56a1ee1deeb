package capability

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chaperone/internal/waterfall"
)

type recordingImages struct{ prompts []string }

func (r *recordingImages) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	r.prompts = append(r.prompts, prompt)
	return []byte{0x89, 0x50}, nil
}

type failingFetcher struct{ t *testing.T }

func (f *failingFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	f.t.Fatalf("page fetcher must not be invoked, got %s", url)
	return "", "", nil
}

func chainSetup(t *testing.T) (*waterfall.Waterfall, *Deps, *fakeTransport, *fakeProvider, func() string) {
	provider := &fakeProvider{reply: "sure"}
	transport := &fakeTransport{}
	deps := testDeps(provider, transport, newFakeStore())
	deps.Fetch = &failingFetcher{t: t}
	deps.Images = &recordingImages{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := waterfall.New(logger, capabilityHandlers(deps)...)

	var winner string
	w.OnWin(func(h string, _ time.Duration) { winner = h })
	return w, deps, transport, provider, func() string { return winner }
}

func capabilityHandlers(deps *Deps) []waterfall.Handler {
	return TextHandlers(deps, nil, func() time.Time { return reminderNow })
}

func TestOrder_ImageGenerationBeatsURLSummary(t *testing.T) {
	w, deps, transport, _, winner := chainSetup(t)
	images := deps.Images.(*recordingImages)

	res := w.Run(context.Background(), "draw me a picture of https://example.com/cat please", directCtx())
	if res == nil || !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if winner() != "media_generation" {
		t.Fatalf("winner = %q, want media_generation", winner())
	}
	if len(images.prompts) != 1 {
		t.Fatalf("image generator invoked %d times", len(images.prompts))
	}
	if len(transport.media) != 1 {
		t.Fatalf("expected one media send, got %d", len(transport.media))
	}
}

func TestOrder_PollVoteTriedBeforeCreate(t *testing.T) {
	w, _, _, _, winner := chainSetup(t)

	// "vote 1" with no active poll is claimed by the vote handler; creation
	// is never consulted.
	res := w.Run(context.Background(), "vote 1", directCtx())
	if winner() != "poll_vote" {
		t.Fatalf("winner = %q, want poll_vote", winner())
	}
	if !strings.Contains(res.Text, "no active poll") {
		t.Fatalf("unexpected reply: %q", res.Text)
	}
}

func TestOrder_ReminderScenario(t *testing.T) {
	w, _, _, provider, winner := chainSetup(t)

	res := w.Run(context.Background(), "remind me to call mom in 30 minutes", directCtx())
	if winner() != "reminder_create" {
		t.Fatalf("winner = %q, want reminder_create", winner())
	}
	if !strings.Contains(res.Text, "call mom") {
		t.Fatalf("confirmation should name the task: %q", res.Text)
	}
	if provider.calls != 0 {
		t.Fatalf("no model call expected for reminder creation, got %d", provider.calls)
	}
}

func TestOrder_FallbackNeverDeclines(t *testing.T) {
	w, _, _, provider, winner := chainSetup(t)

	res := w.Run(context.Background(), "how are you today?", directCtx())
	if winner() != "chat" {
		t.Fatalf("winner = %q, want chat", winner())
	}
	if res == nil || res.Text != "sure" {
		t.Fatalf("expected model reply, got %+v", res)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one model call, got %d", provider.calls)
	}
}

func TestOrder_SnoozeNotSwallowedByCreate(t *testing.T) {
	w, _, _, _, winner := chainSetup(t)

	w.Run(context.Background(), "snooze", directCtx())
	if winner() != "reminder_snooze" {
		t.Fatalf("winner = %q, want reminder_snooze", winner())
	}
}
