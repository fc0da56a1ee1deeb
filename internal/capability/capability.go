// Package capability implements the optional message handlers consulted by
// the waterfall. Every handler follows the same contract: recognize the
// input as its own or decline with domain.ErrNotApplicable without having
// performed any side effect.
package capability

import (
	"context"
	"log/slog"

	"chaperone/internal/config"
	"chaperone/internal/domain"
	"chaperone/internal/sandbox"
)

// Searcher runs a web search and returns a formatted result block.
type Searcher interface {
	Search(ctx context.Context, query string, max int) (string, error)
}

// PageFetcher loads a web page and returns its title and readable text.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (title, text string, err error)
}

// ImageGenerator renders an image from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// ImageDescriber answers a prompt about an image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, image []byte, mime, prompt string) (string, error)
}

// Transcriber converts a voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// Speaker synthesizes speech for voice replies.
type Speaker interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MediaDownloader retrieves the payload of a media message from its channel.
type MediaDownloader interface {
	Download(ctx context.Context, msg *domain.InboundMessage) (data []byte, mime string, err error)
}

// Agent is the tool-orchestration loop behind the agentic fallback.
type Agent interface {
	Respond(ctx context.Context, text string, mc *domain.MessageContext) (string, error)
}

// Deps bundles the collaborators shared across handlers. Optional fields may
// be nil; handlers that need a missing collaborator decline.
type Deps struct {
	Provider  domain.Provider
	Flags     domain.Flags
	Store     domain.HistoryStore
	Transport domain.Transport
	Config    *config.Config
	Logger    *slog.Logger

	Agent      Agent
	Search     Searcher
	Fetch      PageFetcher
	Images     ImageGenerator
	Vision     ImageDescriber
	Transcribe Transcriber
	Speech     Speaker
	Download   MediaDownloader
	Sandbox    *sandbox.Docker
}

func (d *Deps) enabled(flag string) bool {
	return d.Flags != nil && d.Flags.IsEnabled(flag)
}

// chatKey is the per-chat storage key shared by history, memory, and
// reminders.
func chatKey(mc *domain.MessageContext) string {
	return mc.Channel + ":" + mc.ChatID
}

func decline() (*domain.CapabilityResult, error) {
	return nil, domain.ErrNotApplicable
}

// chat performs a single-turn model call with the configured default model.
func (d *Deps) chat(ctx context.Context, system string, user string) (string, error) {
	resp, err := d.Provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
