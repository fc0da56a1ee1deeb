package capability

import (
	"context"
	"fmt"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

// NonText routes image, audio, video, and document messages. Each kind has
// its own short fixed chain; these never reach the text waterfall.
type NonText struct {
	deps     *Deps
	sticker  *Sticker
	fallback *Fallback
}

func NewNonText(deps *Deps, sticker *Sticker, fallback *Fallback) *NonText {
	return &NonText{deps: deps, sticker: sticker, fallback: fallback}
}

// Handle dispatches on content kind. A nil result with ErrNotApplicable
// means the kind has no handler at all (stickers, unknown).
func (n *NonText) Handle(ctx context.Context, msg *domain.InboundMessage, kind domain.ContentKind, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	switch kind {
	case domain.KindImage:
		return n.image(ctx, msg, text, mc)
	case domain.KindAudio:
		return n.audio(ctx, msg, mc)
	case domain.KindVideo:
		return n.video(ctx, msg, text, mc)
	case domain.KindDocument:
		return n.document(ctx, msg, mc)
	default:
		return decline()
	}
}

// image: sticker conversion when the caption asks for it, otherwise a
// vision description.
func (n *NonText) image(ctx context.Context, msg *domain.InboundMessage, caption string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if n.sticker != nil && stickerRe.MatchString(strings.TrimSpace(caption)) && n.deps.enabled(config.FlagStickers) {
		return n.sticker.FromMessage(ctx, msg, mc)
	}

	if n.deps.Vision == nil || n.deps.Download == nil {
		return domain.TextResult("I can't look at images right now."), nil
	}
	data, mime, err := n.deps.Download.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("downloading image: %w", err)
	}

	prompt := caption
	if prompt == "" {
		prompt = "Describe this image briefly."
	}
	desc, err := n.deps.Vision.DescribeImage(ctx, data, mime, prompt)
	if err != nil {
		return nil, fmt.Errorf("describing image: %w", err)
	}
	return domain.TextResult(desc), nil
}

// audio: transcribe the voice note and answer it like a text message, with
// a voice reply preferred.
func (n *NonText) audio(ctx context.Context, msg *domain.InboundMessage, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if n.deps.Transcribe == nil || n.deps.Download == nil {
		return domain.TextResult("I can't listen to voice notes right now."), nil
	}
	data, mime, err := n.deps.Download.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("downloading audio: %w", err)
	}
	transcript, err := n.deps.Transcribe.Transcribe(ctx, data, mime)
	if err != nil {
		return nil, fmt.Errorf("transcribing audio: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return domain.TextResult("I couldn't make out anything in that voice note."), nil
	}

	// People who speak expect to be spoken back to.
	voiceCtx := *mc
	voiceCtx.RespondWithVoice = true
	return n.fallback.Handle(ctx, transcript, &voiceCtx)
}

func (n *NonText) video(ctx context.Context, msg *domain.InboundMessage, caption string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if caption != "" {
		// Answer the caption; the video itself is not inspected.
		return n.fallback.Handle(ctx, caption, mc)
	}
	return domain.TextResult("I can't watch videos, but tell me about it and I'll chime in."), nil
}

func (n *NonText) document(ctx context.Context, msg *domain.InboundMessage, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if n.deps.Download == nil {
		return domain.TextResult("I received the document but can't read attachments right now."), nil
	}
	data, mime, err := n.deps.Download.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}
	if !strings.HasPrefix(mime, "text/") && mime != "application/json" {
		return domain.TextResult(fmt.Sprintf("I can only read plain-text documents for now (got %s).", mime)), nil
	}
	body := string(data)
	if len(body) > maxPageChars {
		body = body[:maxPageChars]
	}

	summary, err := n.deps.chat(ctx,
		"Summarize the following document in a short paragraph.",
		body)
	if err != nil {
		return nil, fmt.Errorf("summarizing document: %w", err)
	}
	return domain.TextResult(summary), nil
}
