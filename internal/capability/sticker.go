package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var stickerRe = regexp.MustCompile(`(?i)^(?:!|/)?(?:sticker|make\s+(?:this\s+)?a\s+sticker)\s*$`)

// Sticker turns the quoted image into a sticker. As a text command it needs
// a reply to an image message; the image waterfall also consults it for
// images whose caption is the sticker command.
type Sticker struct {
	deps *Deps
}

func NewSticker(deps *Deps) *Sticker { return &Sticker{deps: deps} }

func (h *Sticker) Name() string { return "sticker" }

func (h *Sticker) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagStickers) || h.deps.Download == nil {
		return decline()
	}
	if !stickerRe.MatchString(strings.TrimSpace(text)) {
		return decline()
	}
	if mc.QuotedText == "" && !mc.ReplyToBot {
		// Without a quoted message there is no image to convert.
		return domain.TextResult("Reply to an image with \"sticker\" and I'll convert it."), nil
	}
	return h.FromMessage(ctx, &domain.InboundMessage{
		Channel: mc.Channel,
		ID:      mc.ChatID, // quoted download is resolved by the channel
		ChatID:  mc.ChatID,
	}, mc)
}

// FromMessage converts the given image message into a sticker send.
func (h *Sticker) FromMessage(ctx context.Context, msg *domain.InboundMessage, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	data, mime, err := h.deps.Download.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("downloading image: %w", err)
	}
	if !strings.HasPrefix(mime, "image/") {
		return domain.TextResult("That doesn't look like an image I can turn into a sticker."), nil
	}

	err = h.deps.Transport.SendMedia(ctx, mc.ChatID, domain.Media{
		Kind:     domain.KindSticker,
		MimeType: "image/webp",
		Data:     data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("sending sticker: %w", err)
	}
	return domain.TextResult(""), nil
}
