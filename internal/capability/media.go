package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

// Intent phrases for media generation. These must stay greedy enough to win
// before the URL and search handlers lower in the chain: a message asking to
// "draw a picture of the site at https://..." is an image request, not a
// summarization request.
var (
	imageIntentRe = regexp.MustCompile(`(?i)^(?:please\s+)?(?:can you\s+|could you\s+)?(?:draw|paint|generate|create|make)\s+(?:me\s+)?(?:an?\s+)?(?:image|picture|photo|drawing|illustration|logo|sticker image)\s*(?:of|showing|with)?\s*(.*)$`)
	docIntentRe   = regexp.MustCompile(`(?i)^(?:please\s+)?(?:can you\s+|could you\s+)?(?:generate|create|make|write)\s+(?:me\s+)?a\s+(?:pdf|document)\s*(?:about|on|for|with)?\s*(.*)$`)
)

// MediaGen handles image and document generation requests.
type MediaGen struct {
	deps *Deps
}

func NewMediaGen(deps *Deps) *MediaGen { return &MediaGen{deps: deps} }

func (h *MediaGen) Name() string { return "media_generation" }

func (h *MediaGen) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagMediaGeneration) {
		return decline()
	}

	trimmed := strings.TrimSpace(text)
	if m := imageIntentRe.FindStringSubmatch(trimmed); m != nil {
		return h.generateImage(ctx, strings.TrimSpace(m[1]), mc)
	}
	if m := docIntentRe.FindStringSubmatch(trimmed); m != nil {
		return h.generateDocument(ctx, strings.TrimSpace(m[1]), mc)
	}
	return decline()
}

func (h *MediaGen) generateImage(ctx context.Context, prompt string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if prompt == "" {
		return domain.TextResult("What should the image show?"), nil
	}
	if h.deps.Images == nil {
		return nil, fmt.Errorf("no image backend configured")
	}

	data, err := h.deps.Images.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}

	err = h.deps.Transport.SendMedia(ctx, mc.ChatID, domain.Media{
		Kind:     domain.KindImage,
		MimeType: "image/png",
		Data:     data,
		Filename: "image.png",
		Caption:  prompt,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("sending image: %w", err)
	}
	// The image is already delivered: an empty result suppresses a second send.
	return domain.TextResult(""), nil
}

func (h *MediaGen) generateDocument(ctx context.Context, topic string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if topic == "" {
		return domain.TextResult("What should the document cover?"), nil
	}

	body, err := h.deps.chat(ctx,
		"You write well-structured plain-text documents. Produce only the document body.",
		"Write a document about: "+topic)
	if err != nil {
		return nil, fmt.Errorf("document draft: %w", err)
	}

	err = h.deps.Transport.SendMedia(ctx, mc.ChatID, domain.Media{
		Kind:     domain.KindDocument,
		MimeType: "text/plain",
		Data:     []byte(body),
		Filename: "document.txt",
		Caption:  topic,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("sending document: %w", err)
	}
	return domain.TextResult(""), nil
}
