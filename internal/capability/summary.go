package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var summaryRe = regexp.MustCompile(`(?i)^(?:!|/)?(?:summarize|sum\s+up|recap)\s+(?:the\s+|this\s+|our\s+)?(?:chat|conversation|group|discussion)\s*$`)

const summaryTurns = 50

// ChatSummary condenses the recent conversation history on request.
type ChatSummary struct {
	deps *Deps
}

func NewChatSummary(deps *Deps) *ChatSummary { return &ChatSummary{deps: deps} }

func (h *ChatSummary) Name() string { return "chat_summary" }

func (h *ChatSummary) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagChatSummary) || h.deps.Store == nil {
		return decline()
	}
	if !summaryRe.MatchString(strings.TrimSpace(text)) {
		return decline()
	}

	turns, err := h.deps.Store.RecentTurns(ctx, chatKey(mc), summaryTurns)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if len(turns) == 0 {
		return domain.TextResult("There's no recorded conversation to summarize yet."), nil
	}

	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	summary, err := h.deps.chat(ctx,
		"Summarize the conversation below in a handful of bullet points. Keep names and decisions.",
		b.String())
	if err != nil {
		return nil, fmt.Errorf("summarizing chat: %w", err)
	}
	return domain.TextResult(summary), nil
}
