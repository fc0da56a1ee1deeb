package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var searchIntentRe = regexp.MustCompile(`(?i)^(?:please\s+)?(?:can you\s+|could you\s+)?(?:search(?:\s+the\s+web)?\s+for|look\s+up|google|busca|web search:?)\s+(.+)$`)

// WebSearch answers explicit search requests with grounded results.
type WebSearch struct {
	deps *Deps
}

func NewWebSearch(deps *Deps) *WebSearch { return &WebSearch{deps: deps} }

func (h *WebSearch) Name() string { return "web_search" }

func (h *WebSearch) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagWebSearch) || h.deps.Search == nil {
		return decline()
	}

	m := searchIntentRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}
	query := strings.Trim(strings.TrimSpace(m[1]), `"?`)
	if query == "" {
		return decline()
	}

	results, err := h.deps.Search.Search(ctx, query, 5)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if strings.TrimSpace(results) == "" {
		return domain.TextResult(fmt.Sprintf("I couldn't find anything for %q.", query)), nil
	}

	answer, err := h.deps.chat(ctx,
		"Answer the user's question from the search results below. Cite result URLs inline where relevant.",
		fmt.Sprintf("Question: %s\n\nSearch results:\n%s", query, results))
	if err != nil {
		return nil, fmt.Errorf("answering from results: %w", err)
	}
	return domain.TextResult(answer), nil
}
