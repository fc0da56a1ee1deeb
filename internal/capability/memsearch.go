package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var memSearchRe = regexp.MustCompile(`(?i)^(?:what\s+do\s+you\s+(?:remember|know)\s+about|do\s+you\s+remember|recall)\s+(.+?)\??$`)

// MemorySearch answers "what do you remember about X" from the long-term
// memory store.
type MemorySearch struct {
	deps *Deps
}

func NewMemorySearch(deps *Deps) *MemorySearch { return &MemorySearch{deps: deps} }

func (h *MemorySearch) Name() string { return "memory_search" }

func (h *MemorySearch) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagMemorySearch) || h.deps.Store == nil {
		return decline()
	}
	m := memSearchRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}
	query := strings.TrimSpace(m[1])

	entries, err := h.deps.Store.SearchMemories(ctx, chatKey(mc), query, 8)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	if len(entries) == 0 {
		return domain.TextResult(fmt.Sprintf("I don't have anything stored about %q.", query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I remember about %q:\n", query)
	for _, e := range entries {
		fmt.Fprintf(&b, "• %s\n", e.Content)
	}
	return domain.TextResult(strings.TrimRight(b.String(), "\n")), nil
}
