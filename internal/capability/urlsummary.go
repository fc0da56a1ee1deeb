package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"]+`)

const maxPageChars = 12_000

// URLSummary summarizes the page behind a link when the message either asks
// for a summary or consists of nothing but the link itself.
type URLSummary struct {
	deps *Deps
}

func NewURLSummary(deps *Deps) *URLSummary { return &URLSummary{deps: deps} }

func (h *URLSummary) Name() string { return "url_summary" }

func (h *URLSummary) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagURLSummary) || h.deps.Fetch == nil {
		return decline()
	}

	url := urlRe.FindString(text)
	if url == "" {
		return decline()
	}
	if !h.wantsSummary(text, url) {
		return decline()
	}

	title, body, err := h.deps.Fetch.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	if len(body) > maxPageChars {
		body = body[:maxPageChars]
	}

	summary, err := h.deps.chat(ctx,
		"Summarize the following web page in a few short paragraphs. Answer in the language of the page.",
		fmt.Sprintf("Title: %s\nURL: %s\n\n%s", title, url, body))
	if err != nil {
		return nil, fmt.Errorf("summarizing %s: %w", url, err)
	}
	return domain.TextResult(summary), nil
}

// wantsSummary is true when the message asks to summarize, or is a bare URL.
func (h *URLSummary) wantsSummary(text, url string) bool {
	rest := strings.TrimSpace(strings.Replace(text, url, "", 1))
	if rest == "" {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range []string{"summarize", "summary", "tl;dr", "tldr", "what does", "what's this", "whats this", "what is this"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
