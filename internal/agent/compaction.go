package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chaperone/internal/domain"
)

const (
	defaultCompactionBudget = 4096
	// The newest turns stay verbatim when older ones are folded into a summary.
	keepRecentTurns = 4
	wordsPerToken   = 0.75
)

// Compactor keeps the loop's turn log under a token budget. When the log
// grows past the budget, everything between the system prompt and the most
// recent turns is replaced with a model-written summary. A failed summary
// call leaves the log untouched rather than dropping context.
type Compactor struct {
	provider domain.Provider
	budget   int
	logger   *slog.Logger
}

type CompactorConfig struct {
	Provider domain.Provider
	Budget   int
	Logger   *slog.Logger
}

func NewCompactor(cfg CompactorConfig) *Compactor {
	if cfg.Budget <= 0 {
		cfg.Budget = defaultCompactionBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Compactor{provider: cfg.Provider, budget: cfg.Budget, logger: cfg.Logger}
}

// estimateTokens approximates the token cost of a turn log. Word count over
// 0.75 is close enough for a budget check; exact tokenization is not worth a
// tokenizer dependency.
func estimateTokens(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateString(m.Content)
		for _, tc := range m.ToolCalls {
			for _, v := range tc.Arguments {
				total += estimateString(fmt.Sprintf("%v", v))
			}
		}
	}
	return total
}

func estimateString(s string) int {
	words := len(strings.Fields(s))
	if words == 0 {
		return 0
	}
	tokens := int(float64(words) / wordsPerToken)
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// Compact returns the turn log, folded when it exceeds the budget. The
// system prompt at index 0 and the last keepRecentTurns entries always
// survive verbatim.
func (c *Compactor) Compact(ctx context.Context, messages []domain.Message) []domain.Message {
	if len(messages) <= keepRecentTurns+1 {
		return messages
	}
	total := estimateTokens(messages)
	if total <= c.budget {
		return messages
	}

	recentStart := len(messages) - keepRecentTurns
	old := messages[1:recentStart]
	if len(old) == 0 {
		return messages
	}

	summary, err := c.summarize(ctx, old)
	if err != nil {
		c.logger.Warn("turn log summary failed, keeping full context", "err", err)
		return messages
	}

	compacted := make([]domain.Message, 0, 2+keepRecentTurns)
	compacted = append(compacted, messages[0])
	compacted = append(compacted, domain.Message{
		Role:    "system",
		Content: "[Earlier conversation, summarized]\n" + summary,
	})
	compacted = append(compacted, messages[recentStart:]...)

	c.logger.Info("turn log compacted",
		"tokens_before", total, "tokens_after", estimateTokens(compacted),
		"turns_before", len(messages), "turns_after", len(compacted))
	return compacted
}

func (c *Compactor) summarize(ctx context.Context, messages []domain.Message) (string, error) {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		if len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
			}
			fmt.Fprintf(&sb, " [called: %s]", strings.Join(names, ", "))
		}
		sb.WriteString("\n")
	}

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "Summarize the conversation below in under 200 words. Preserve facts, decisions, and tool results that a follow-up turn might depend on."},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summary call: %w", err)
	}
	return resp.Content, nil
}
