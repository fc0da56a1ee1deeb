package agent

import (
	"fmt"
	"strings"
	"time"

	"chaperone/internal/domain"
)

// PromptBuilder renders the system prompt for the orchestration loop.
type PromptBuilder struct {
	botName string
	extra   string
	now     func() time.Time
}

// PromptConfig holds configuration for the prompt builder.
type PromptConfig struct {
	BotName string
	Extra   string // custom text appended to the system prompt
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	name := cfg.BotName
	if name == "" {
		name = "assistant"
	}
	return &PromptBuilder{botName: name, extra: cfg.Extra, now: time.Now}
}

// System builds the system prompt for one message.
func (p *PromptBuilder) System(mc *domain.MessageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a helpful chat assistant.\n", p.botName)
	fmt.Fprintf(&b, "Current time: %s.\n", p.now().Format("Monday, 2 January 2006 15:04"))

	if mc.IsGroup {
		fmt.Fprintf(&b, "You are speaking in the group %q. The current message is from %s; other members read your replies too.\n",
			mc.GroupName, mc.SenderName)
	} else {
		fmt.Fprintf(&b, "You are in a direct chat with %s.\n", mc.SenderName)
	}
	if mc.QuotedText != "" {
		fmt.Fprintf(&b, "The message replies to: %q\n", mc.QuotedText)
	}

	b.WriteString("Use the available tools when they help; answer directly when they don't. ")
	b.WriteString("Keep replies conversational and concise. This is a chat, not an essay.")

	if p.extra != "" {
		b.WriteString("\n\n")
		b.WriteString(p.extra)
	}
	return b.String()
}
