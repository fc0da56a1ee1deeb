package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chaperone/internal/capability"
	"chaperone/internal/domain"
)

// The tools below delegate to the waterfall's capability handlers. A
// handler's decline has no meaning inside the loop, where nothing can fall
// through, so it is normalized into an error the model can read.

func runHandler(ctx context.Context, h interface {
	Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error)
}, text string) (string, error) {
	mc := MessageContextFrom(ctx)
	if mc == nil {
		return "", fmt.Errorf("no message context")
	}
	res, err := h.Handle(ctx, text, mc)
	if errors.Is(err, domain.ErrNotApplicable) {
		return "", fmt.Errorf("request not recognized: %q", text)
	}
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// ReminderTool lets the model create reminders on the user's behalf.
type ReminderTool struct {
	create capability.ReminderCreate
}

func NewReminderTool(rem *capability.Reminders) *ReminderTool {
	return &ReminderTool{
		create: capability.ReminderCreate{Reminders: rem},
	}
}

func (t *ReminderTool) Name() string { return "create_reminder" }
func (t *ReminderTool) Description() string {
	return "Create a reminder for the user. Provide what to remind about and when, e.g. when=\"in 30 minutes\" or when=\"every day at 8\"."
}
func (t *ReminderTool) GroupOnly() bool { return false }

func (t *ReminderTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"text": {Type: "string", Description: "What to remind the user about"},
			"when": {Type: "string", Description: "When to fire: a relative time, clock time, or recurrence"},
		},
		[]string{"text", "when"},
	)
}

func (t *ReminderTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	text := ArgsString(args, "text")
	when := ArgsString(args, "when")
	if text == "" || when == "" {
		return "", fmt.Errorf("both text and when are required")
	}
	return runHandler(ctx, t.create, fmt.Sprintf("remind me to %s %s", text, when))
}

// ReminderListTool reads the chat's pending reminders.
type ReminderListTool struct {
	list capability.ReminderList
}

func NewReminderListTool(rem *capability.Reminders) *ReminderListTool {
	return &ReminderListTool{list: capability.ReminderList{Reminders: rem}}
}

func (t *ReminderListTool) Name() string { return "list_reminders" }
func (t *ReminderListTool) Description() string {
	return "List the user's pending reminders in this chat."
}
func (t *ReminderListTool) GroupOnly() bool            { return false }
func (t *ReminderListTool) Parameters() map[string]any { return ToolParameters(nil, nil) }

func (t *ReminderListTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return runHandler(ctx, t.list, "list reminders")
}

// PollTool lets the model open a group poll.
type PollTool struct {
	create *capability.PollCreate
}

func NewPollTool(create *capability.PollCreate) *PollTool {
	return &PollTool{create: create}
}

func (t *PollTool) Name() string { return "create_poll" }
func (t *PollTool) Description() string {
	return "Create a poll in the current group chat with a question and two or more options."
}
func (t *PollTool) GroupOnly() bool { return true }

func (t *PollTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"question": {Type: "string", Description: "The poll question"},
			"options":  {Type: "array", Description: "Two or more answer options"},
		},
		[]string{"question", "options"},
	)
}

func (t *PollTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	question := ArgsString(args, "question")
	opts, _ := args["options"].([]any)
	if question == "" || len(opts) < 2 {
		return "", fmt.Errorf("a question and at least two options are required")
	}
	parts := []string{question}
	for _, o := range opts {
		parts = append(parts, fmt.Sprintf("%v", o))
	}
	return runHandler(ctx, t.create, "poll: "+strings.Join(parts, " / "))
}

// MemoryTool stores a long-term memory entry.
type MemoryTool struct {
	store domain.HistoryStore
}

func NewMemoryTool(store domain.HistoryStore) *MemoryTool {
	return &MemoryTool{store: store}
}

func (t *MemoryTool) Name() string { return "remember" }
func (t *MemoryTool) Description() string {
	return "Store a fact or preference about the user for later conversations. Use sparingly, for durable information only."
}
func (t *MemoryTool) GroupOnly() bool { return false }

func (t *MemoryTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"content":  {Type: "string", Description: "The fact to remember"},
			"category": {Type: "string", Description: "fact, preference, or summary"},
		},
		[]string{"content"},
	)
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	mc := MessageContextFrom(ctx)
	if mc == nil {
		return "", fmt.Errorf("no message context")
	}
	content := ArgsString(args, "content")
	if content == "" {
		return "", fmt.Errorf("missing argument: content")
	}
	category := ArgsString(args, "category")
	if category == "" {
		category = "fact"
	}
	err := t.store.SaveMemory(ctx, domain.MemoryEntry{
		ChatKey:    mc.Channel + ":" + mc.ChatID,
		Category:   category,
		Content:    content,
		Importance: 5,
	})
	if err != nil {
		return "", fmt.Errorf("saving memory: %w", err)
	}
	return "Remembered: " + content, nil
}

// RecallTool searches stored memories.
type RecallTool struct {
	store domain.HistoryStore
}

func NewRecallTool(store domain.HistoryStore) *RecallTool {
	return &RecallTool{store: store}
}

func (t *RecallTool) Name() string { return "recall_memory" }
func (t *RecallTool) Description() string {
	return "Search previously stored facts and preferences about the user."
}
func (t *RecallTool) GroupOnly() bool { return false }

func (t *RecallTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "What to look for"},
		},
		[]string{"query"},
	)
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	mc := MessageContextFrom(ctx)
	if mc == nil {
		return "", fmt.Errorf("no message context")
	}
	query := ArgsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	entries, err := t.store.SearchMemories(ctx, mc.Channel+":"+mc.ChatID, query, 8)
	if err != nil {
		return "", fmt.Errorf("searching memories: %w", err)
	}
	if len(entries) == 0 {
		return "No stored memories match.", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", e.Category, e.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
