package domain

import "context"

// Tool is the interface for operations the model may request inside the
// orchestration loop (search, reminders, polls, page fetches, ...).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
	// GroupOnly tools are suppressed from the catalog in direct chats.
	GroupOnly() bool
}

// ToolCallResult is what the loop feeds back to the model for one tool call.
// Failures become IsError results rather than aborting the loop.
type ToolCallResult struct {
	Content string
	IsError bool
}
