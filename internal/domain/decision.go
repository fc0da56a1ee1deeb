package domain

// Priority ranks how urgently the bot should respond in a group chat.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = "none"
)

// EtiquetteDecision is the group-chat judgment of whether and how urgently
// to respond. Computed fresh per message, never cached.
type EtiquetteDecision struct {
	ShouldRespond bool
	Reason        string
	Priority      Priority
}

// ModerationVerdict is the outcome of the group moderation check.
// A zero verdict means no action.
type ModerationVerdict struct {
	ShouldDelete bool
	Remove       bool // removal-worthy: repeated violations
	Warning      string
}
