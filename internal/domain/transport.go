package domain

import "context"

// Presence is a chat-level typing indicator.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
	PresenceRecording Presence = "recording"
)

// Media is an outbound attachment.
type Media struct {
	Kind     ContentKind
	MimeType string
	Data     []byte
	Filename string
	Caption  string
}

// GroupInfo is transport-side group metadata.
type GroupInfo struct {
	Name         string
	Participants []Participant
}

type Participant struct {
	ID      string
	IsAdmin bool
}

// IsAdmin reports whether the given participant holds an admin role.
func (g *GroupInfo) IsAdmin(id string) bool {
	if g == nil {
		return false
	}
	for _, p := range g.Participants {
		if p.ID == id && p.IsAdmin {
			return true
		}
	}
	return false
}

// Transport is the outbound side of a messaging channel. quote, when non-nil,
// asks the transport to render the send as a reply to that message.
type Transport interface {
	SendText(ctx context.Context, chatID, text string, quote *InboundMessage) error
	SendMedia(ctx context.Context, chatID string, media Media, quote *InboundMessage) error
	SendVoice(ctx context.Context, chatID string, audio []byte, quote *InboundMessage) error
	SetPresence(ctx context.Context, chatID string, p Presence) error
	GroupInfo(ctx context.Context, chatID string) (*GroupInfo, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}
