package domain

import "time"

// ContentKind classifies an inbound message by its payload.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindAudio    ContentKind = "audio"
	KindVideo    ContentKind = "video"
	KindSticker  ContentKind = "sticker"
	KindDocument ContentKind = "document"
	KindUnknown  ContentKind = "unknown"
)

// InboundMessage is a transport message as delivered by a channel.
// It is immutable for the duration of one processing pass.
type InboundMessage struct {
	Channel      string
	ID           string // transport message ID
	ChatID       string
	SenderID     string
	SenderName   string
	IsGroup      bool
	GroupName    string
	Body         string // plain text body
	ExtendedBody string // extended/quoted text body
	ImageCaption string
	VideoCaption string
	MimeType     string // media MIME type, empty for pure text
	IsSticker    bool
	IsForwarded  bool
	MentionIDs   []string
	QuotedID     string // ID of the message this one replies to
	QuotedSender string
	QuotedText   string
	Timestamp    time.Time
}

// HasContent reports whether the message carries anything worth processing.
func (m *InboundMessage) HasContent() bool {
	return m.Body != "" || m.ExtendedBody != "" || m.ImageCaption != "" ||
		m.VideoCaption != "" || m.MimeType != "" || m.IsSticker
}

// ParticipantAction describes a group membership change.
type ParticipantAction string

const (
	ParticipantJoin    ParticipantAction = "join"
	ParticipantLeave   ParticipantAction = "leave"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// ParticipantsEvent is delivered when group membership changes.
type ParticipantsEvent struct {
	Channel        string
	ChatID         string
	Action         ParticipantAction
	ParticipantIDs []string
	Timestamp      time.Time
}
