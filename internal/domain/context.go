package domain

import "time"

// MessageContext is the derived, read-only view of an inbound message that
// flows through every pipeline stage. Built once per message, never persisted.
type MessageContext struct {
	Channel          string
	ChatID           string
	SenderID         string
	SenderName       string
	IsGroup          bool
	GroupName        string
	QuotedText       string
	MentionedIDs     []string
	Timestamp        time.Time
	BotMentioned     bool
	ReplyToBot       bool
	RespondWithVoice bool
}

// Addressed reports whether the message is directed at the bot, either by an
// explicit mention or by replying to one of the bot's own messages.
func (c *MessageContext) Addressed() bool {
	return c.BotMentioned || c.ReplyToBot
}
