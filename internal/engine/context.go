package engine

import (
	"regexp"
	"strings"

	"chaperone/internal/classify"
	"chaperone/internal/domain"
	"chaperone/internal/gate"
)

// voiceRequestRe spots an explicit ask for a spoken reply.
var voiceRequestRe = regexp.MustCompile(`(?i)\b(voice (note|message|reply)|send (me )?a voice|speak (it|this|to me)|say it out loud)\b`)

// BuildContext derives the read-only MessageContext the pipeline stages
// share: mention detection, reply-to-bot detection, and whether the sender
// asked for a voice reply.
func (e *Engine) BuildContext(msg *domain.InboundMessage) *domain.MessageContext {
	botID := gate.NormalizeJID(e.botID(msg.Channel))
	text := classify.Text(msg)

	mentioned := false
	for _, id := range msg.MentionIDs {
		if botID != "" && gate.NormalizeJID(id) == botID {
			mentioned = true
			break
		}
	}
	if !mentioned && e.cfg.General.BotName != "" {
		mentioned = containsNameMention(text, e.cfg.General.BotName)
	}

	replyToBot := botID != "" && msg.QuotedSender != "" &&
		gate.NormalizeJID(msg.QuotedSender) == botID

	return &domain.MessageContext{
		Channel:          msg.Channel,
		ChatID:           msg.ChatID,
		SenderID:         msg.SenderID,
		SenderName:       msg.SenderName,
		IsGroup:          msg.IsGroup,
		GroupName:        msg.GroupName,
		QuotedText:       msg.QuotedText,
		MentionedIDs:     msg.MentionIDs,
		Timestamp:        msg.Timestamp,
		BotMentioned:     mentioned,
		ReplyToBot:       replyToBot,
		RespondWithVoice: voiceRequestRe.MatchString(text),
	}
}

// containsNameMention matches "@botname" as a whole word, case-insensitive.
func containsNameMention(text, botName string) bool {
	lower := strings.ToLower(text)
	name := "@" + strings.ToLower(botName)
	for idx := strings.Index(lower, name); idx >= 0; {
		end := idx + len(name)
		if end == len(lower) || !isWordRune(lower[end]) {
			return true
		}
		next := strings.Index(lower[end:], name)
		if next < 0 {
			return false
		}
		idx = end + next
	}
	return false
}

func isWordRune(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
