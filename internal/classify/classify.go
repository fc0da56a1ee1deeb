// Package classify maps an inbound transport message to a content kind and
// extracts its best text representation. Both functions are pure.
package classify

import (
	"strings"

	"chaperone/internal/domain"
)

// Kind classifies a message into one of the closed set of content kinds.
func Kind(msg *domain.InboundMessage) domain.ContentKind {
	if msg.IsSticker {
		return domain.KindSticker
	}

	mime := strings.ToLower(msg.MimeType)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.KindImage
	case strings.HasPrefix(mime, "audio/"):
		return domain.KindAudio
	case strings.HasPrefix(mime, "video/"):
		return domain.KindVideo
	case mime != "":
		return domain.KindDocument
	}

	if Text(msg) != "" {
		return domain.KindText
	}
	return domain.KindUnknown
}

// Text returns the first non-empty of: plain body, extended body, image
// caption, video caption. The plain body always wins when present.
func Text(msg *domain.InboundMessage) string {
	if msg.Body != "" {
		return msg.Body
	}
	if msg.ExtendedBody != "" {
		return msg.ExtendedBody
	}
	if msg.ImageCaption != "" {
		return msg.ImageCaption
	}
	return msg.VideoCaption
}
