package dispatch

import (
	"strings"
	"unicode/utf8"
)

// Split cuts text into chunks of at most maxLen bytes, preferring paragraph
// breaks, then sentence ends, then word boundaries, and only cutting
// mid-word when a single token exceeds the limit. A chunk never ends inside
// a multi-byte rune.
func Split(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for len(text) > maxLen {
		cut := boundary(text, maxLen)
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func boundary(text string, maxLen int) int {
	window := text[:maxLen]

	if i := strings.LastIndex(window, "\n\n"); i > maxLen/4 {
		return i
	}
	for _, sep := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if i := strings.LastIndex(window, sep); i > maxLen/4 {
			return i + 1 // keep the punctuation on the left side
		}
	}
	if i := strings.LastIndexAny(window, " \n\t"); i > maxLen/4 {
		return i
	}

	// No natural break in the window: back up to the nearest rune start so
	// the forced cut stays valid UTF-8.
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return maxLen
	}
	return cut
}
