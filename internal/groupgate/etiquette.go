package groupgate

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

// Etiquette decides whether the bot should speak in a group chat and with
// what urgency. The decision is computed fresh per message, never cached.
type Etiquette struct {
	lex    *Lexicon
	random func() float64
	logger *slog.Logger
}

type EtiquetteConfig struct {
	Lexicon *Lexicon
	Random  func() float64 // uniform [0,1); nil uses math/rand
	Logger  *slog.Logger
}

func NewEtiquette(cfg EtiquetteConfig) *Etiquette {
	if cfg.Lexicon == nil {
		cfg.Lexicon = DefaultLexicon()
	}
	if cfg.Random == nil {
		cfg.Random = rand.Float64
	}
	return &Etiquette{
		lex:    cfg.Lexicon,
		random: cfg.Random,
		logger: cfg.Logger,
	}
}

// Decide evaluates a surviving group text message. The rules run in strict
// precedence order; the first one that fires determines the outcome.
func (e *Etiquette) Decide(text string, mc *domain.MessageContext, g config.GroupConfig) domain.EtiquetteDecision {
	if mc.BotMentioned {
		return respond("bot mentioned", domain.PriorityHigh)
	}
	if mc.ReplyToBot {
		return respond("reply to bot", domain.PriorityHigh)
	}

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < g.MinMessageLength {
		return silent("below minimum length")
	}

	if e.lex.IsBanter(trimmed) || isEmojiOnly(trimmed) || isRepeatedRun(trimmed) {
		return silent("low-content banter")
	}

	if isQuestion(trimmed, e.lex) {
		return respond("question", domain.PriorityMedium)
	}

	if g.ResponseRate > 0 && e.random()*100 < float64(g.ResponseRate) {
		return respond("response-rate draw", domain.PriorityLow)
	}
	return silent("response-rate draw missed")
}

func respond(reason string, p domain.Priority) domain.EtiquetteDecision {
	return domain.EtiquetteDecision{ShouldRespond: true, Reason: reason, Priority: p}
}

func silent(reason string) domain.EtiquetteDecision {
	return domain.EtiquetteDecision{ShouldRespond: false, Reason: reason, Priority: domain.PriorityNone}
}

func isQuestion(text string, lex *Lexicon) bool {
	return strings.HasSuffix(text, "?") || lex.OpensInterrogative(text)
}

// isEmojiOnly reports whether the text consists solely of symbols and marks,
// with no letters or digits.
func isEmojiOnly(text string) bool {
	seen := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r) {
			return false
		}
		seen = true
	}
	return seen
}

// isRepeatedRun reports whether the text is one character repeated.
func isRepeatedRun(text string) bool {
	var first rune
	count := 0
	for _, r := range text {
		if count == 0 {
			first = r
		} else if r != first {
			return false
		}
		count++
	}
	return count >= 2
}
