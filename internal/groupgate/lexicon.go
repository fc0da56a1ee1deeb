// Package groupgate decides, for group chats only, whether a message is
// moderated away and whether the bot should speak at all.
package groupgate

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the word lists consulted by the etiquette and moderation
// checks. It can be overridden from a YAML file.
type Lexicon struct {
	Banter         []string `yaml:"banter"`
	Interrogatives []string `yaml:"interrogatives"`
	LinkPatterns   []string `yaml:"linkPatterns"`

	banterSet map[string]bool
	laughter  *regexp.Regexp
	links     []*regexp.Regexp
}

// DefaultLexicon returns the built-in word lists.
func DefaultLexicon() *Lexicon {
	lex := &Lexicon{
		Banter: []string{
			"ok", "okay", "k", "kk", "yes", "no", "yep", "nope", "yeah", "nah",
			"thanks", "thx", "ty", "gm", "gn", "brb", "omg", "wow", "nice",
			"cool", "bet", "fr", "rip", "oof", "bruh", "same", "this", "mood",
		},
		Interrogatives: []string{
			"who", "what", "when", "where", "why", "how", "which", "whose",
			"is", "are", "am", "was", "were", "do", "does", "did", "can",
			"could", "will", "would", "should", "shall", "may", "might", "has",
			"have", "had",
		},
		LinkPatterns: []string{
			`https?://\S+`,
			`www\.\S+\.\S+`,
			`\b\S+\.(?:com|net|org|io|gg|ly|me)/\S*`,
		},
	}
	if err := lex.compile(); err != nil {
		// Built-in patterns are static; a compile failure here is a bug.
		panic(err)
	}
	return lex
}

// LoadLexicon reads overrides from a YAML file. Empty sections keep the
// defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}

	var file Lexicon
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}

	lex := DefaultLexicon()
	if len(file.Banter) > 0 {
		lex.Banter = file.Banter
	}
	if len(file.Interrogatives) > 0 {
		lex.Interrogatives = file.Interrogatives
	}
	if len(file.LinkPatterns) > 0 {
		lex.LinkPatterns = file.LinkPatterns
	}
	if err := lex.compile(); err != nil {
		return nil, err
	}
	return lex, nil
}

func (l *Lexicon) compile() error {
	l.banterSet = make(map[string]bool, len(l.Banter))
	for _, w := range l.Banter {
		l.banterSet[strings.ToLower(w)] = true
	}

	l.laughter = regexp.MustCompile(`(?i)^(?:(?:ha|he|ja|je){2,}h?|k{3,}|lo+l+|le?mao+|lmfao+|rofl+|x+d+)$`)

	l.links = l.links[:0]
	for _, p := range l.LinkPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("link pattern %q: %w", p, err)
		}
		l.links = append(l.links, re)
	}
	return nil
}

// IsBanter reports whether the message is a low-content interjection or
// laughter token.
func (l *Lexicon) IsBanter(text string) bool {
	token := strings.ToLower(strings.TrimSpace(text))
	return l.banterSet[token] || l.laughter.MatchString(token)
}

// OpensInterrogative reports whether the first word is a question opener.
func (l *Lexicon) OpensInterrogative(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	first := strings.Trim(fields[0], ",.!?")
	for _, w := range l.Interrogatives {
		if first == w {
			return true
		}
	}
	return false
}

// ContainsLink reports whether the text matches any link pattern.
func (l *Lexicon) ContainsLink(text string) bool {
	for _, re := range l.links {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
