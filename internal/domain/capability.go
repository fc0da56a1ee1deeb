package domain

import "errors"

// ErrNotApplicable is the decline variant of a capability handler: the input
// is not for it, and no side effects were performed. The waterfall moves on
// to the next candidate.
var ErrNotApplicable = errors.New("capability not applicable")

// CapabilityResult is the terminal value a capability handler produces for
// the response dispatcher. Exactly one handler produces it per message.
type CapabilityResult struct {
	Text    string
	Kind    ContentKind
	Audio   []byte // when set, dispatched as a voice note
	Success bool
	Err     string
}

// TextResult is shorthand for a successful plain-text result.
func TextResult(text string) *CapabilityResult {
	return &CapabilityResult{Text: text, Kind: KindText, Success: true}
}

// ErrorResult wraps a recoverable handler failure into a user-safe result.
func ErrorResult(apology, detail string) *CapabilityResult {
	return &CapabilityResult{Text: apology, Kind: KindText, Success: false, Err: detail}
}
