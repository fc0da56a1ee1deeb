package capability

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

// Poll is one active poll, at most one per chat.
type Poll struct {
	Question string
	Options  []string
	Votes    map[string]int // voter ID -> option index
	Creator  string
}

// PollStore holds the active polls in memory. Polls do not survive a
// restart.
type PollStore struct {
	mu    sync.Mutex
	polls map[string]*Poll // keyed by chat key
}

func NewPollStore() *PollStore {
	return &PollStore{polls: make(map[string]*Poll)}
}

func (s *PollStore) Get(key string) *Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[key]
}

func (s *PollStore) Put(key string, p *Poll) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.polls[key]; exists {
		return false
	}
	s.polls[key] = p
	return true
}

func (s *PollStore) Remove(key string) *Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.polls[key]
	delete(s.polls, key)
	return p
}

// Vote records one voter's choice. Votes is only ever touched under the
// store lock; Question and Options are immutable after Put.
func (s *PollStore) Vote(p *Poll, voter string, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Votes[voter] = idx
}

// Tally snapshots the vote counts under the store lock so rendering never
// iterates the map concurrently with a vote.
func (s *PollStore) Tally(p *Poll) (counts []int, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts = make([]int, len(p.Options))
	for _, idx := range p.Votes {
		counts[idx]++
	}
	return counts, len(p.Votes)
}

var (
	pollVoteRe   = regexp.MustCompile(`(?i)^(?:!|/)?vote\s+(.+)$`)
	pollStatusRe = regexp.MustCompile(`(?i)^(?:!|/)?poll\s+(?:status|results?)\s*$`)
	pollEndRe    = regexp.MustCompile(`(?i)^(?:!|/)?(?:end|close|stop)\s+(?:the\s+)?poll\s*$`)
	pollCreateRe = regexp.MustCompile(`(?i)^(?:!|/)?(?:poll[:\s]|create\s+a\s+poll[:\s]?)\s*(.+)$`)
)

// PollVote records a vote in the chat's active poll.
type PollVote struct {
	deps  *Deps
	store *PollStore
}

// PollStatus reports the current tally.
type PollStatus struct {
	deps  *Deps
	store *PollStore
}

// PollEnd closes the poll and announces the result.
type PollEnd struct {
	deps  *Deps
	store *PollStore
}

// PollCreate opens a new poll from "poll: question / option / option".
type PollCreate struct {
	deps  *Deps
	store *PollStore
}

func NewPollVote(deps *Deps, store *PollStore) *PollVote     { return &PollVote{deps, store} }
func NewPollStatus(deps *Deps, store *PollStore) *PollStatus { return &PollStatus{deps, store} }
func NewPollEnd(deps *Deps, store *PollStore) *PollEnd       { return &PollEnd{deps, store} }
func NewPollCreate(deps *Deps, store *PollStore) *PollCreate { return &PollCreate{deps, store} }

func (h *PollVote) Name() string   { return "poll_vote" }
func (h *PollStatus) Name() string { return "poll_status" }
func (h *PollEnd) Name() string    { return "poll_end" }
func (h *PollCreate) Name() string { return "poll_create" }

func (h *PollVote) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagPolls) {
		return decline()
	}
	m := pollVoteRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}
	poll := h.store.Get(chatKey(mc))
	if poll == nil {
		return domain.TextResult("There is no active poll here. Start one with: poll: question / option / option"), nil
	}

	choice := strings.TrimSpace(m[1])
	idx := resolveOption(poll, choice)
	if idx < 0 {
		return domain.TextResult(fmt.Sprintf("%q is not an option. Choose 1-%d.", choice, len(poll.Options))), nil
	}

	h.store.Vote(poll, mc.SenderID, idx)

	return domain.TextResult(fmt.Sprintf("%s voted for %q.", mc.SenderName, poll.Options[idx])), nil
}

func (h *PollStatus) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagPolls) {
		return decline()
	}
	if !pollStatusRe.MatchString(strings.TrimSpace(text)) {
		return decline()
	}
	poll := h.store.Get(chatKey(mc))
	if poll == nil {
		return domain.TextResult("There is no active poll here."), nil
	}
	counts, total := h.store.Tally(poll)
	return domain.TextResult(renderTally(poll, counts, total, false)), nil
}

func (h *PollEnd) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagPolls) {
		return decline()
	}
	if !pollEndRe.MatchString(strings.TrimSpace(text)) {
		return decline()
	}
	poll := h.store.Remove(chatKey(mc))
	if poll == nil {
		return domain.TextResult("There is no active poll to end."), nil
	}
	counts, total := h.store.Tally(poll)
	return domain.TextResult(renderTally(poll, counts, total, true)), nil
}

func (h *PollCreate) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagPolls) {
		return decline()
	}
	m := pollCreateRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}

	parts := splitPollSpec(m[1])
	if len(parts) < 3 {
		return domain.TextResult("A poll needs a question and at least two options: poll: question / option / option"), nil
	}

	poll := &Poll{
		Question: parts[0],
		Options:  parts[1:],
		Votes:    make(map[string]int),
		Creator:  mc.SenderID,
	}
	if !h.store.Put(chatKey(mc), poll) {
		return domain.TextResult("There is already an active poll here. End it first with: end poll"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s\n", poll.Question)
	for i, opt := range poll.Options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	b.WriteString("Vote with: vote <number>")
	return domain.TextResult(b.String()), nil
}

// splitPollSpec splits "question / opt1 / opt2", also accepting newlines.
func splitPollSpec(spec string) []string {
	sep := "/"
	if strings.Contains(spec, "\n") {
		sep = "\n"
	}
	var parts []string
	for _, p := range strings.Split(spec, sep) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// resolveOption accepts a 1-based number or a case-insensitive option prefix.
func resolveOption(p *Poll, choice string) int {
	if n, err := strconv.Atoi(choice); err == nil {
		if n >= 1 && n <= len(p.Options) {
			return n - 1
		}
		return -1
	}
	lower := strings.ToLower(choice)
	for i, opt := range p.Options {
		if strings.HasPrefix(strings.ToLower(opt), lower) {
			return i
		}
	}
	return -1
}

func renderTally(p *Poll, counts []int, total int, final bool) string {
	var b strings.Builder
	if final {
		fmt.Fprintf(&b, "📊 Poll closed: %s\n", p.Question)
	} else {
		fmt.Fprintf(&b, "📊 %s\n", p.Question)
	}

	order := make([]int, len(p.Options))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] > counts[order[b]] })
	for _, i := range order {
		fmt.Fprintf(&b, "%s: %d\n", p.Options[i], counts[i])
	}
	fmt.Fprintf(&b, "%d vote(s) total", total)
	return b.String()
}
