package gate

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fixed or stepped clock.
type Clock func() time.Time

// Window is a sliding-window counter store keyed by an arbitrary string
// (sender ID for rate limiting, sender+chat for spam tracking). Entries are
// created lazily and never evicted; the leak is bounded by key cardinality.
type Window struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	span    time.Duration
	max     int
	now     Clock
}

type windowEntry struct {
	count int
	start time.Time
}

// NewWindow creates a store that flags a key once it exceeds max hits within
// span. A nil clock uses time.Now.
func NewWindow(span time.Duration, max int, now Clock) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{
		entries: make(map[string]*windowEntry),
		span:    span,
		max:     max,
		now:     now,
	}
}

// Hit records one occurrence for key and reports the running count and
// whether the key is over the ceiling. The count resets when the window has
// elapsed since its start; otherwise it increments.
func (w *Window) Hit(key string) (count int, limited bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	e, ok := w.entries[key]
	if !ok || now.Sub(e.start) > w.span {
		e = &windowEntry{count: 0, start: now}
		w.entries[key] = e
	}
	e.count++
	return e.count, e.count > w.max
}

// Count returns the current count for key without recording a hit.
func (w *Window) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	if !ok || w.now().Sub(e.start) > w.span {
		return 0
	}
	return e.count
}

// Reset clears the window for key.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
}
