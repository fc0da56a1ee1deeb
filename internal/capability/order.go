package capability

import (
	"path/filepath"
	"time"

	"chaperone/internal/waterfall"
)

// TextHandlers assembles the text waterfall in its canonical order. The
// order is load-bearing: earlier entries are strictly more specific and must
// never be shadowed by later ones. In particular the poll sub-commands run
// vote, status, end, create and the reminder sub-commands run snooze, done,
// cancel, list, test, create.
func TextHandlers(deps *Deps, polls *PollStore, now func() time.Time) []waterfall.Handler {
	if polls == nil {
		polls = NewPollStore()
	}
	rem := NewReminders(deps, now)

	kbDir := ""
	if deps.Config != nil && deps.Config.General.Workspace != "" {
		kbDir = filepath.Join(deps.Config.General.Workspace, "knowledge")
	}

	return []waterfall.Handler{
		NewMediaGen(deps),
		NewURLSummary(deps),
		NewWebSearch(deps),
		NewPollVote(deps, polls),
		NewPollStatus(deps, polls),
		NewPollEnd(deps, polls),
		NewPollCreate(deps, polls),
		ReminderSnooze{rem},
		ReminderDone{rem},
		ReminderCancel{rem},
		ReminderList{rem},
		ReminderTest{rem},
		ReminderCreate{rem},
		NewMemorySearch(deps),
		NewChatSummary(deps),
		NewCodeExec(deps),
		NewCalendar(deps, now),
		NewGroupAdmin(deps),
		NewKnowledge(deps, kbDir),
		NewSticker(deps),
		NewFallback(deps),
	}
}
