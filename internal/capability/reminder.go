package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var (
	remSnoozeRe = regexp.MustCompile(`(?i)^(?:!|/)?snooze(?:\s+reminder)?\s*(\S*)\s*(?:for\s+(.+))?$`)
	remDoneRe   = regexp.MustCompile(`(?i)^(?:!|/)?(?:done|mark\s+done|complete)\s+(?:reminder\s+)?(\S+)\s*$`)
	remCancelRe = regexp.MustCompile(`(?i)^(?:!|/)?(?:cancel|delete|remove)\s+(?:the\s+)?reminders?\s*(\S*)\s*$`)
	remListRe   = regexp.MustCompile(`(?i)^(?:!|/)?(?:list\s+(?:my\s+)?reminders?|reminders|my\s+reminders)\s*$`)
	remTestRe   = regexp.MustCompile(`(?i)^(?:!|/)?test\s+reminder\s*$`)
	remCreateRe = regexp.MustCompile(`(?i)^(?:!|/)?remind\s+(?:me|us)\s+(?:to\s+|about\s+|that\s+)?(.+)$`)
)

// Reminders implements the reminder sub-commands. Sub-commands are separate
// waterfall entries so that "snooze" can never be swallowed by "create"; the
// handlers share this struct and differ only in the pattern they recognize.
type Reminders struct {
	deps *Deps
	now  func() time.Time
}

func NewReminders(deps *Deps, now func() time.Time) *Reminders {
	if now == nil {
		now = time.Now
	}
	return &Reminders{deps: deps, now: now}
}

func (r *Reminders) active() bool {
	return r.deps.enabled(config.FlagReminders) && r.deps.Store != nil
}

// Sub-command handlers, consulted in the order snooze, done, cancel, list,
// test, create.

type ReminderSnooze struct{ *Reminders }
type ReminderDone struct{ *Reminders }
type ReminderCancel struct{ *Reminders }
type ReminderList struct{ *Reminders }
type ReminderTest struct{ *Reminders }
type ReminderCreate struct{ *Reminders }

func (ReminderSnooze) Name() string { return "reminder_snooze" }
func (ReminderDone) Name() string   { return "reminder_done" }
func (ReminderCancel) Name() string { return "reminder_cancel" }
func (ReminderList) Name() string   { return "reminder_list" }
func (ReminderTest) Name() string   { return "reminder_test" }
func (ReminderCreate) Name() string { return "reminder_create" }

func (r ReminderSnooze) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !r.active() {
		return decline()
	}
	m := remSnoozeRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}

	rem, res, err := r.find(ctx, mc, m[1])
	if rem == nil {
		return res, err
	}

	delay := 10 * time.Minute
	if m[2] != "" {
		d, ok := parseDuration(m[2])
		if !ok {
			return domain.TextResult(fmt.Sprintf("I don't understand the delay %q.", m[2])), nil
		}
		delay = d
	}

	rem.DueAt = r.now().Add(delay)
	if err := r.deps.Store.UpdateReminder(ctx, *rem); err != nil {
		return nil, fmt.Errorf("snoozing reminder: %w", err)
	}
	return domain.TextResult(fmt.Sprintf("Snoozed %q until %s.", rem.Text, rem.DueAt.Format("15:04"))), nil
}

func (r ReminderDone) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !r.active() {
		return decline()
	}
	m := remDoneRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}

	rem, res, err := r.find(ctx, mc, m[1])
	if rem == nil {
		return res, err
	}

	now := r.now()
	rem.Done = true
	rem.DoneAt = &now
	if err := r.deps.Store.UpdateReminder(ctx, *rem); err != nil {
		return nil, fmt.Errorf("completing reminder: %w", err)
	}
	return domain.TextResult(fmt.Sprintf("Done: %q ✓", rem.Text)), nil
}

func (r ReminderCancel) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !r.active() {
		return decline()
	}
	m := remCancelRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}

	if strings.EqualFold(m[1], "all") || m[1] == "" {
		rems, err := r.pending(ctx, mc)
		if err != nil {
			return nil, err
		}
		for _, rem := range rems {
			if err := r.deps.Store.DeleteReminder(ctx, rem.ID); err != nil {
				return nil, fmt.Errorf("cancelling reminder %s: %w", rem.ID, err)
			}
		}
		return domain.TextResult(fmt.Sprintf("Cancelled %d reminder(s).", len(rems))), nil
	}

	rem, res, err := r.find(ctx, mc, m[1])
	if rem == nil {
		return res, err
	}
	if err := r.deps.Store.DeleteReminder(ctx, rem.ID); err != nil {
		return nil, fmt.Errorf("cancelling reminder: %w", err)
	}
	return domain.TextResult(fmt.Sprintf("Cancelled %q.", rem.Text)), nil
}

func (r ReminderList) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !r.active() {
		return decline()
	}
	if !remListRe.MatchString(strings.TrimSpace(text)) {
		return decline()
	}

	rems, err := r.pending(ctx, mc)
	if err != nil {
		return nil, err
	}
	if len(rems) == 0 {
		return domain.TextResult("No pending reminders."), nil
	}

	var b strings.Builder
	b.WriteString("⏰ Pending reminders:\n")
	for _, rem := range rems {
		when := rem.DueAt.Format("Mon 15:04")
		if rem.CronExpr != "" {
			when = "recurring"
		}
		fmt.Fprintf(&b, "• [%s] %s (%s)\n", shortID(rem.ID), rem.Text, when)
	}
	return domain.TextResult(strings.TrimRight(b.String(), "\n")), nil
}

func (r ReminderTest) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !r.active() {
		return decline()
	}
	if !remTestRe.MatchString(strings.TrimSpace(text)) {
		return decline()
	}
	rem := domain.Reminder{
		ID:        uuid.NewString(),
		ChatKey:   chatKey(mc),
		Channel:   mc.Channel,
		ChatID:    mc.ChatID,
		SenderID:  mc.SenderID,
		Text:      "test reminder",
		DueAt:     r.now(),
		CreatedAt: r.now(),
	}
	if err := r.deps.Store.SaveReminder(ctx, rem); err != nil {
		return nil, fmt.Errorf("saving test reminder: %w", err)
	}
	return domain.TextResult(fmt.Sprintf("Test reminder %s scheduled to fire immediately.", shortID(rem.ID))), nil
}

func (r ReminderCreate) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !r.active() {
		return decline()
	}
	m := remCreateRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}

	sched, what := parseSchedule(m[1], r.now())
	if what == "" {
		return domain.TextResult("Remind you about what?"), nil
	}
	if sched.due.IsZero() && sched.cron == "" {
		return domain.TextResult(fmt.Sprintf("When should I remind you about %q? Try: in 30 minutes, at 18:00, tomorrow at 9, every day at 8.", what)), nil
	}

	rem := domain.Reminder{
		ID:        uuid.NewString(),
		ChatKey:   chatKey(mc),
		Channel:   mc.Channel,
		ChatID:    mc.ChatID,
		SenderID:  mc.SenderID,
		Text:      what,
		DueAt:     sched.due,
		CronExpr:  sched.cron,
		CreatedAt: r.now(),
	}
	if err := r.deps.Store.SaveReminder(ctx, rem); err != nil {
		return nil, fmt.Errorf("saving reminder: %w", err)
	}

	if rem.CronExpr != "" {
		return domain.TextResult(fmt.Sprintf("⏰ Recurring reminder %s: %q (%s).", shortID(rem.ID), what, sched.human)), nil
	}
	return domain.TextResult(fmt.Sprintf("⏰ Reminder %s set for %s: %q.",
		shortID(rem.ID), rem.DueAt.Format("Mon 2 Jan 15:04"), what)), nil
}

// find resolves an id prefix (or the soonest pending reminder when empty) to
// a reminder owned by this chat. When no reminder matches it returns a
// user-facing result instead.
func (r *Reminders) find(ctx context.Context, mc *domain.MessageContext, idPrefix string) (*domain.Reminder, *domain.CapabilityResult, error) {
	rems, err := r.pending(ctx, mc)
	if err != nil {
		return nil, nil, err
	}
	if len(rems) == 0 {
		return nil, domain.TextResult("No pending reminders."), nil
	}
	if idPrefix == "" || strings.EqualFold(idPrefix, "last") {
		return &rems[0], nil, nil
	}
	for i := range rems {
		if strings.HasPrefix(rems[i].ID, strings.ToLower(idPrefix)) {
			return &rems[i], nil, nil
		}
	}
	return nil, domain.TextResult(fmt.Sprintf("No reminder matches %q. Use: list reminders", idPrefix)), nil
}

func (r *Reminders) pending(ctx context.Context, mc *domain.MessageContext) ([]domain.Reminder, error) {
	all, err := r.deps.Store.ListReminders(ctx, chatKey(mc))
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	pending := all[:0]
	for _, rem := range all {
		if !rem.Done {
			pending = append(pending, rem)
		}
	}
	return pending, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
