package capability

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

var calendarRe = regexp.MustCompile(`(?i)^(?:!|/)?(?:calendar|agenda|schedule)(?:\s+(today|tomorrow|week))?\s*$`)

// Calendar renders the chat's scheduled reminders as an agenda view.
type Calendar struct {
	deps *Deps
	now  func() time.Time
}

func NewCalendar(deps *Deps, now func() time.Time) *Calendar {
	if now == nil {
		now = time.Now
	}
	return &Calendar{deps: deps, now: now}
}

func (h *Calendar) Name() string { return "calendar" }

func (h *Calendar) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	if !h.deps.enabled(config.FlagCalendar) || h.deps.Store == nil {
		return decline()
	}
	m := calendarRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return decline()
	}

	now := h.now()
	from := now
	until := now.AddDate(0, 1, 0)
	label := "next month"
	switch strings.ToLower(m[1]) {
	case "today":
		until = endOfDay(now)
		label = "today"
	case "tomorrow":
		from = endOfDay(now)
		until = endOfDay(now.AddDate(0, 0, 1))
		label = "tomorrow"
	case "week":
		until = now.AddDate(0, 0, 7)
		label = "this week"
	}

	all, err := h.deps.Store.ListReminders(ctx, chatKey(mc))
	if err != nil {
		return nil, fmt.Errorf("loading agenda: %w", err)
	}

	var items []domain.Reminder
	for _, rem := range all {
		if rem.Done || rem.CronExpr != "" {
			continue
		}
		if rem.DueAt.After(from) && !rem.DueAt.After(until) {
			items = append(items, rem)
		}
	}
	if len(items) == 0 {
		return domain.TextResult(fmt.Sprintf("Nothing scheduled %s.", label)), nil
	}
	sort.Slice(items, func(a, b int) bool { return items[a].DueAt.Before(items[b].DueAt) })

	var b strings.Builder
	fmt.Fprintf(&b, "🗓 Agenda %s:\n", label)
	for _, rem := range items {
		fmt.Fprintf(&b, "• %s — %s\n", rem.DueAt.Format("Mon 2 Jan 15:04"), rem.Text)
	}
	return domain.TextResult(strings.TrimRight(b.String(), "\n")), nil
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
