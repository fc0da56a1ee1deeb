package capability

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// schedule is the parsed "when" of a reminder: a one-shot due time or a cron
// expression for recurring reminders.
type schedule struct {
	due   time.Time
	cron  string
	human string
}

var (
	relRe      = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?)\b`)
	atRe       = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	tomorrowRe = regexp.MustCompile(`(?i)\btomorrow\b`)
	everyRe    = regexp.MustCompile(`(?i)\bevery\s+(day|morning|hour|week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// parseSchedule extracts the schedule phrase from a reminder request and
// returns what remains as the reminder text. An empty schedule means the
// request named no recognizable time.
func parseSchedule(text string, now time.Time) (schedule, string) {
	text = strings.TrimSpace(text)

	if m := everyRe.FindStringSubmatch(text); m != nil {
		s := recurring(strings.ToLower(m[1]), text)
		return s, cleanWhat(everyRe.ReplaceAllString(atRe.ReplaceAllString(text, ""), ""))
	}

	if m := relRe.FindStringSubmatch(text); m != nil {
		d, _ := parseDuration(m[1] + " " + m[2])
		return schedule{due: now.Add(d)}, cleanWhat(relRe.ReplaceAllString(text, ""))
	}

	tomorrow := tomorrowRe.MatchString(text)
	if m := atRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch strings.ToLower(m[3]) {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if tomorrow {
			due = due.AddDate(0, 0, 1)
		} else if !due.After(now) {
			// A past clock time means the next occurrence.
			due = due.AddDate(0, 0, 1)
		}
		what := cleanWhat(tomorrowRe.ReplaceAllString(atRe.ReplaceAllString(text, ""), ""))
		return schedule{due: due}, what
	}

	if tomorrow {
		due := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return schedule{due: due}, cleanWhat(tomorrowRe.ReplaceAllString(text, ""))
	}

	return schedule{}, cleanWhat(text)
}

// recurring maps an "every X [at HH:MM]" phrase to a cron expression.
func recurring(unit, text string) schedule {
	hour, minute := 9, 0
	if m := atRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if strings.EqualFold(m[3], "pm") && hour < 12 {
			hour += 12
		}
	}

	switch unit {
	case "hour":
		return schedule{cron: fmt.Sprintf("%d * * * *", minute), human: "every hour"}
	case "day":
		return schedule{cron: fmt.Sprintf("%d %d * * *", minute, hour), human: fmt.Sprintf("every day at %02d:%02d", hour, minute)}
	case "morning":
		return schedule{cron: fmt.Sprintf("%d %d * * *", minute, hour), human: fmt.Sprintf("every morning at %02d:%02d", hour, minute)}
	case "week":
		return schedule{cron: fmt.Sprintf("%d %d * * 1", minute, hour), human: fmt.Sprintf("every Monday at %02d:%02d", hour, minute)}
	default:
		dow := weekdays[unit]
		return schedule{cron: fmt.Sprintf("%d %d * * %d", minute, hour, dow), human: fmt.Sprintf("every %s at %02d:%02d", unit, hour, minute)}
	}
}

// parseDuration understands "30 minutes", "2 hours", "1 day" style phrases.
func parseDuration(s string) (time.Duration, bool) {
	m := regexp.MustCompile(`(?i)^\s*(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?)\s*$`).FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	switch strings.ToLower(m[2])[0] {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	}
	return 0, false
}

// cleanWhat trims schedule leftovers from the reminder text.
func cleanWhat(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ",")
	s = strings.TrimPrefix(s, "to ")
	return strings.Trim(strings.TrimSpace(s), ".,")
}
