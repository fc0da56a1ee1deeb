package capability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"chaperone/internal/domain"
)

const schedulerTick = 30 * time.Second

// Scheduler polls the store for due reminders and delivers them over the
// channel each reminder was created on. One-shot reminders are marked done
// after delivery; recurring ones are rescheduled from their cron expression.
type Scheduler struct {
	store      domain.HistoryStore
	transports map[string]domain.Transport // keyed by channel name
	logger     *slog.Logger
	now        func() time.Time
}

func NewScheduler(store domain.HistoryStore, transports map[string]domain.Transport, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: store, transports: transports, logger: logger, now: time.Now}
}

// Run blocks until ctx is cancelled, firing due reminders on every tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		s.logger.Error("reading due reminders", "err", err)
		return
	}
	for _, rem := range due {
		if err := s.fire(ctx, rem, now); err != nil {
			s.logger.Error("firing reminder", "id", rem.ID, "err", err)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, rem domain.Reminder, now time.Time) error {
	t, ok := s.transports[rem.Channel]
	if !ok {
		return fmt.Errorf("no transport for channel %q", rem.Channel)
	}
	if err := t.SendText(ctx, rem.ChatID, "⏰ Reminder: "+rem.Text, nil); err != nil {
		return err
	}

	if rem.CronExpr != "" {
		sched, err := cron.ParseStandard(rem.CronExpr)
		if err != nil {
			return fmt.Errorf("cron %q: %w", rem.CronExpr, err)
		}
		rem.DueAt = sched.Next(now)
		return s.store.UpdateReminder(ctx, rem)
	}

	rem.Done = true
	rem.DoneAt = &now
	return s.store.UpdateReminder(ctx, rem)
}
