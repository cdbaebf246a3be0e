// Package nudge delivers reminders once a dispatcher decides they are due.
package nudge

import (
	"context"
	"time"

	"github.com/brk3/habitd/internal/logger"
)

// Reminder is a fired notification on its way to the user.
type Reminder struct {
	HabitID string    `json:"habit_id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	FireAt  time.Time `json:"fire_at"`
}

type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// LogNotifier writes reminders to the log. It is the default when no e-mail
// delivery is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, r Reminder) error {
	logger.InfoContext(ctx, "Reminder due", "habit_id", r.HabitID, "title", r.Title, "fire_at", r.FireAt)
	return nil
}

// Multi fans a reminder out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Reminder) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			logger.WarnContext(ctx, "Failed to deliver reminder", "habit_id", r.HabitID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
