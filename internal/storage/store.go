package storage

import (
	"context"
	"time"

	"github.com/brk3/habitd/pkg/habit"
)

// ErrNotFound is returned by single-entity lookups that find nothing.
var ErrNotFound = habit.ErrNotFound

// DayQuery filters a habit's day records. Nil bounds are open; both bounds
// are inclusive.
type DayQuery struct {
	From         *habit.Date
	To           *habit.Date
	ExecutedOnly bool
}

func (q DayQuery) Match(d habit.HabitDay) bool {
	if q.From != nil && d.Day.Before(*q.From) {
		return false
	}
	if q.To != nil && d.Day.After(*q.To) {
		return false
	}
	return !q.ExecutedOnly || d.WasExecuted
}

// Tx is a unit of work against the entity store. Writes made through a Tx
// passed to Store.Update are committed together or not at all.
type Tx interface {
	GetCalendarDay(d habit.Date) (habit.CalendarDay, bool, error)
	PutCalendarDay(day habit.CalendarDay) error

	PutHabit(h habit.Habit) error
	GetHabit(id string) (habit.Habit, error)
	ListHabits() ([]habit.Habit, error)
	// DeleteHabit removes the habit with its day records and notifications.
	DeleteHabit(id string) error

	PutHabitDay(d habit.HabitDay) error
	GetHabitDay(habitID string, day habit.Date) (habit.HabitDay, bool, error)
	// ListHabitDays returns matching records ordered by date ascending.
	ListHabitDays(habitID string, q DayQuery) ([]habit.HabitDay, error)
	// LastHabitDay returns the habit's latest record.
	LastHabitDay(habitID string) (habit.HabitDay, bool, error)
	DeleteHabitDay(habitID string, day habit.Date) error

	PutNotification(n habit.Notification) error
	// ListNotifications returns the habit's notifications ordered by fire
	// time; an empty status list matches every status.
	ListNotifications(habitID string, statuses ...habit.NotificationStatus) ([]habit.Notification, error)
	// PruneNotifications deletes the habit's canceled and delivered
	// notifications that fired before the given moment and returns how many
	// were removed. Scheduled notifications are never pruned.
	PruneNotifications(habitID string, before time.Time) (int, error)
}

type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
