package reconcile

import (
	"slices"
	"time"

	"github.com/brk3/habitd/pkg/habit"
)

// Plan is the difference between the reminders a habit should have and the
// ones on record.
type Plan struct {
	// Schedule lists fire moments with no live notification.
	Schedule []time.Time
	// Cancel lists scheduled notifications nobody wants any more.
	Cancel []habit.Notification
	// Keep lists notifications that already match a desired moment.
	Keep []habit.Notification
	// Expired lists scheduled notifications whose moment has passed; the
	// dispatcher has already fired them.
	Expired []habit.Notification
}

// Empty reports whether applying the plan would change anything.
func (p Plan) Empty() bool {
	return len(p.Schedule) == 0 && len(p.Cancel) == 0 && len(p.Expired) == 0
}

// Desired returns the fire moments h wants, in ascending order: every
// FireTime applying to each tracked day dated today or later, as long as the
// moment is still after now. Today and loc are taken from now.
func Desired(h habit.Habit, days []habit.HabitDay, now time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = now.Location()
	}
	today := habit.DateIn(now, loc)

	seen := map[int64]bool{}
	var out []time.Time
	for _, d := range days {
		if d.Day.Before(today) || !h.Occurs(d.Day) {
			continue
		}
		wd := d.Day.Weekday()
		for _, ft := range h.FireTimes {
			if !ft.AppliesTo(wd) {
				continue
			}
			at := d.Day.At(ft.Hour, ft.Minute, loc)
			if !at.After(now) || seen[at.UnixNano()] {
				continue
			}
			seen[at.UnixNano()] = true
			out = append(out, at)
		}
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// Diff matches desired moments against existing notifications. Canceled
// notifications are ignored; two live notifications for one moment are a
// ConsistencyError.
func Diff(habitID string, desired []time.Time, existing []habit.Notification, now time.Time) (Plan, error) {
	live := map[int64]habit.Notification{}
	for _, n := range existing {
		if n.Status == habit.StatusCanceled {
			continue
		}
		key := n.FireAt.UnixNano()
		if _, dup := live[key]; dup {
			return Plan{}, &habit.ConsistencyError{
				Entity: "notification",
				Key:    habitID + "@" + n.FireAt.UTC().Format(time.RFC3339),
			}
		}
		live[key] = n
	}

	want := make(map[int64]bool, len(desired))
	var plan Plan
	for _, at := range desired {
		key := at.UnixNano()
		want[key] = true
		if _, ok := live[key]; !ok {
			plan.Schedule = append(plan.Schedule, at)
		}
	}

	for _, n := range existing {
		if n.Status == habit.StatusCanceled {
			continue
		}
		switch {
		case want[n.FireAt.UnixNano()]:
			plan.Keep = append(plan.Keep, n)
		case n.Status != habit.StatusScheduled:
			// delivered notifications are history
		case !n.FireAt.After(now):
			plan.Expired = append(plan.Expired, n)
		default:
			plan.Cancel = append(plan.Cancel, n)
		}
	}
	return plan, nil
}
