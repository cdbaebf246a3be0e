// Package progress derives statistics from a habit's day sequence. Nothing
// here is stored; every figure is recomputed from the day records.
package progress

import (
	"github.com/brk3/habitd/pkg/habit"
)

func ExecutedCount(days []habit.HabitDay) int {
	n := 0
	for _, d := range days {
		if d.WasExecuted {
			n++
		}
	}
	return n
}

// TotalCount counts every materialized day, including future ones.
func TotalCount(days []habit.HabitDay) int {
	return len(days)
}

// ExecutionPercentage is 100*executed/total, or 0 for an empty sequence.
func ExecutionPercentage(days []habit.HabitDay) float64 {
	total := TotalCount(days)
	if total == 0 {
		return 0
	}
	return 100 * float64(ExecutedCount(days)) / float64(total)
}

// CurrentStreak counts consecutive executed occurrences walking back from
// the most recent one on or before today. The walk stops at the first day
// not executed, or where an occurrence the recurrence tracks has no record.
// days must be in ascending date order.
func CurrentStreak(h habit.Habit, days []habit.HabitDay, today habit.Date) int {
	occ := occurrences(h, days, today)
	streak := 0
	for i := len(occ) - 1; i >= 0; i-- {
		if !occ[i].WasExecuted {
			break
		}
		if i < len(occ)-1 && gap(h, occ[i].Day, occ[i+1].Day) {
			break
		}
		streak++
	}
	return streak
}

// LongestStreak is the longest run of executed occurrences on or before
// today, with runs broken the same way as in CurrentStreak.
func LongestStreak(h habit.Habit, days []habit.HabitDay, today habit.Date) int {
	occ := occurrences(h, days, today)
	best, run := 0, 0
	for i, d := range occ {
		switch {
		case !d.WasExecuted:
			run = 0
		case i > 0 && occ[i-1].WasExecuted && !gap(h, occ[i-1].Day, d.Day):
			run++
		default:
			run = 1
		}
		best = max(best, run)
	}
	return best
}

// Summarize gathers the statistics of one habit.
func Summarize(h habit.Habit, days []habit.HabitDay, today habit.Date, pending int) habit.HabitSummary {
	s := habit.HabitSummary{
		HabitID:              h.ID,
		Name:                 h.Name,
		ExecutedCount:        ExecutedCount(days),
		TotalCount:           TotalCount(days),
		ExecutionPercentage:  ExecutionPercentage(days),
		CurrentStreak:        CurrentStreak(h, days, today),
		LongestStreak:        LongestStreak(h, days, today),
		PendingNotifications: pending,
	}
	if len(days) > 0 {
		first := days[0].Day
		s.FirstTracked = &first
	}
	for i := len(days) - 1; i >= 0; i-- {
		if days[i].WasExecuted {
			last := days[i].Day
			s.LastExecuted = &last
			break
		}
	}
	return s
}

// occurrences keeps the records dated on or before today that are still
// tracked occurrences of h.
func occurrences(h habit.Habit, days []habit.HabitDay, today habit.Date) []habit.HabitDay {
	out := make([]habit.HabitDay, 0, len(days))
	for _, d := range days {
		if d.Day.After(today) || !h.Occurs(d.Day) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// gap reports whether h has an occurrence strictly between a and b.
func gap(h habit.Habit, a, b habit.Date) bool {
	for d := a.AddDays(1); d.Before(b); d = d.AddDays(1) {
		if h.Occurs(d) {
			return true
		}
	}
	return false
}
