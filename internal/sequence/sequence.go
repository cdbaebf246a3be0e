// Package sequence materializes and queries the per-habit day records that
// make up a habit's day sequence.
package sequence

import (
	"fmt"
	"time"

	"github.com/brk3/habitd/internal/calendar"
	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/pkg/habit"
	"github.com/google/uuid"
)

type Sequence struct {
	reg *calendar.Registry
}

func New(reg *calendar.Registry) *Sequence {
	return &Sequence{reg: reg}
}

// Materialize makes sure a day record exists for every tracked occurrence of
// h within [from, to] and returns them in date order. Existing records are
// returned as stored; their execution state is never overwritten.
func (s *Sequence) Materialize(tx storage.Tx, h habit.Habit, from, to habit.Date) ([]habit.HabitDay, error) {
	if from.After(to) {
		return nil, &habit.InvalidRangeError{From: from, To: to}
	}

	start := habit.MaxDate(from, h.StartDate)
	end := to
	if h.EndDate != nil {
		end = habit.MinDate(end, *h.EndDate)
	}
	out := []habit.HabitDay{}
	if start.After(end) {
		return out, nil
	}

	stored, err := tx.ListHabitDays(h.ID, storage.DayQuery{From: &start, To: &end})
	if err != nil {
		return nil, fmt.Errorf("list days of habit %s: %w", h.ID, err)
	}
	existing, err := index(h.ID, stored)
	if err != nil {
		return nil, err
	}

	for d := start; !d.After(end); d = d.AddDays(1) {
		if !h.Tracks(d.Weekday()) {
			continue
		}
		if _, err := s.reg.GetOrCreate(tx, d); err != nil {
			return nil, err
		}
		if day, ok := existing[d]; ok {
			out = append(out, day)
			continue
		}
		day := habit.HabitDay{ID: uuid.NewString(), HabitID: h.ID, Day: d}
		if err := tx.PutHabitDay(day); err != nil {
			return nil, fmt.Errorf("store day %s of habit %s: %w", d, h.ID, err)
		}
		out = append(out, day)
	}
	return out, nil
}

// Regenerate rebuilds the sequence after h's recurrence or range changed. It
// materializes [StartDate, horizonEnd], so weekdays added by the change get
// their past occurrences too, and removes records outside the active range
// as well as future records on weekdays h no longer tracks. Past records on
// untracked weekdays stay as history.
func (s *Sequence) Regenerate(tx storage.Tx, h habit.Habit, today, horizonEnd habit.Date) ([]habit.HabitDay, error) {
	horizonEnd = habit.MaxDate(horizonEnd, today)
	if _, err := s.Materialize(tx, h, habit.MinDate(h.StartDate, today), horizonEnd); err != nil {
		return nil, err
	}

	all, err := s.Days(tx, h)
	if err != nil {
		return nil, err
	}
	kept := all[:0]
	for _, d := range all {
		stale := !h.Active(d.Day) || (d.Day.After(today) && !h.Tracks(d.Day.Weekday()))
		if !stale {
			kept = append(kept, d)
			continue
		}
		if err := tx.DeleteHabitDay(h.ID, d.Day); err != nil {
			return nil, fmt.Errorf("prune day %s of habit %s: %w", d.Day, h.ID, err)
		}
	}
	return kept, nil
}

// Extend pushes the rolling horizon forward to today+horizonDays. It starts
// from the day after the latest record, or from the start date when there is
// none, so days that passed while nothing ran are filled in.
func (s *Sequence) Extend(tx storage.Tx, h habit.Habit, today habit.Date, horizonDays int) ([]habit.HabitDay, error) {
	last, ok, err := tx.LastHabitDay(h.ID)
	if err != nil {
		return nil, fmt.Errorf("load last day of habit %s: %w", h.ID, err)
	}
	from := today
	switch {
	case !ok:
		from = habit.MinDate(h.StartDate, today)
	case last.Day.Before(today):
		from = last.Day.AddDays(1)
	}
	return s.Materialize(tx, h, from, today.AddDays(max(horizonDays, 0)))
}

// CurrentDay returns today's record, if today is a materialized occurrence.
func (s *Sequence) CurrentDay(tx storage.Tx, h habit.Habit, today habit.Date) (habit.HabitDay, bool, error) {
	if !h.Occurs(today) {
		return habit.HabitDay{}, false, nil
	}
	return tx.GetHabitDay(h.ID, today)
}

// FutureDays returns the records dated strictly after today.
func (s *Sequence) FutureDays(tx storage.Tx, h habit.Habit, today habit.Date) ([]habit.HabitDay, error) {
	tomorrow := today.AddDays(1)
	return s.list(tx, h, storage.DayQuery{From: &tomorrow})
}

func (s *Sequence) Days(tx storage.Tx, h habit.Habit) ([]habit.HabitDay, error) {
	return s.list(tx, h, storage.DayQuery{})
}

func (s *Sequence) list(tx storage.Tx, h habit.Habit, q storage.DayQuery) ([]habit.HabitDay, error) {
	days, err := tx.ListHabitDays(h.ID, q)
	if err != nil {
		return nil, fmt.Errorf("list days of habit %s: %w", h.ID, err)
	}
	if _, err := index(h.ID, days); err != nil {
		return nil, err
	}
	return days, nil
}

// MarkExecuted records whether h was executed on date. Setting the current
// value again changes nothing.
func (s *Sequence) MarkExecuted(tx storage.Tx, h habit.Habit, date habit.Date, executed bool, today habit.Date, now time.Time, allowBackfill bool) (habit.HabitDay, error) {
	if date.After(today) {
		return habit.HabitDay{}, &habit.FutureDayError{Day: date, Today: today}
	}
	if date.Before(today) && !allowBackfill {
		return habit.HabitDay{}, habit.ErrBackfillDisabled
	}

	day, ok, err := tx.GetHabitDay(h.ID, date)
	if err != nil {
		return habit.HabitDay{}, fmt.Errorf("load day %s of habit %s: %w", date, h.ID, err)
	}
	if !ok {
		return habit.HabitDay{}, fmt.Errorf("habit %s on %s: %w", h.ID, date, habit.ErrDayNotTracked)
	}
	if day.WasExecuted == executed {
		return day, nil
	}

	day.WasExecuted = executed
	day.MarkedAt = &now
	if err := tx.PutHabitDay(day); err != nil {
		return habit.HabitDay{}, fmt.Errorf("store day %s of habit %s: %w", date, h.ID, err)
	}
	return day, nil
}

func index(habitID string, days []habit.HabitDay) (map[habit.Date]habit.HabitDay, error) {
	out := make(map[habit.Date]habit.HabitDay, len(days))
	for _, d := range days {
		if _, dup := out[d.Day]; dup {
			return nil, &habit.ConsistencyError{Entity: "habit day", Key: habitID + "/" + d.Day.String()}
		}
		out[d.Day] = d
	}
	return out, nil
}
