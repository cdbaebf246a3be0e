// Package calendar keeps the shared set of calendar days that habit day
// records point at. At most one CalendarDay exists per civil date.
package calendar

import (
	"fmt"
	"sync"
	"time"

	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/pkg/habit"
)

// Registry hands out calendar days, creating them on first use. It
// remembers the days it has handed out so that a day recreated after a
// rolled back transaction keeps its original creation time.
type Registry struct {
	mu    sync.Mutex
	known map[habit.Date]habit.CalendarDay
	now   func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{known: map[habit.Date]habit.CalendarDay{}, now: now}
}

// GetOrCreate returns the calendar day for d, storing it through tx if the
// store does not have one yet. tx must be writable.
func (r *Registry) GetOrCreate(tx storage.Tx, d habit.Date) (habit.CalendarDay, error) {
	r.mu.Lock()
	day, ok := r.known[d]
	r.mu.Unlock()

	stored, found, err := tx.GetCalendarDay(d)
	if err != nil {
		return habit.CalendarDay{}, fmt.Errorf("load calendar day %s: %w", d, err)
	}
	switch {
	case found:
		day = stored
	case !ok:
		day = habit.CalendarDay{Date: d, CreatedAt: r.now()}
	}
	if !found {
		if err := tx.PutCalendarDay(day); err != nil {
			return habit.CalendarDay{}, fmt.Errorf("store calendar day %s: %w", d, err)
		}
	}

	r.mu.Lock()
	r.known[d] = day
	r.mu.Unlock()
	return day, nil
}

// GetOrCreateAt resolves t to its calendar date in loc.
func (r *Registry) GetOrCreateAt(tx storage.Tx, t time.Time, loc *time.Location) (habit.CalendarDay, error) {
	return r.GetOrCreate(tx, habit.DateIn(t, loc))
}
