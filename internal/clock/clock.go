// Package clock supplies "now" and "today" to the engine. Calendar days are
// normalized in a single configured location: the location is re-read on
// every access, and a habit's start date is frozen when it is created.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/brk3/habitd/pkg/habit"
)

type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Today returns the current calendar date in the clock's location.
func Today(c Clock) habit.Date {
	return habit.DateIn(c.Now(), c.Location())
}

// LoadLocation resolves an IANA zone name; "" and "Local" mean the host zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

type System struct {
	loc *time.Location
}

func NewSystem(timezone string) (*System, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &System{loc: loc}, nil
}

func (s *System) Now() time.Time           { return time.Now().In(s.loc) }
func (s *System) Location() *time.Location { return s.loc }

// Fixed is a manually driven clock for tests and replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now, loc: now.Location()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc
}

func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
