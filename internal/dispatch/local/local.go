// Package local fires reminders from in-process timers. Scheduled reminders
// do not survive a restart, so the dispatcher reports itself as ephemeral and
// the engine reschedules stored reminders when it starts.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/internal/nudge"
	"github.com/google/uuid"
)

type Dispatcher struct {
	notifier nudge.Notifier
	now      func() time.Time

	mu         sync.Mutex
	authorized bool
	timers     map[string]*time.Timer
}

type Option func(*Dispatcher)

// WithAuthorized sets the initial authorization state. Dispatchers start
// authorized.
func WithAuthorized(ok bool) Option {
	return func(d *Dispatcher) { d.authorized = ok }
}

// WithNow replaces the clock used to compute timer delays.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(n nudge.Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier:   n,
		now:        time.Now,
		authorized: true,
		timers:     map[string]*time.Timer{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Schedule(_ context.Context, fireAt time.Time, p dispatch.Payload) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.authorized {
		return "", dispatch.ErrUnauthorized
	}

	id := uuid.NewString()
	delay := fireAt.Sub(d.now())
	d.timers[id] = time.AfterFunc(delay, func() { d.fire(id, fireAt, p) })
	logger.Debug("Timer armed", "dispatcher_id", id, "habit_id", p.HabitID, "fire_at", fireAt)
	return id, nil
}

func (d *Dispatcher) fire(id string, fireAt time.Time, p dispatch.Payload) {
	d.mu.Lock()
	_, live := d.timers[id]
	delete(d.timers, id)
	d.mu.Unlock()
	if !live {
		return
	}

	r := nudge.Reminder{HabitID: p.HabitID, Title: p.Title, Body: p.Body, FireAt: fireAt}
	if err := d.notifier.Notify(context.Background(), r); err != nil {
		logger.Error("Failed to deliver reminder", "dispatcher_id", id, "habit_id", p.HabitID, "error", err)
	}
}

func (d *Dispatcher) Cancel(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timers[id]
	if !ok {
		return fmt.Errorf("timer %s: %w", id, dispatch.ErrNotFound)
	}
	t.Stop()
	delete(d.timers, id)
	return nil
}

func (d *Dispatcher) IsAuthorized(context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authorized
}

// Ephemeral reports true: timers live only as long as the process.
func (d *Dispatcher) Ephemeral() bool { return true }

// Authorize grants permission. The local dispatcher has nobody to ask, so
// the request always succeeds.
func (d *Dispatcher) Authorize(context.Context) (bool, error) {
	d.SetAuthorized(true)
	return true, nil
}

func (d *Dispatcher) SetAuthorized(ok bool) {
	d.mu.Lock()
	d.authorized = ok
	d.mu.Unlock()
}

// Pending returns the number of armed timers.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop disarms every timer.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}

var (
	_ dispatch.Dispatcher = (*Dispatcher)(nil)
	_ dispatch.Authorizer = (*Dispatcher)(nil)
)
