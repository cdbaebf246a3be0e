// Package engine coordinates habit day tracking and reminder scheduling.
// It is the only component that talks to the notification dispatcher.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brk3/habitd/internal/calendar"
	"github.com/brk3/habitd/internal/clock"
	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/internal/progress"
	"github.com/brk3/habitd/internal/reconcile"
	"github.com/brk3/habitd/internal/sequence"
	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/pkg/habit"
	"github.com/google/uuid"
)

const (
	DefaultHorizonDays         = 7
	DefaultRolloverConcurrency = 4
	DefaultRolloverInterval    = time.Minute
)

type Options struct {
	HorizonDays         int
	AllowBackfill       bool
	DispatchConcurrency int
	RolloverConcurrency int
	RolloverInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.HorizonDays <= 0 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.DispatchConcurrency <= 0 {
		o.DispatchConcurrency = reconcile.DefaultConcurrency
	}
	if o.RolloverConcurrency <= 0 {
		o.RolloverConcurrency = DefaultRolloverConcurrency
	}
	if o.RolloverInterval <= 0 {
		o.RolloverInterval = DefaultRolloverInterval
	}
	return o
}

type Engine struct {
	store      storage.Store
	dispatcher dispatch.Dispatcher
	clock      clock.Clock
	seq        *sequence.Sequence
	rec        *reconcile.Reconciler
	opts       Options
	locks      *keyedMutex

	mu           sync.Mutex
	pending      map[string]*pass
	lastRollover habit.Date
	passes       sync.WaitGroup
	passCount    atomic.Int64
}

// pass is a queued reconciliation that any number of requests may wait on.
type pass struct {
	done chan struct{}
	res  reconcile.Result
	err  error
}

func New(store storage.Store, d dispatch.Dispatcher, c clock.Clock, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		store:      store,
		dispatcher: d,
		clock:      c,
		seq:        sequence.New(calendar.NewRegistry(c.Now)),
		rec:        reconcile.New(store, d, c, opts.DispatchConcurrency),
		opts:       opts,
		locks:      newKeyedMutex(),
		pending:    map[string]*pass{},
	}
}

func (e *Engine) today() habit.Date {
	return clock.Today(e.clock)
}

// Today returns the current calendar day in the configured zone.
func (e *Engine) Today() habit.Date {
	return e.today()
}

func (e *Engine) horizonEnd(today habit.Date) habit.Date {
	return today.AddDays(e.opts.HorizonDays)
}

// CreateHabit stores a new habit starting today, materializes its days
// through the horizon and schedules its reminders.
func (e *Engine) CreateHabit(ctx context.Context, h habit.Habit) (habit.Habit, reconcile.Result, error) {
	now := e.clock.Now()
	today := e.today()

	h.ID = uuid.NewString()
	h.Name = strings.TrimSpace(h.Name)
	h.CreatedAt = now
	h.UpdatedAt = now
	h.StartDate = today
	if err := h.Validate(); err != nil {
		return habit.Habit{}, reconcile.Result{}, err
	}

	unlock, err := e.locks.Lock(ctx, h.ID)
	if err != nil {
		return habit.Habit{}, reconcile.Result{}, err
	}
	defer unlock()

	err = e.store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutHabit(h); err != nil {
			return err
		}
		_, err := e.seq.Extend(tx, h, today, e.opts.HorizonDays)
		return err
	})
	if err != nil {
		return habit.Habit{}, reconcile.Result{}, fmt.Errorf("create habit: %w", err)
	}
	logger.InfoContext(ctx, "Habit created", "habit_id", h.ID, "habit_name", h.Name)
	e.refreshHabitCount(ctx)

	res, err := e.reconcileLocked(ctx, h.ID)
	return h, res, err
}

// UpdateHabit applies the user-editable attributes of h to the stored habit
// with the same id, regenerates its days and reconciles its reminders.
func (e *Engine) UpdateHabit(ctx context.Context, h habit.Habit) (habit.Habit, reconcile.Result, error) {
	unlock, err := e.locks.Lock(ctx, h.ID)
	if err != nil {
		return habit.Habit{}, reconcile.Result{}, err
	}
	defer unlock()

	now := e.clock.Now()
	today := e.today()
	var updated habit.Habit
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetHabit(h.ID)
		if err != nil {
			return err
		}
		cur.Name = strings.TrimSpace(h.Name)
		cur.Color = h.Color
		cur.EndDate = h.EndDate
		cur.Weekdays = h.Weekdays
		cur.FireTimes = h.FireTimes
		cur.UpdatedAt = now
		if err := cur.Validate(); err != nil {
			return err
		}
		if err := tx.PutHabit(cur); err != nil {
			return err
		}
		if _, err := e.seq.Regenerate(tx, cur, today, e.horizonEnd(today)); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return habit.Habit{}, reconcile.Result{}, fmt.Errorf("update habit %s: %w", h.ID, err)
	}
	logger.InfoContext(ctx, "Habit updated", "habit_id", h.ID)

	res, err := e.reconcileLocked(ctx, h.ID)
	return updated, res, err
}

// DeleteHabit cancels the habit's pending reminders, then removes the habit
// with its days and notifications.
func (e *Engine) DeleteHabit(ctx context.Context, id string) (reconcile.Result, error) {
	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return reconcile.Result{}, err
	}
	defer unlock()

	if _, err := e.Habit(ctx, id); err != nil {
		return reconcile.Result{}, err
	}
	res, err := e.rec.CancelAll(ctx, id)
	if err != nil {
		return res, err
	}
	if err := e.store.Update(ctx, func(tx storage.Tx) error {
		return tx.DeleteHabit(id)
	}); err != nil {
		return res, fmt.Errorf("delete habit %s: %w", id, err)
	}
	logger.InfoContext(ctx, "Habit deleted", "habit_id", id, "canceled", res.Canceled)
	e.refreshHabitCount(ctx)
	return res, nil
}

// MarkExecuted records whether the habit was done on date. It does not touch
// reminders.
func (e *Engine) MarkExecuted(ctx context.Context, id string, date habit.Date, executed bool) (habit.HabitDay, error) {
	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return habit.HabitDay{}, err
	}
	defer unlock()

	now := e.clock.Now()
	today := e.today()
	var day habit.HabitDay
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		h, err := tx.GetHabit(id)
		if err != nil {
			return err
		}
		day, err = e.seq.MarkExecuted(tx, h, date, executed, today, now, e.opts.AllowBackfill)
		return err
	})
	if err != nil {
		return habit.HabitDay{}, err
	}
	logger.DebugContext(ctx, "Habit day marked", "habit_id", id, "day", date, "executed", executed)
	return day, nil
}

// Reconcile brings the habit's reminders in line with its schedule. While a
// pass for the habit is running, further requests share a single follow-up
// pass that starts once the running one finishes.
func (e *Engine) Reconcile(ctx context.Context, id string) (reconcile.Result, error) {
	e.mu.Lock()
	p, ok := e.pending[id]
	if ok {
		reconcileRequestsTotal.WithLabelValues("joined").Inc()
	} else {
		reconcileRequestsTotal.WithLabelValues("started").Inc()
		p = &pass{done: make(chan struct{})}
		e.pending[id] = p
		e.passes.Add(1)
		go e.run(id, p)
	}
	e.mu.Unlock()

	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return reconcile.Result{HabitID: id}, ctx.Err()
	}
}

// run executes a queued pass. Passes are not cancelable once queued.
func (e *Engine) run(id string, p *pass) {
	defer e.passes.Done()
	defer close(p.done)

	ctx := context.Background()
	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		p.err = err
		return
	}
	defer unlock()

	// Requests arriving from here on see fresh state only in a later pass.
	e.mu.Lock()
	if e.pending[id] == p {
		delete(e.pending, id)
	}
	e.mu.Unlock()

	p.res, p.err = e.reconcileLocked(ctx, id)
}

// reconcileLocked runs a pass; the caller holds the habit's lock.
func (e *Engine) reconcileLocked(ctx context.Context, id string) (reconcile.Result, error) {
	e.passCount.Add(1)
	res, err := e.rec.Reconcile(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "Reconciliation failed", "habit_id", id, "error", err)
	}
	return res, err
}

// Wait blocks until queued reconciliation passes have finished.
func (e *Engine) Wait() {
	e.passes.Wait()
}

// Authorize asks the dispatcher for permission to deliver reminders. Once
// granted, every habit is reconciled so that reminders skipped while
// unauthorized get scheduled.
func (e *Engine) Authorize(ctx context.Context) (bool, error) {
	a, ok := e.dispatcher.(dispatch.Authorizer)
	if !ok {
		return e.dispatcher.IsAuthorized(ctx), nil
	}
	granted, err := a.Authorize(ctx)
	if err != nil {
		return false, fmt.Errorf("authorize notifications: %w", err)
	}
	logger.InfoContext(ctx, "Notification authorization requested", "granted", granted)
	if granted {
		if _, err := e.Rollover(ctx); err != nil {
			return true, err
		}
	}
	return granted, nil
}

func (e *Engine) refreshHabitCount(ctx context.Context) {
	habits, err := e.Habits(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Failed to update active habits metric", "error", err)
		return
	}
	activeHabits.Set(float64(len(habits)))
}

func (e *Engine) Habit(ctx context.Context, id string) (habit.Habit, error) {
	var h habit.Habit
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		h, err = tx.GetHabit(id)
		return err
	})
	return h, err
}

func (e *Engine) Habits(ctx context.Context) ([]habit.Habit, error) {
	var out []habit.Habit
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListHabits()
		return err
	})
	return out, err
}

// withHabit loads the habit and runs fn in the same read transaction.
func (e *Engine) withHabit(ctx context.Context, id string, fn func(tx storage.Tx, h habit.Habit) error) error {
	return e.store.View(ctx, func(tx storage.Tx) error {
		h, err := tx.GetHabit(id)
		if err != nil {
			return err
		}
		return fn(tx, h)
	})
}

func (e *Engine) Days(ctx context.Context, id string) ([]habit.HabitDay, error) {
	var out []habit.HabitDay
	err := e.withHabit(ctx, id, func(tx storage.Tx, h habit.Habit) error {
		var err error
		out, err = e.seq.Days(tx, h)
		return err
	})
	return out, err
}

func (e *Engine) CurrentDay(ctx context.Context, id string) (habit.HabitDay, bool, error) {
	var (
		day habit.HabitDay
		ok  bool
	)
	today := e.today()
	err := e.withHabit(ctx, id, func(tx storage.Tx, h habit.Habit) error {
		var err error
		day, ok, err = e.seq.CurrentDay(tx, h, today)
		return err
	})
	return day, ok, err
}

func (e *Engine) FutureDays(ctx context.Context, id string) ([]habit.HabitDay, error) {
	var out []habit.HabitDay
	today := e.today()
	err := e.withHabit(ctx, id, func(tx storage.Tx, h habit.Habit) error {
		var err error
		out, err = e.seq.FutureDays(tx, h, today)
		return err
	})
	return out, err
}

func (e *Engine) Notifications(ctx context.Context, id string, statuses ...habit.NotificationStatus) ([]habit.Notification, error) {
	var out []habit.Notification
	err := e.withHabit(ctx, id, func(tx storage.Tx, _ habit.Habit) error {
		var err error
		out, err = tx.ListNotifications(id, statuses...)
		return err
	})
	return out, err
}

func (e *Engine) Summary(ctx context.Context, id string) (habit.HabitSummary, error) {
	var s habit.HabitSummary
	now := e.clock.Now()
	today := e.today()
	err := e.withHabit(ctx, id, func(tx storage.Tx, h habit.Habit) error {
		days, err := e.seq.Days(tx, h)
		if err != nil {
			return err
		}
		scheduled, err := tx.ListNotifications(id, habit.StatusScheduled)
		if err != nil {
			return err
		}
		pending := 0
		for _, n := range scheduled {
			if n.FireAt.After(now) {
				pending++
			}
		}
		s = progress.Summarize(h, days, today, pending)
		return nil
	})
	return s, err
}
