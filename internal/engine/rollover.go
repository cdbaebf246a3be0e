package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/internal/reconcile"
	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/pkg/habit"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// RolloverReport summarizes one day rollover. Err combines the failures of
// individual habits.
type RolloverReport struct {
	Day     habit.Date         `json:"day"`
	Habits  int                `json:"habits"`
	Results []reconcile.Result `json:"results"`
	Err     error              `json:"-"`
}

// Rollover extends every habit's day sequence to the new horizon and
// reconciles every habit that has fire times. Habits are processed in
// parallel; one habit failing does not stop the others.
func (e *Engine) Rollover(ctx context.Context) (RolloverReport, error) {
	today := e.today()
	habits, err := e.Habits(ctx)
	if err != nil {
		return RolloverReport{Day: today}, fmt.Errorf("rollover: %w", err)
	}

	var (
		mu      sync.Mutex
		results []reconcile.Result
		errs    error
	)
	var g errgroup.Group
	g.SetLimit(e.opts.RolloverConcurrency)
	for _, h := range habits {
		g.Go(func() error {
			res, reconciled, err := e.rolloverHabit(ctx, h.ID, today)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("habit %s: %w", h.ID, err))
				return nil
			}
			if reconciled {
				results = append(results, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	// A failed habit keeps the rollover due so the next tick retries it.
	if errs == nil {
		e.mu.Lock()
		e.lastRollover = today
		e.mu.Unlock()
	}
	rolloversTotal.Inc()
	activeHabits.Set(float64(len(habits)))

	report := RolloverReport{Day: today, Habits: len(habits), Results: results, Err: errs}
	if errs != nil {
		logger.ErrorContext(ctx, "Rollover finished with errors", "day", today, "error", errs)
		return report, errs
	}
	logger.InfoContext(ctx, "Rollover complete", "day", today, "habits", len(habits), "reconciled", len(results))
	return report, nil
}

func (e *Engine) rolloverHabit(ctx context.Context, id string, today habit.Date) (reconcile.Result, bool, error) {
	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return reconcile.Result{}, false, err
	}
	defer unlock()

	var h habit.Habit
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		cur, err := tx.GetHabit(id)
		if err != nil {
			return err
		}
		h = cur
		_, err = e.seq.Extend(tx, cur, today, e.opts.HorizonDays)
		return err
	})
	if err != nil {
		return reconcile.Result{}, false, err
	}
	e.pruneLocked(ctx, id, today)
	if len(h.FireTimes) == 0 {
		return reconcile.Result{}, false, nil
	}
	res, err := e.reconcileLocked(ctx, id)
	return res, true, err
}

// pruneLocked drops notification history older than the horizon length
// before today. Failures are logged; history is retried on the next day.
func (e *Engine) pruneLocked(ctx context.Context, id string, today habit.Date) {
	cutoff := today.AddDays(-e.opts.HorizonDays).At(0, 0, e.clock.Location())
	n, err := e.rec.Prune(ctx, id, cutoff)
	if err != nil {
		logger.WarnContext(ctx, "Failed to prune notification history", "habit_id", id, "error", err)
		return
	}
	if n > 0 {
		logger.DebugContext(ctx, "Pruned notification history", "habit_id", id, "pruned", n)
	}
}

// Recover releases the reminders that an ephemeral dispatcher lost with the
// previous process, so that the next rollover schedules them again. It must
// run before the engine serves requests. With a durable dispatcher it does
// nothing.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	eph, ok := e.dispatcher.(dispatch.Ephemeral)
	if !ok || !eph.Ephemeral() {
		return 0, nil
	}
	habits, err := e.Habits(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover reminders: %w", err)
	}

	released := 0
	for _, h := range habits {
		unlock, err := e.locks.Lock(ctx, h.ID)
		if err != nil {
			return released, err
		}
		n, err := e.rec.Release(ctx, h.ID)
		unlock()
		if err != nil {
			return released, fmt.Errorf("recover reminders: %w", err)
		}
		released += n
	}

	e.mu.Lock()
	e.lastRollover = habit.Date{}
	e.mu.Unlock()
	logger.InfoContext(ctx, "Released reminders of a previous process", "habits", len(habits), "released", released)
	return released, nil
}

// Foreground runs a rollover if none has succeeded yet on the current
// calendar day. It reports whether a rollover ran.
func (e *Engine) Foreground(ctx context.Context) (bool, error) {
	today := e.today()
	e.mu.Lock()
	due := e.lastRollover != today
	e.mu.Unlock()
	if !due {
		return false, nil
	}
	_, err := e.Rollover(ctx)
	return true, err
}

// Run checks for a day boundary crossing once at start and then on every
// tick until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.Foreground(ctx); err != nil {
		logger.Warn("Initial rollover failed", "error", err)
	}

	ticker := time.NewTicker(e.opts.RolloverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := e.Foreground(ctx); err != nil {
				logger.Error("Rollover failed", "error", err)
			}
		case <-ctx.Done():
			e.Wait()
			return nil
		}
	}
}
