// Package reconcile keeps a habit's scheduled reminders in step with its
// fire times and day sequence.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brk3/habitd/internal/clock"
	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/pkg/habit"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

// Result describes one reconciliation pass. Err combines the dispatcher
// failures of the pass; they do not fail the pass itself.
type Result struct {
	HabitID   string `json:"habit_id"`
	Scheduled int    `json:"scheduled"`
	Canceled  int    `json:"canceled"`
	Kept      int    `json:"kept"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Err       error  `json:"-"`
}

// Errors returns the individual dispatcher failures.
func (r Result) Errors() []error {
	return multierr.Errors(r.Err)
}

type Reconciler struct {
	store       storage.Store
	dispatcher  dispatch.Dispatcher
	clock       clock.Clock
	concurrency int
}

func New(store storage.Store, d dispatch.Dispatcher, c clock.Clock, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{store: store, dispatcher: d, clock: c, concurrency: concurrency}
}

// Reconcile runs one pass for the habit. Callers must not run two passes
// for the same habit at once.
func (r *Reconciler) Reconcile(ctx context.Context, habitID string) (Result, error) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	now := r.clock.Now()
	loc := r.clock.Location()
	today := habit.DateIn(now, loc)

	var (
		h        habit.Habit
		days     []habit.HabitDay
		existing []habit.Notification
	)
	err := r.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if h, err = tx.GetHabit(habitID); err != nil {
			return err
		}
		if days, err = tx.ListHabitDays(habitID, storage.DayQuery{From: &today}); err != nil {
			return err
		}
		existing, err = tx.ListNotifications(habitID, habit.StatusScheduled, habit.StatusDelivered)
		return err
	})
	if err != nil {
		return Result{HabitID: habitID}, fmt.Errorf("load habit %s: %w", habitID, err)
	}

	plan, err := Diff(habitID, Desired(h, days, now, loc), existing, now)
	if err != nil {
		return Result{HabitID: habitID}, err
	}
	res := Result{HabitID: habitID, Kept: len(plan.Keep)}
	if plan.Empty() {
		return res, nil
	}

	payload := dispatch.Payload{HabitID: h.ID, Title: h.TitleText(), Body: h.SubtitleText()}
	canceled, errs := r.cancel(ctx, plan.Cancel)
	created, schedErrs := r.schedule(ctx, h.ID, plan.Schedule, payload, now)
	errs = append(errs, schedErrs...)

	for i := range canceled {
		canceled[i].Status = habit.StatusCanceled
		canceled[i].UpdatedAt = now
	}
	expired := make([]habit.Notification, len(plan.Expired))
	for i, n := range plan.Expired {
		n.Status = habit.StatusDelivered
		n.UpdatedAt = now
		expired[i] = n
	}

	if len(canceled)+len(created)+len(expired) > 0 {
		err = r.store.Update(ctx, func(tx storage.Tx) error {
			for _, batch := range [][]habit.Notification{canceled, expired, created} {
				for _, n := range batch {
					if err := tx.PutNotification(n); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			r.compensate(created)
			return Result{HabitID: habitID}, fmt.Errorf("store notifications of habit %s: %w", habitID, err)
		}
	}

	res.Scheduled = len(created)
	res.Canceled = len(canceled)
	res.Delivered = len(expired)
	res.Failed = len(errs)
	res.Err = multierr.Combine(errs...)

	notificationsTotal.WithLabelValues("scheduled").Add(float64(res.Scheduled))
	notificationsTotal.WithLabelValues("canceled").Add(float64(res.Canceled))
	notificationsTotal.WithLabelValues("delivered").Add(float64(res.Delivered))
	if res.Err != nil {
		logger.WarnContext(ctx, "Reconciliation finished with dispatcher errors",
			"habit_id", habitID, "failed", res.Failed, "error", res.Err)
	}
	logger.DebugContext(ctx, "Reconciled habit", "habit_id", habitID,
		"scheduled", res.Scheduled, "canceled", res.Canceled, "kept", res.Kept, "delivered", res.Delivered)
	return res, nil
}

// CancelAll cancels the habit's pending notifications and marks them
// canceled. It is used before a habit is deleted.
func (r *Reconciler) CancelAll(ctx context.Context, habitID string) (Result, error) {
	var pending []habit.Notification
	err := r.store.View(ctx, func(tx storage.Tx) error {
		var err error
		pending, err = tx.ListNotifications(habitID, habit.StatusScheduled)
		return err
	})
	if err != nil {
		return Result{HabitID: habitID}, fmt.Errorf("load notifications of habit %s: %w", habitID, err)
	}

	canceled, errs := r.cancel(ctx, pending)
	now := r.clock.Now()
	if len(canceled) > 0 {
		err = r.store.Update(ctx, func(tx storage.Tx) error {
			for _, n := range canceled {
				n.Status = habit.StatusCanceled
				n.UpdatedAt = now
				if err := tx.PutNotification(n); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return Result{HabitID: habitID}, fmt.Errorf("store notifications of habit %s: %w", habitID, err)
		}
	}
	notificationsTotal.WithLabelValues("canceled").Add(float64(len(canceled)))
	return Result{HabitID: habitID, Canceled: len(canceled), Failed: len(errs), Err: multierr.Combine(errs...)}, nil
}

// Release marks the habit's future scheduled notifications canceled without
// calling the dispatcher. It is used when the dispatcher no longer holds
// them, so that the next pass schedules them again. Past ones are left for
// the next pass to expire.
func (r *Reconciler) Release(ctx context.Context, habitID string) (int, error) {
	now := r.clock.Now()
	released := 0
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		pending, err := tx.ListNotifications(habitID, habit.StatusScheduled)
		if err != nil {
			return err
		}
		for _, n := range pending {
			if !n.FireAt.After(now) {
				continue
			}
			n.Status = habit.StatusCanceled
			n.UpdatedAt = now
			if err := tx.PutNotification(n); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("release notifications of habit %s: %w", habitID, err)
	}
	notificationsTotal.WithLabelValues("released").Add(float64(released))
	return released, nil
}

// Prune removes the habit's canceled and delivered notifications that fired
// before the given moment.
func (r *Reconciler) Prune(ctx context.Context, habitID string, before time.Time) (int, error) {
	var pruned int
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		pruned, err = tx.PruneNotifications(habitID, before)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune notifications of habit %s: %w", habitID, err)
	}
	notificationsTotal.WithLabelValues("pruned").Add(float64(pruned))
	return pruned, nil
}

// cancel asks the dispatcher to drop each notification. An id the
// dispatcher no longer knows counts as canceled.
func (r *Reconciler) cancel(ctx context.Context, ns []habit.Notification) ([]habit.Notification, []error) {
	ok := make([]bool, len(ns))
	errs := make([]error, len(ns))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, n := range ns {
		g.Go(func() error {
			err := r.dispatcher.Cancel(ctx, n.DispatcherID)
			if err == nil || errors.Is(err, dispatch.ErrNotFound) {
				ok[i] = true
				return nil
			}
			dispatchFailuresTotal.WithLabelValues("cancel", "error").Inc()
			errs[i] = &dispatch.SchedulingError{HabitID: n.HabitID, FireAt: n.FireAt, Op: "cancel", Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var canceled []habit.Notification
	for i, n := range ns {
		if ok[i] {
			canceled = append(canceled, n)
		}
	}
	return canceled, compact(errs)
}

// schedule registers each moment with the dispatcher. Nothing is sent when
// the dispatcher is not authorized.
func (r *Reconciler) schedule(ctx context.Context, habitID string, moments []time.Time, p dispatch.Payload, now time.Time) ([]habit.Notification, []error) {
	if len(moments) == 0 {
		return nil, nil
	}
	if !r.dispatcher.IsAuthorized(ctx) {
		errs := make([]error, len(moments))
		for i, at := range moments {
			errs[i] = &dispatch.SchedulingError{HabitID: habitID, FireAt: at, Op: "schedule", Err: dispatch.ErrUnauthorized}
		}
		dispatchFailuresTotal.WithLabelValues("schedule", "unauthorized").Add(float64(len(moments)))
		return nil, errs
	}

	created := make([]*habit.Notification, len(moments))
	errs := make([]error, len(moments))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, at := range moments {
		g.Go(func() error {
			id, err := r.dispatcher.Schedule(ctx, at, p)
			if err != nil {
				kind := "error"
				if errors.Is(err, dispatch.ErrUnauthorized) {
					kind = "unauthorized"
				}
				dispatchFailuresTotal.WithLabelValues("schedule", kind).Inc()
				errs[i] = &dispatch.SchedulingError{HabitID: habitID, FireAt: at, Op: "schedule", Err: err}
				return nil
			}
			created[i] = &habit.Notification{
				ID:           uuid.NewString(),
				HabitID:      habitID,
				FireAt:       at,
				Status:       habit.StatusScheduled,
				DispatcherID: id,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []habit.Notification
	for _, n := range created {
		if n != nil {
			out = append(out, *n)
		}
	}
	return out, compact(errs)
}

// compensate withdraws reminders whose notification records could not be
// stored, so the dispatcher holds nothing the store does not know about.
func (r *Reconciler) compensate(created []habit.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, n := range created {
		if err := r.dispatcher.Cancel(ctx, n.DispatcherID); err != nil && !errors.Is(err, dispatch.ErrNotFound) {
			logger.Error("Failed to withdraw unrecorded reminder",
				"habit_id", n.HabitID, "dispatcher_id", n.DispatcherID, "error", err)
		}
	}
}

func compact(errs []error) []error {
	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
