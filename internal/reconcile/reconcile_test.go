package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brk3/habitd/internal/calendar"
	"github.com/brk3/habitd/internal/clock"
	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/dispatch/dispatchtest"
	"github.com/brk3/habitd/internal/sequence"
	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/internal/storage/storagetest"
	"github.com/brk3/habitd/pkg/habit"
)

const horizon = 7

type fixture struct {
	store storage.Store
	clock *clock.Fixed
	disp  *dispatchtest.Fake
	seq   *sequence.Sequence
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storagetest.NewBolt(t),
		clock: clock.NewFixed(monday.At(10, 0, time.UTC)),
		disp:  dispatchtest.New(),
		seq:   sequence.New(calendar.NewRegistry(nil)),
	}
	f.rec = New(f.store, f.disp, f.clock, 2)
	return f
}

// save stores h and regenerates its days through the horizon.
func (f *fixture) save(t *testing.T, h habit.Habit) {
	t.Helper()
	today := clock.Today(f.clock)
	err := f.store.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutHabit(h); err != nil {
			return err
		}
		_, err := f.seq.Regenerate(tx, h, today, today.AddDays(horizon))
		return err
	})
	if err != nil {
		t.Fatalf("failed to save habit: %v", err)
	}
}

func (f *fixture) reconcile(t *testing.T, id string) Result {
	t.Helper()
	res, err := f.rec.Reconcile(context.Background(), id)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	return res
}

func (f *fixture) scheduled(t *testing.T, id string) []habit.Notification {
	t.Helper()
	var out []habit.Notification
	err := f.store.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.ListNotifications(id, habit.StatusScheduled)
		return err
	})
	if err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	return out
}

func swimming() habit.Habit {
	return habit.Habit{
		ID:        "swim",
		Name:      "Go swimming",
		Color:     habit.ColorBlue,
		StartDate: monday,
		FireTimes: []habit.FireTime{{Hour: 18}},
	}
}

func TestReconcile_GoSwimming(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)

	res := f.reconcile(t, h.ID)
	// today's 18:00 is still ahead, plus one per day through the horizon
	if res.Scheduled != horizon+1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	notes := f.scheduled(t, h.ID)
	if len(notes) != horizon+1 {
		t.Fatalf("stored %d notifications want %d", len(notes), horizon+1)
	}
	for i, n := range notes {
		want := monday.AddDays(i).At(18, 0, time.UTC)
		if !n.FireAt.Equal(want) || n.DispatcherID == "" {
			t.Errorf("notification %d: %+v want fire at %v", i, n, want)
		}
	}
	if got := f.disp.Live(); len(got) != horizon+1 {
		t.Errorf("dispatcher holds %d reminders want %d", len(got), horizon+1)
	}
}

func TestReconcile_SecondRunMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)
	f.reconcile(t, h.ID)
	f.disp.Reset()

	res := f.reconcile(t, h.ID)
	if calls := f.disp.Calls(); calls != 0 {
		t.Errorf("second pass made %d dispatcher calls", calls)
	}
	if res.Kept != horizon+1 || res.Scheduled != 0 || res.Canceled != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestReconcile_MovedFireTime(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)
	f.reconcile(t, h.ID)
	before := len(f.scheduled(t, h.ID))

	h.FireTimes = []habit.FireTime{{Hour: 19}}
	f.save(t, h)
	res := f.reconcile(t, h.ID)

	if res.Canceled != before || res.Scheduled != before {
		t.Errorf("expected %d canceled and rescheduled, got %+v", before, res)
	}
	notes := f.scheduled(t, h.ID)
	if len(notes) != before {
		t.Fatalf("count changed: %d -> %d", before, len(notes))
	}
	for _, n := range notes {
		if n.FireAt.Hour() != 19 {
			t.Errorf("stale fire time %v", n.FireAt)
		}
	}
	for _, at := range f.disp.Live() {
		if at.Hour() != 19 {
			t.Errorf("dispatcher still holds %v", at)
		}
	}
}

func TestReconcile_ShortenedEndDate(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)
	f.reconcile(t, h.ID)
	kept := f.scheduled(t, h.ID)[:horizon+1-3]

	end := monday.AddDays(horizon - 3)
	h.EndDate = &end
	f.save(t, h)
	res := f.reconcile(t, h.ID)

	if res.Canceled != 3 || res.Scheduled != 0 || res.Kept != len(kept) {
		t.Fatalf("expected exactly 3 cancellations, got %+v", res)
	}
	notes := f.scheduled(t, h.ID)
	if len(notes) != len(kept) {
		t.Fatalf("got %d notifications want %d", len(notes), len(kept))
	}
	for i := range kept {
		if notes[i].ID != kept[i].ID {
			t.Errorf("earlier notification %s was touched", kept[i].ID)
		}
	}
}

func TestReconcile_Unauthorized(t *testing.T) {
	f := newFixture(t)
	f.disp.SetAuthorized(false)
	h := swimming()
	f.save(t, h)

	res, err := f.rec.Reconcile(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("unauthorized dispatcher must not fail the pass: %v", err)
	}
	if res.Scheduled != 0 || res.Failed != horizon+1 {
		t.Errorf("unexpected result %+v", res)
	}
	for _, e := range res.Errors() {
		if !errors.Is(e, dispatch.ErrUnauthorized) {
			t.Errorf("unexpected error %v", e)
		}
	}
	if f.disp.Schedules != 0 {
		t.Errorf("scheduled %d times while unauthorized", f.disp.Schedules)
	}
	if notes := f.scheduled(t, h.ID); len(notes) != 0 {
		t.Errorf("stored %d notifications", len(notes))
	}

	// habit and days are still there
	err = f.store.View(context.Background(), func(tx storage.Tx) error {
		if _, err := tx.GetHabit(h.ID); err != nil {
			return err
		}
		days, err := f.seq.Days(tx, h)
		if len(days) != horizon+1 {
			t.Errorf("got %d days want %d", len(days), horizon+1)
		}
		return err
	})
	if err != nil {
		t.Fatalf("habit no longer readable: %v", err)
	}
}

func TestReconcile_PartialFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)
	bad := monday.AddDays(2).At(18, 0, time.UTC)
	f.disp.FailAt(bad, errors.New("quota exceeded"))

	res := f.reconcile(t, h.ID)
	if res.Scheduled != horizon || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	var se *dispatch.SchedulingError
	if errs := res.Errors(); len(errs) != 1 || !errors.As(errs[0], &se) || !se.FireAt.Equal(bad) {
		t.Fatalf("unexpected errors %v", res.Errors())
	}

	f.disp.FailAt(bad, nil)
	f.disp.Reset()
	res = f.reconcile(t, h.ID)
	if res.Scheduled != 1 || f.disp.Schedules != 1 {
		t.Errorf("retry should schedule only the missing moment, got %+v", res)
	}
}

func TestReconcile_ExpiredMarkedDelivered(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)
	f.reconcile(t, h.ID)
	f.disp.Reset()

	f.clock.Advance(9 * time.Hour) // 19:00, today's reminder has fired
	res := f.reconcile(t, h.ID)
	if res.Delivered != 1 || res.Kept != horizon {
		t.Errorf("unexpected result %+v", res)
	}
	if f.disp.Calls() != 0 {
		t.Errorf("expired reminders need no dispatcher calls, got %d", f.disp.Calls())
	}
}

func TestReconcile_BoundedConcurrency(t *testing.T) {
	f := newFixture(t)
	f.disp.Delay = 5 * time.Millisecond
	h := swimming()
	f.save(t, h)

	f.reconcile(t, h.ID)
	if f.disp.MaxInFlight > 2 {
		t.Errorf("peak of %d concurrent schedule calls, limit is 2", f.disp.MaxInFlight)
	}
}

type failingUpdates struct {
	storage.Store
}

func (failingUpdates) Update(context.Context, func(storage.Tx) error) error {
	return errors.New("disk full")
}

func TestReconcile_StoreFailureWithdrawsReminders(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)

	rec := New(failingUpdates{f.store}, f.disp, f.clock, 2)
	if _, err := rec.Reconcile(context.Background(), h.ID); err == nil {
		t.Fatal("expected the store error")
	}
	if live := f.disp.Live(); len(live) != 0 {
		t.Errorf("dispatcher kept %d unrecorded reminders", len(live))
	}
}

func TestReconcile_UnknownHabit(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Reconcile(context.Background(), "missing")
	if !errors.Is(err, habit.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelAll(t *testing.T) {
	f := newFixture(t)
	h := swimming()
	f.save(t, h)
	f.reconcile(t, h.ID)

	res, err := f.rec.CancelAll(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("cancel all failed: %v", err)
	}
	if res.Canceled != horizon+1 {
		t.Errorf("canceled %d want %d", res.Canceled, horizon+1)
	}
	if live := f.disp.Live(); len(live) != 0 {
		t.Errorf("dispatcher still holds %d reminders", len(live))
	}
	if notes := f.scheduled(t, h.ID); len(notes) != 0 {
		t.Errorf("%d notifications still scheduled", len(notes))
	}
}
