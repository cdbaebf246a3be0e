// Package storagetest opens throwaway stores for tests and holds the
// behavioral checks every storage.Store implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/internal/storage/bolt"
	"github.com/brk3/habitd/internal/storage/sqlite"
	"github.com/brk3/habitd/pkg/habit"
)

// NewBolt opens a bbolt store in a temporary directory, closed on cleanup.
func NewBolt(t testing.TB) storage.Store {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return store
}

// NewSQLite opens a SQLite store in a temporary directory, closed on cleanup.
func NewSQLite(t testing.TB) storage.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return store
}

var base = habit.Date{Year: 2024, Month: time.May, Day: 6}

func sampleHabit(id string) habit.Habit {
	end := base.AddDays(30)
	return habit.Habit{
		ID:        id,
		Name:      "guitar",
		Color:     habit.ColorBlue,
		CreatedAt: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
		StartDate: base,
		EndDate:   &end,
		Weekdays:  []time.Weekday{time.Monday, time.Thursday},
		FireTimes: []habit.FireTime{{Hour: 18, Minute: 30}},
	}
}

func update(t *testing.T, s storage.Store, fn func(tx storage.Tx) error) {
	t.Helper()
	if err := s.Update(context.Background(), fn); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func view(t *testing.T, s storage.Store, fn func(tx storage.Tx) error) {
	t.Helper()
	if err := s.View(context.Background(), fn); err != nil {
		t.Fatalf("view failed: %v", err)
	}
}

// putDays stores calendar days and matching habit days for habitID.
func putDays(tx storage.Tx, habitID string, days ...habit.Date) error {
	for _, d := range days {
		if err := tx.PutCalendarDay(habit.CalendarDay{Date: d, CreatedAt: time.Now()}); err != nil {
			return err
		}
		if err := tx.PutHabitDay(habit.HabitDay{ID: habitID + d.String(), HabitID: habitID, Day: d}); err != nil {
			return err
		}
	}
	return nil
}

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("HabitRoundTrip", func(t *testing.T) {
		s := open(t)
		h := sampleHabit("h1")
		update(t, s, func(tx storage.Tx) error { return tx.PutHabit(h) })

		view(t, s, func(tx storage.Tx) error {
			got, err := tx.GetHabit("h1")
			if err != nil {
				return err
			}
			if got.Name != h.Name || got.Color != h.Color || got.StartDate != h.StartDate {
				t.Errorf("got %+v want %+v", got, h)
			}
			if got.EndDate == nil || *got.EndDate != *h.EndDate {
				t.Errorf("end date: got %v want %v", got.EndDate, h.EndDate)
			}
			if len(got.Weekdays) != 2 || len(got.FireTimes) != 1 || got.FireTimes[0].Minute != 30 {
				t.Errorf("recurrence lost: %+v", got)
			}
			if !got.CreatedAt.Equal(h.CreatedAt) {
				t.Errorf("created_at: got %v want %v", got.CreatedAt, h.CreatedAt)
			}
			return nil
		})
	})

	t.Run("GetHabit_NotFound", func(t *testing.T) {
		s := open(t)
		view(t, s, func(tx storage.Tx) error {
			_, err := tx.GetHabit("missing")
			if !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			return nil
		})
	})

	t.Run("ListHabits_Empty", func(t *testing.T) {
		s := open(t)
		view(t, s, func(tx storage.Tx) error {
			habits, err := tx.ListHabits()
			if err != nil {
				return err
			}
			if len(habits) != 0 {
				t.Errorf("expected empty list, got %d items", len(habits))
			}
			return nil
		})
	})

	t.Run("CalendarDayIsShared", func(t *testing.T) {
		s := open(t)
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("a")); err != nil {
				return err
			}
			if err := tx.PutHabit(sampleHabit("b")); err != nil {
				return err
			}
			if err := putDays(tx, "a", base); err != nil {
				return err
			}
			return putDays(tx, "b", base)
		})
		view(t, s, func(tx storage.Tx) error {
			day, ok, err := tx.GetCalendarDay(base)
			if err != nil {
				return err
			}
			if !ok || day.Date != base {
				t.Errorf("calendar day not stored: %+v %v", day, ok)
			}
			return nil
		})
	})

	t.Run("HabitDaysOrderedAndFiltered", func(t *testing.T) {
		s := open(t)
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			// insert out of order
			if err := putDays(tx, "h1", base.AddDays(7), base, base.AddDays(3)); err != nil {
				return err
			}
			d, _, err := tx.GetHabitDay("h1", base.AddDays(3))
			if err != nil {
				return err
			}
			marked := time.Date(2024, 5, 9, 20, 0, 0, 0, time.UTC)
			d.WasExecuted = true
			d.MarkedAt = &marked
			return tx.PutHabitDay(d)
		})

		view(t, s, func(tx storage.Tx) error {
			all, err := tx.ListHabitDays("h1", storage.DayQuery{})
			if err != nil {
				return err
			}
			want := []habit.Date{base, base.AddDays(3), base.AddDays(7)}
			if len(all) != len(want) {
				t.Fatalf("got %d days want %d", len(all), len(want))
			}
			for i := range want {
				if all[i].Day != want[i] {
					t.Errorf("day %d: got %s want %s", i, all[i].Day, want[i])
				}
			}

			from := base.AddDays(1)
			later, err := tx.ListHabitDays("h1", storage.DayQuery{From: &from})
			if err != nil {
				return err
			}
			if len(later) != 2 {
				t.Errorf("From filter: got %d want 2", len(later))
			}

			to := base.AddDays(3)
			bounded, err := tx.ListHabitDays("h1", storage.DayQuery{From: &base, To: &to})
			if err != nil {
				return err
			}
			if len(bounded) != 2 {
				t.Errorf("From/To filter: got %d want 2", len(bounded))
			}

			executed, err := tx.ListHabitDays("h1", storage.DayQuery{ExecutedOnly: true})
			if err != nil {
				return err
			}
			if len(executed) != 1 || executed[0].MarkedAt == nil {
				t.Errorf("ExecutedOnly filter: got %+v", executed)
			}

			other, err := tx.ListHabitDays("nobody", storage.DayQuery{})
			if err != nil {
				return err
			}
			if len(other) != 0 {
				t.Errorf("unknown habit should have no days, got %d", len(other))
			}
			return nil
		})
	})

	t.Run("PutHabitDayOverwritesPair", func(t *testing.T) {
		s := open(t)
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			if err := putDays(tx, "h1", base); err != nil {
				return err
			}
			return tx.PutHabitDay(habit.HabitDay{ID: "h1" + base.String(), HabitID: "h1", Day: base, WasExecuted: true})
		})
		view(t, s, func(tx storage.Tx) error {
			days, err := tx.ListHabitDays("h1", storage.DayQuery{})
			if err != nil {
				return err
			}
			if len(days) != 1 || !days[0].WasExecuted {
				t.Errorf("expected a single executed day, got %+v", days)
			}
			return nil
		})
	})

	t.Run("DeleteHabitDay", func(t *testing.T) {
		s := open(t)
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			if err := putDays(tx, "h1", base, base.AddDays(1)); err != nil {
				return err
			}
			return tx.DeleteHabitDay("h1", base)
		})
		view(t, s, func(tx storage.Tx) error {
			if _, ok, _ := tx.GetHabitDay("h1", base); ok {
				t.Error("day should be gone")
			}
			if _, ok, _ := tx.GetHabitDay("h1", base.AddDays(1)); !ok {
				t.Error("other day should remain")
			}
			return nil
		})
	})

	t.Run("LastHabitDay", func(t *testing.T) {
		s := open(t)
		view(t, s, func(tx storage.Tx) error {
			if _, ok, err := tx.LastHabitDay("h1"); ok || err != nil {
				t.Errorf("empty sequence: ok=%v err=%v", ok, err)
			}
			return nil
		})
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			return putDays(tx, "h1", base.AddDays(9), base, base.AddDays(3))
		})
		view(t, s, func(tx storage.Tx) error {
			last, ok, err := tx.LastHabitDay("h1")
			if err != nil || !ok {
				t.Fatalf("last day: ok=%v err=%v", ok, err)
			}
			if last.Day != base.AddDays(9) {
				t.Errorf("last day %s want %s", last.Day, base.AddDays(9))
			}
			return nil
		})
	})

	t.Run("PruneNotifications", func(t *testing.T) {
		s := open(t)
		at := func(day int) time.Time { return time.Date(2024, 5, day, 18, 30, 0, 0, time.UTC) }
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			for _, n := range []habit.Notification{
				{ID: "old-delivered", FireAt: at(1), Status: habit.StatusDelivered},
				{ID: "old-canceled", FireAt: at(2), Status: habit.StatusCanceled},
				{ID: "old-scheduled", FireAt: at(3), Status: habit.StatusScheduled},
				{ID: "new-delivered", FireAt: at(10), Status: habit.StatusDelivered},
				{ID: "new-scheduled", FireAt: at(11), Status: habit.StatusScheduled},
			} {
				n.HabitID = "h1"
				n.CreatedAt = at(1)
				n.UpdatedAt = at(1)
				if err := tx.PutNotification(n); err != nil {
					return err
				}
			}
			return nil
		})

		var pruned int
		update(t, s, func(tx storage.Tx) error {
			var err error
			pruned, err = tx.PruneNotifications("h1", at(5))
			return err
		})
		if pruned != 2 {
			t.Errorf("pruned %d want 2", pruned)
		}
		view(t, s, func(tx storage.Tx) error {
			left, err := tx.ListNotifications("h1")
			if err != nil {
				return err
			}
			var ids []string
			for _, n := range left {
				ids = append(ids, n.ID)
			}
			if len(ids) != 3 || ids[0] != "old-scheduled" || ids[1] != "new-delivered" || ids[2] != "new-scheduled" {
				t.Errorf("remaining notifications %v", ids)
			}
			return nil
		})
	})

	t.Run("NotificationsOrderedAndFiltered", func(t *testing.T) {
		s := open(t)
		at := func(day int) time.Time { return time.Date(2024, 5, day, 18, 30, 0, 0, time.UTC) }
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			for i, n := range []habit.Notification{
				{ID: "n3", FireAt: at(9), Status: habit.StatusScheduled},
				{ID: "n1", FireAt: at(7), Status: habit.StatusCanceled},
				{ID: "n2", FireAt: at(8), Status: habit.StatusScheduled},
			} {
				n.HabitID = "h1"
				n.DispatcherID = "d" + n.ID
				n.CreatedAt = at(6).Add(time.Duration(i) * time.Minute)
				n.UpdatedAt = n.CreatedAt
				if err := tx.PutNotification(n); err != nil {
					return err
				}
			}
			return nil
		})

		// status transition keeps a single record
		update(t, s, func(tx storage.Tx) error {
			list, err := tx.ListNotifications("h1", habit.StatusScheduled)
			if err != nil {
				return err
			}
			list[0].Status = habit.StatusDelivered
			return tx.PutNotification(list[0])
		})

		view(t, s, func(tx storage.Tx) error {
			all, err := tx.ListNotifications("h1")
			if err != nil {
				return err
			}
			if len(all) != 3 {
				t.Fatalf("got %d notifications want 3", len(all))
			}
			for i, id := range []string{"n1", "n2", "n3"} {
				if all[i].ID != id {
					t.Errorf("position %d: got %s want %s", i, all[i].ID, id)
				}
			}
			if all[1].Status != habit.StatusDelivered {
				t.Errorf("n2 status=%s want delivered", all[1].Status)
			}
			if !all[2].FireAt.Equal(at(9)) || all[2].DispatcherID != "dn3" {
				t.Errorf("n3 round trip lost data: %+v", all[2])
			}

			active, err := tx.ListNotifications("h1", habit.StatusScheduled, habit.StatusDelivered)
			if err != nil {
				return err
			}
			if len(active) != 2 {
				t.Errorf("status filter: got %d want 2", len(active))
			}
			return nil
		})
	})

	t.Run("DeleteHabitCascades", func(t *testing.T) {
		s := open(t)
		update(t, s, func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			if err := putDays(tx, "h1", base); err != nil {
				return err
			}
			return tx.PutNotification(habit.Notification{
				ID: "n1", HabitID: "h1", FireAt: time.Now(), Status: habit.StatusScheduled,
				CreatedAt: time.Now(), UpdatedAt: time.Now(),
			})
		})
		update(t, s, func(tx storage.Tx) error { return tx.DeleteHabit("h1") })

		view(t, s, func(tx storage.Tx) error {
			if _, err := tx.GetHabit("h1"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("habit should be gone, got %v", err)
			}
			days, _ := tx.ListHabitDays("h1", storage.DayQuery{})
			notes, _ := tx.ListNotifications("h1")
			if len(days) != 0 || len(notes) != 0 {
				t.Errorf("owned records survived: %d days, %d notifications", len(days), len(notes))
			}
			if _, ok, _ := tx.GetCalendarDay(base); !ok {
				t.Error("calendar days are shared and must survive habit deletion")
			}
			return nil
		})

		err := s.Update(context.Background(), func(tx storage.Tx) error { return tx.DeleteHabit("h1") })
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("deleting twice: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateIsAtomic", func(t *testing.T) {
		s := open(t)
		boom := errors.New("boom")
		err := s.Update(context.Background(), func(tx storage.Tx) error {
			if err := tx.PutHabit(sampleHabit("h1")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		view(t, s, func(tx storage.Tx) error {
			if _, err := tx.GetHabit("h1"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("rolled back write is visible: %v", err)
			}
			return nil
		})
	})
}
