package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/internal/storage/storagetest"
	"github.com/brk3/habitd/pkg/habit"
)

func TestGetOrCreate_SingleRecordPerDate(t *testing.T) {
	store := storagetest.NewBolt(t)
	created := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	reg := NewRegistry(func() time.Time { return created })
	d := habit.Date{Year: 2024, Month: time.May, Day: 6}

	var first, second habit.CalendarDay
	err := store.Update(context.Background(), func(tx storage.Tx) error {
		var err error
		if first, err = reg.GetOrCreate(tx, d); err != nil {
			return err
		}
		second, err = reg.GetOrCreate(tx, d)
		return err
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if first != second {
		t.Errorf("expected the same day twice, got %+v and %+v", first, second)
	}
	if !first.CreatedAt.Equal(created) {
		t.Errorf("created_at=%v want %v", first.CreatedAt, created)
	}

	// A fresh registry must find the stored day rather than minting another.
	other := NewRegistry(func() time.Time { return created.Add(time.Hour) })
	err = store.Update(context.Background(), func(tx storage.Tx) error {
		day, err := other.GetOrCreate(tx, d)
		if err != nil {
			return err
		}
		if !day.CreatedAt.Equal(created) {
			t.Errorf("existing day was replaced: %v", day.CreatedAt)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func TestGetOrCreate_SurvivesRollback(t *testing.T) {
	store := storagetest.NewSQLite(t)
	reg := NewRegistry(nil)
	d := habit.Date{Year: 2024, Month: time.May, Day: 6}
	boom := errors.New("boom")

	err := store.Update(context.Background(), func(tx storage.Tx) error {
		if _, err := reg.GetOrCreate(tx, d); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.Update(context.Background(), func(tx storage.Tx) error {
		if _, err := reg.GetOrCreate(tx, d); err != nil {
			return err
		}
		_, ok, err := tx.GetCalendarDay(d)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("calendar day missing after rolled back creation")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func TestGetOrCreateAt_UsesLocation(t *testing.T) {
	store := storagetest.NewBolt(t)
	reg := NewRegistry(nil)
	tokyo := time.FixedZone("JST", 9*3600)
	// 20:00 UTC on the 6th is already the 7th in Tokyo.
	instant := time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC)

	err := store.Update(context.Background(), func(tx storage.Tx) error {
		day, err := reg.GetOrCreateAt(tx, instant, tokyo)
		if err != nil {
			return err
		}
		want := habit.Date{Year: 2024, Month: time.May, Day: 7}
		if day.Date != want {
			t.Errorf("got %s want %s", day.Date, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

// countingTx counts calendar day writes.
type countingTx struct {
	storage.Tx
	puts int
}

func (c *countingTx) PutCalendarDay(day habit.CalendarDay) error {
	c.puts++
	return c.Tx.PutCalendarDay(day)
}

func TestGetOrCreate_WritesOnlyMissingDays(t *testing.T) {
	store := storagetest.NewBolt(t)
	reg := NewRegistry(nil)
	d := habit.Date{Year: 2024, Month: time.May, Day: 6}

	for i, want := range []int{1, 0} {
		err := store.Update(context.Background(), func(tx storage.Tx) error {
			counted := &countingTx{Tx: tx}
			for range 3 {
				if _, err := reg.GetOrCreate(counted, d); err != nil {
					return err
				}
			}
			if counted.puts != want {
				t.Errorf("transaction %d: %d writes want %d", i, counted.puts, want)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}
}
