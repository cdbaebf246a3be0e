package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/pkg/habit"
	"go.etcd.io/bbolt"
)

const (
	calendarBucket     = "calendar_days"
	habitsBucket       = "habits"
	habitDaysBucket    = "habit_days"
	notificationBucket = "notifications"

	// fireKeyLayout sorts lexically in fire time order.
	fireKeyLayout = "20060102T150405Z"
)

var rootBuckets = []string{calendarBucket, habitsBucket, habitDaysBucket, notificationBucket}

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range rootBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

type boltTx struct {
	tx *bbolt.Tx
}

// childBucket returns the per-habit bucket under root. On read-only
// transactions a missing bucket yields nil.
func (t *boltTx) childBucket(root, habitID string) (*bbolt.Bucket, error) {
	parent := t.tx.Bucket([]byte(root))
	if !t.tx.Writable() {
		return parent.Bucket([]byte(habitID)), nil
	}
	return parent.CreateBucketIfNotExists([]byte(habitID))
}

func (t *boltTx) GetCalendarDay(d habit.Date) (habit.CalendarDay, bool, error) {
	v := t.tx.Bucket([]byte(calendarBucket)).Get([]byte(d.String()))
	if v == nil {
		return habit.CalendarDay{}, false, nil
	}
	var day habit.CalendarDay
	if err := json.Unmarshal(v, &day); err != nil {
		return habit.CalendarDay{}, false, fmt.Errorf("decode calendar day %s: %w", d, err)
	}
	return day, true, nil
}

func (t *boltTx) PutCalendarDay(day habit.CalendarDay) error {
	val, err := json.Marshal(day)
	if err != nil {
		return err
	}
	return t.tx.Bucket([]byte(calendarBucket)).Put([]byte(day.Date.String()), val)
}

func (t *boltTx) PutHabit(h habit.Habit) error {
	val, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return t.tx.Bucket([]byte(habitsBucket)).Put([]byte(h.ID), val)
}

func (t *boltTx) GetHabit(id string) (habit.Habit, error) {
	v := t.tx.Bucket([]byte(habitsBucket)).Get([]byte(id))
	if v == nil {
		return habit.Habit{}, fmt.Errorf("habit %s: %w", id, storage.ErrNotFound)
	}
	var h habit.Habit
	if err := json.Unmarshal(v, &h); err != nil {
		return habit.Habit{}, fmt.Errorf("decode habit %s: %w", id, err)
	}
	return h, nil
}

func (t *boltTx) ListHabits() ([]habit.Habit, error) {
	out := []habit.Habit{}
	err := t.tx.Bucket([]byte(habitsBucket)).ForEach(func(_, v []byte) error {
		var h habit.Habit
		if err := json.Unmarshal(v, &h); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b habit.Habit) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *boltTx) DeleteHabit(id string) error {
	habits := t.tx.Bucket([]byte(habitsBucket))
	if habits.Get([]byte(id)) == nil {
		return fmt.Errorf("habit %s: %w", id, storage.ErrNotFound)
	}
	for _, root := range []string{habitDaysBucket, notificationBucket} {
		parent := t.tx.Bucket([]byte(root))
		if parent.Bucket([]byte(id)) == nil {
			continue
		}
		if err := parent.DeleteBucket([]byte(id)); err != nil {
			return err
		}
	}
	return habits.Delete([]byte(id))
}

func (t *boltTx) PutHabitDay(d habit.HabitDay) error {
	bucket, err := t.childBucket(habitDaysBucket, d.HabitID)
	if err != nil {
		return err
	}
	val, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(d.Day.String()), val)
}

func (t *boltTx) GetHabitDay(habitID string, day habit.Date) (habit.HabitDay, bool, error) {
	bucket, err := t.childBucket(habitDaysBucket, habitID)
	if err != nil || bucket == nil {
		return habit.HabitDay{}, false, err
	}
	v := bucket.Get([]byte(day.String()))
	if v == nil {
		return habit.HabitDay{}, false, nil
	}
	var d habit.HabitDay
	if err := json.Unmarshal(v, &d); err != nil {
		return habit.HabitDay{}, false, fmt.Errorf("decode habit day %s/%s: %w", habitID, day, err)
	}
	return d, true, nil
}

func (t *boltTx) ListHabitDays(habitID string, q storage.DayQuery) ([]habit.HabitDay, error) {
	out := []habit.HabitDay{}
	bucket, err := t.childBucket(habitDaysBucket, habitID)
	if err != nil || bucket == nil {
		return out, err
	}

	c := bucket.Cursor()
	k, v := c.First()
	if q.From != nil {
		k, v = c.Seek([]byte(q.From.String()))
	}
	var upper []byte
	if q.To != nil {
		upper = []byte(q.To.String())
	}
	for ; k != nil; k, v = c.Next() {
		if upper != nil && bytes.Compare(k, upper) > 0 {
			break
		}
		var d habit.HabitDay
		if err := json.Unmarshal(v, &d); err != nil {
			return nil, fmt.Errorf("decode habit day %s/%s: %w", habitID, k, err)
		}
		if q.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *boltTx) LastHabitDay(habitID string) (habit.HabitDay, bool, error) {
	bucket, err := t.childBucket(habitDaysBucket, habitID)
	if err != nil || bucket == nil {
		return habit.HabitDay{}, false, err
	}
	k, v := bucket.Cursor().Last()
	if k == nil {
		return habit.HabitDay{}, false, nil
	}
	var d habit.HabitDay
	if err := json.Unmarshal(v, &d); err != nil {
		return habit.HabitDay{}, false, fmt.Errorf("decode habit day %s/%s: %w", habitID, k, err)
	}
	return d, true, nil
}

func (t *boltTx) DeleteHabitDay(habitID string, day habit.Date) error {
	bucket, err := t.childBucket(habitDaysBucket, habitID)
	if err != nil || bucket == nil {
		return err
	}
	return bucket.Delete([]byte(day.String()))
}

func notificationKey(n habit.Notification) []byte {
	return fmt.Appendf(nil, "%s/%s", n.FireAt.UTC().Format(fireKeyLayout), n.ID)
}

func (t *boltTx) PutNotification(n habit.Notification) error {
	bucket, err := t.childBucket(notificationBucket, n.HabitID)
	if err != nil {
		return err
	}
	val, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return bucket.Put(notificationKey(n), val)
}

func (t *boltTx) ListNotifications(habitID string, statuses ...habit.NotificationStatus) ([]habit.Notification, error) {
	out := []habit.Notification{}
	bucket, err := t.childBucket(notificationBucket, habitID)
	if err != nil || bucket == nil {
		return out, err
	}
	err = bucket.ForEach(func(k, v []byte) error {
		var n habit.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("decode notification %s: %w", k, err)
		}
		if len(statuses) == 0 || slices.Contains(statuses, n.Status) {
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PruneNotifications walks keys in fire time order and stops at the first
// one at or after before.
func (t *boltTx) PruneNotifications(habitID string, before time.Time) (int, error) {
	bucket, err := t.childBucket(notificationBucket, habitID)
	if err != nil || bucket == nil {
		return 0, err
	}
	upper := []byte(before.UTC().Format(fireKeyLayout))
	var stale [][]byte
	c := bucket.Cursor()
	for k, v := c.First(); k != nil && bytes.Compare(k, upper) < 0; k, v = c.Next() {
		var n habit.Notification
		if err := json.Unmarshal(v, &n); err != nil {
			return 0, fmt.Errorf("decode notification %s: %w", k, err)
		}
		if n.Status == habit.StatusScheduled || !n.FireAt.Before(before) {
			continue
		}
		stale = append(stale, slices.Clone(k))
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

var _ storage.Store = (*Store)(nil)
