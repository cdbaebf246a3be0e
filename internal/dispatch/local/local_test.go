package local

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/nudge"
)

type recorder struct {
	mu   sync.Mutex
	got  []nudge.Reminder
	done chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 10)}
}

func (r *recorder) Notify(_ context.Context, rem nudge.Reminder) error {
	r.mu.Lock()
	r.got = append(r.got, rem)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestSchedule_Fires(t *testing.T) {
	rec := newRecorder()
	d := New(rec)
	defer d.Stop()

	fireAt := time.Now().Add(20 * time.Millisecond)
	if _, err := d.Schedule(context.Background(), fireAt, dispatch.Payload{HabitID: "h1", Title: "guitar"}); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reminder never fired")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.got[0].HabitID != "h1" || !rec.got[0].FireAt.Equal(fireAt) {
		t.Errorf("unexpected reminder %+v", rec.got[0])
	}
	if d.Pending() != 0 {
		t.Errorf("fired timer still pending")
	}
}

func TestCancel(t *testing.T) {
	rec := newRecorder()
	d := New(rec)
	defer d.Stop()

	id, err := d.Schedule(context.Background(), time.Now().Add(time.Hour), dispatch.Payload{HabitID: "h1"})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if d.Pending() != 1 {
		t.Fatalf("pending=%d want 1", d.Pending())
	}
	if err := d.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := d.Cancel(context.Background(), id); !errors.Is(err, dispatch.ErrNotFound) {
		t.Errorf("second cancel: expected ErrNotFound, got %v", err)
	}
	if d.Pending() != 0 {
		t.Errorf("pending=%d want 0", d.Pending())
	}
}

func TestUnauthorized(t *testing.T) {
	d := New(newRecorder(), WithAuthorized(false))
	defer d.Stop()

	if d.IsAuthorized(context.Background()) {
		t.Fatal("expected unauthorized dispatcher")
	}
	_, err := d.Schedule(context.Background(), time.Now().Add(time.Hour), dispatch.Payload{})
	if !errors.Is(err, dispatch.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ok, err := d.Authorize(context.Background())
	if err != nil || !ok {
		t.Fatalf("authorize: ok=%v err=%v", ok, err)
	}
	if !d.IsAuthorized(context.Background()) {
		t.Error("still unauthorized after Authorize")
	}
}
