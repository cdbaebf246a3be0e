package nudge

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockNotifier struct {
	called    int
	reminders []Reminder
	err       error
}

func (m *mockNotifier) Notify(_ context.Context, r Reminder) error {
	m.called++
	m.reminders = append(m.reminders, r)
	return m.err
}

func TestMulti_DeliversToAll(t *testing.T) {
	failing := &mockNotifier{err: errors.New("smtp down")}
	ok := &mockNotifier{}
	r := Reminder{HabitID: "h1", Title: "guitar", FireAt: time.Now()}

	err := Multi{failing, ok}.Notify(context.Background(), r)
	if err == nil || err.Error() != "smtp down" {
		t.Fatalf("expected the first error, got %v", err)
	}
	if failing.called != 1 || ok.called != 1 {
		t.Fatalf("expected both notifiers called once, got %d and %d", failing.called, ok.called)
	}
	if ok.reminders[0].Title != "guitar" {
		t.Errorf("got %+v", ok.reminders[0])
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), Reminder{HabitID: "h1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
