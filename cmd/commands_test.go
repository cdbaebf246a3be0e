package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brk3/habitd/internal/apiclient"
	"github.com/brk3/habitd/internal/clock"
	"github.com/brk3/habitd/internal/config"
	"github.com/brk3/habitd/internal/dispatch/dispatchtest"
	"github.com/brk3/habitd/internal/dispatch/local"
	"github.com/brk3/habitd/internal/dispatch/redisq"
	"github.com/brk3/habitd/internal/engine"
	"github.com/brk3/habitd/internal/nudge"
	"github.com/brk3/habitd/internal/server"
	"github.com/brk3/habitd/internal/storage/storagetest"
	"github.com/brk3/habitd/pkg/habit"
)

// 2024-05-06 is a Monday.
var monday = habit.Date{Year: 2024, Month: time.May, Day: 6}

func newTestAPI(t *testing.T) *apiclient.Client {
	t.Helper()
	c := clock.NewFixed(monday.At(10, 0, time.UTC))
	e := engine.New(storagetest.NewBolt(t), dispatchtest.New(), c, engine.Options{AllowBackfill: true})
	srv := httptest.NewServer(server.New(e, &config.Config{}).Router())
	t.Cleanup(srv.Close)
	t.Cleanup(e.Wait)
	return apiclient.New(srv.URL, "")
}

func trackSwimming(t *testing.T, c *apiclient.Client) string {
	t.Helper()
	var buf bytes.Buffer
	f := &habitFlags{color: "blue", at: []string{"18:00"}}
	if err := track(context.Background(), c, &buf, "Go swimming", f); err != nil {
		t.Fatalf("track: %v", err)
	}
	if !strings.Contains(buf.String(), "Tracking Go swimming") || !strings.Contains(buf.String(), "8 scheduled") {
		t.Errorf("unexpected track output %q", buf.String())
	}
	habits, err := c.ListHabits(context.Background())
	if err != nil || len(habits) != 1 {
		t.Fatalf("list habits: %v %v", habits, err)
	}
	return habits[0].ID
}

func TestTrackListDoneSummary(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()
	id := trackSwimming(t, c)

	var buf bytes.Buffer
	if err := list(ctx, c, &buf); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(buf.String(), "Go swimming") || !strings.Contains(buf.String(), id) {
		t.Errorf("list output %q", buf.String())
	}

	buf.Reset()
	if err := done(ctx, c, &buf, id, "", true); err != nil {
		t.Fatalf("done: %v", err)
	}
	if buf.String() != "✓ Go swimming done on 2024-05-06\n" {
		t.Errorf("done output %q", buf.String())
	}

	buf.Reset()
	if err := summary(ctx, c, &buf, id); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(buf.String(), "1 of 8 days") {
		t.Errorf("summary output %q", buf.String())
	}

	buf.Reset()
	if err := done(ctx, c, &buf, id, monday.String(), false); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "✗") {
		t.Errorf("undo output %q", buf.String())
	}

	if err := done(ctx, c, &buf, id, monday.AddDays(1).String(), true); err == nil {
		t.Error("marking a future day should fail")
	}
}

func TestEdit(t *testing.T) {
	c := newTestAPI(t)
	id := trackSwimming(t, c)

	editName = "Swim"
	editFlags = habitFlags{at: []string{"20:00"}}
	t.Cleanup(func() {
		editName = ""
		editFlags = habitFlags{}
	})

	var buf bytes.Buffer
	changed := func(name string) bool { return name == "name" || name == "at" }
	if err := edit(context.Background(), c, &buf, id, changed); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(buf.String(), "Updated Swim") || !strings.Contains(buf.String(), "8 scheduled, 8 canceled") {
		t.Errorf("edit output %q", buf.String())
	}

	got, err := c.GetHabit(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Habit.Color != habit.ColorBlue || got.Habit.FireTimes[0].Hour != 20 {
		t.Errorf("unexpected habit after edit %+v", got.Habit)
	}
}

func TestTrack_InvalidFlags(t *testing.T) {
	c := newTestAPI(t)
	var buf bytes.Buffer
	f := &habitFlags{color: "green", weekdays: []string{"funday"}}
	if err := track(context.Background(), c, &buf, "Read", f); err == nil {
		t.Error("expected error for unknown weekday")
	}
	f = &habitFlags{color: "mauve"}
	if err := track(context.Background(), c, &buf, "Read", f); err == nil {
		t.Error("expected error for unknown color")
	}
}

func TestRemove(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()
	id := trackSwimming(t, c)

	var buf bytes.Buffer
	if err := remove(ctx, c, &buf, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := remove(ctx, c, &buf, id); err == nil {
		t.Error("second remove should fail")
	}
	if err := done(ctx, c, &buf, id, "", true); err == nil {
		t.Error("done on a removed habit should fail")
	}
}

func TestRollover(t *testing.T) {
	c := newTestAPI(t)
	trackSwimming(t, c)

	var buf bytes.Buffer
	if err := rollover(context.Background(), c, &buf); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if !strings.Contains(buf.String(), "Rolled over to 2024-05-06: 1 habits") {
		t.Errorf("rollover output %q", buf.String())
	}
}

type recordingNotifier struct {
	got []nudge.Reminder
}

func (r *recordingNotifier) Notify(_ context.Context, rem nudge.Reminder) error {
	r.got = append(r.got, rem)
	return nil
}

func TestSendNudge(t *testing.T) {
	c := newTestAPI(t)
	id := trackSwimming(t, c)

	rec := &recordingNotifier{}
	var buf bytes.Buffer
	if err := sendNudge(context.Background(), c, rec, &buf, id); err != nil {
		t.Fatalf("nudge: %v", err)
	}
	if len(rec.got) != 1 {
		t.Fatalf("got %d reminders want 1", len(rec.got))
	}
	if r := rec.got[0]; r.HabitID != id || r.Title != "Go swimming" || r.Body != "Have you practiced this activity?" {
		t.Errorf("unexpected reminder %+v", r)
	}
	if err := sendNudge(context.Background(), c, rec, &buf, "nope"); err == nil {
		t.Error("expected error for unknown habit")
	}
}

func TestOpenStore(t *testing.T) {
	for _, kind := range []string{"bolt", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store = kind
			cfg.DBPath = filepath.Join(t.TempDir(), "habits.db")
			s, err := openStore(&cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("close: %v", err)
			}
		})
	}

	cfg := config.Default()
	cfg.Store = "postgres"
	if _, err := openStore(&cfg); err == nil {
		t.Error("expected error for unknown store")
	}
}

func TestNewDispatcher(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFixed(monday.At(10, 0, time.UTC))

	cfg := config.Default()
	d, stop, err := newDispatcher(ctx, &cfg, nudge.LogNotifier{}, c)
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, ok := d.(*local.Dispatcher); !ok {
		t.Errorf("got %T want *local.Dispatcher", d)
	}
	stop()

	mr := miniredis.RunT(t)
	cfg.Dispatcher.Kind = "redis"
	cfg.Dispatcher.Redis.Addr = mr.Addr()
	d, stop, err = newDispatcher(ctx, &cfg, nudge.LogNotifier{}, c)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	if _, ok := d.(*redisq.Dispatcher); !ok {
		t.Errorf("got %T want *redisq.Dispatcher", d)
	}
	stop()
}

func TestNewNotifier(t *testing.T) {
	cfg := config.Default()
	if n, ok := newNotifier(&cfg).(nudge.Multi); !ok || len(n) != 1 {
		t.Errorf("expected only the log notifier, got %#v", n)
	}
	cfg.Notify.ResendAPIKey = "re_123"
	cfg.Notify.Email = "me@example.com"
	if n, ok := newNotifier(&cfg).(nudge.Multi); !ok || len(n) != 2 {
		t.Errorf("expected log and resend notifiers, got %#v", n)
	}
}

func TestPrintVersions(t *testing.T) {
	var buf bytes.Buffer
	printVersions(context.Background(), newTestAPI(t), &buf)
	if strings.Count(buf.String(), "Version: dev") != 2 {
		t.Errorf("version output %q", buf.String())
	}

	buf.Reset()
	printVersions(context.Background(), apiclient.New("http://127.0.0.1:1", ""), &buf)
	if !strings.Contains(buf.String(), "Server Version: unavailable") {
		t.Errorf("version output %q", buf.String())
	}
}
