package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brk3/habitd/internal/clock"
	"github.com/brk3/habitd/internal/config"
	"github.com/brk3/habitd/internal/dispatch/dispatchtest"
	"github.com/brk3/habitd/internal/engine"
	"github.com/brk3/habitd/internal/storage/storagetest"
	"github.com/brk3/habitd/pkg/habit"
)

// 2024-05-06 is a Monday.
var monday = habit.Date{Year: 2024, Month: time.May, Day: 6}

type testServer struct {
	handler http.Handler
	clock   *clock.Fixed
	disp    *dispatchtest.Fake
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	ts := &testServer{
		clock: clock.NewFixed(monday.At(10, 0, time.UTC)),
		disp:  dispatchtest.New(),
	}
	e := engine.New(storagetest.NewBolt(t), ts.disp, ts.clock, engine.Options{AllowBackfill: true})
	t.Cleanup(e.Wait)
	ts.handler = New(e, cfg).Router()
	return ts
}

func mockRequest(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal error: %v (body %s)", err, rr.Body.String())
	}
	return v
}

func (ts *testServer) track(t *testing.T) habit.Habit {
	t.Helper()
	rr := mockRequest(ts.handler, http.MethodPost, "/habits", habit.Habit{
		Name:      "Go swimming",
		Color:     habit.ColorBlue,
		FireTimes: []habit.FireTime{{Hour: 18}},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("got %d want 201: %s", rr.Code, rr.Body.String())
	}
	return decode[HabitMutationResponse](t, rr).Habit
}

func TestListHabits_Empty(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	rr := mockRequest(ts.handler, http.MethodGet, "/habits", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rr.Code)
	}
	resp := decode[HabitListResponse](t, rr)
	if len(resp.Habits) != 0 {
		t.Fatalf("len=%d want 0", len(resp.Habits))
	}
}

func TestTrackHabit_Valid(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	rr := mockRequest(ts.handler, http.MethodPost, "/habits", habit.Habit{
		Name:      "Go swimming",
		Color:     habit.ColorBlue,
		FireTimes: []habit.FireTime{{Hour: 18}},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("got %d want 201: %s", rr.Code, rr.Body.String())
	}
	created := decode[HabitMutationResponse](t, rr)
	if created.Habit.ID == "" || created.Habit.StartDate != monday {
		t.Errorf("unexpected habit %+v", created.Habit)
	}
	if created.Reconcile.Scheduled != engine.DefaultHorizonDays+1 {
		t.Errorf("scheduled %d want %d", created.Reconcile.Scheduled, engine.DefaultHorizonDays+1)
	}

	rr = mockRequest(ts.handler, http.MethodGet, "/habits/"+created.Habit.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rr.Code)
	}
	got := decode[HabitGetResponse](t, rr)
	if got.Habit.Name != "Go swimming" {
		t.Errorf("got %q want Go swimming", got.Habit.Name)
	}
	if len(got.Days) != engine.DefaultHorizonDays+1 || got.Days[0].Day != monday {
		t.Errorf("got %d days starting %v", len(got.Days), got.Days)
	}

	rr = mockRequest(ts.handler, http.MethodGet, "/habits", nil)
	if list := decode[HabitListResponse](t, rr); len(list.Habits) != 1 {
		t.Errorf("listed %d habits want 1", len(list.Habits))
	}
}

func TestTrackHabit_Invalid(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty name", habit.Habit{Color: habit.ColorBlue}, http.StatusBadRequest},
		{"bad color", habit.Habit{Name: "Read", Color: "mauve"}, http.StatusBadRequest},
		{"bad fire time", habit.Habit{Name: "Read", Color: habit.ColorRed, FireTimes: []habit.FireTime{{Hour: 25}}}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := mockRequest(ts.handler, http.MethodPost, "/habits", tt.body)
			if rr.Code != tt.want {
				t.Errorf("got %d want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
	if ts.disp.Calls() != 0 {
		t.Errorf("dispatcher called %d times for rejected habits", ts.disp.Calls())
	}
}

func TestGetHabit_NotFound(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	for _, path := range []string{"/habits/nope", "/habits/nope/summary", "/habits/nope/today", "/habits/nope/notifications"} {
		rr := mockRequest(ts.handler, http.MethodGet, path, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: got %d want 404", path, rr.Code)
		}
		if resp := decode[ErrorResponse](t, rr); resp.Error == "" {
			t.Errorf("%s: missing error message", path)
		}
	}
}

func TestMarkDay(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	h := ts.track(t)
	base := "/habits/" + h.ID

	rr := mockRequest(ts.handler, http.MethodPut, base+"/days/today", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200: %s", rr.Code, rr.Body.String())
	}
	if day := decode[habit.HabitDay](t, rr); !day.WasExecuted || day.Day != monday {
		t.Errorf("unexpected day %+v", day)
	}

	rr = mockRequest(ts.handler, http.MethodGet, base+"/summary", nil)
	summary := decode[HabitSummaryResponse](t, rr).HabitSummary
	if summary.CurrentStreak != 1 || summary.ExecutedCount != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	rr = mockRequest(ts.handler, http.MethodGet, base+"/today", nil)
	today := decode[TodayResponse](t, rr)
	if !today.Tracked || today.Day == nil || !today.Day.WasExecuted {
		t.Errorf("unexpected today %+v", today)
	}

	rr = mockRequest(ts.handler, http.MethodPut, base+"/days/2024-05-06", MarkRequest{Executed: new(bool)})
	if day := decode[habit.HabitDay](t, rr); day.WasExecuted {
		t.Errorf("explicit false should unmark, got %+v", day)
	}

	rr = mockRequest(ts.handler, http.MethodPut, base+"/days/today", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rr.Code)
	}
	rr = mockRequest(ts.handler, http.MethodDelete, base+"/days/today", nil)
	if day := decode[habit.HabitDay](t, rr); day.WasExecuted {
		t.Errorf("delete should unmark, got %+v", day)
	}
}

func TestMarkDay_Errors(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	h := ts.track(t)
	base := "/habits/" + h.ID

	tests := []struct {
		name string
		path string
		want int
	}{
		{"future", base + "/days/2024-05-07", http.StatusUnprocessableEntity},
		{"before start", base + "/days/2024-05-05", http.StatusUnprocessableEntity},
		{"bad date", base + "/days/yesterday", http.StatusBadRequest},
		{"unknown habit", "/habits/nope/days/today", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := mockRequest(ts.handler, http.MethodPut, tt.path, nil)
			if rr.Code != tt.want {
				t.Errorf("got %d want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestUpdateHabit(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	h := ts.track(t)

	h.FireTimes = []habit.FireTime{{Hour: 20}}
	rr := mockRequest(ts.handler, http.MethodPut, "/habits/"+h.ID, h)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200: %s", rr.Code, rr.Body.String())
	}
	resp := decode[HabitMutationResponse](t, rr)
	if resp.Reconcile.Canceled != engine.DefaultHorizonDays+1 || resp.Reconcile.Scheduled != engine.DefaultHorizonDays+1 {
		t.Errorf("unexpected reconcile %+v", resp.Reconcile)
	}

	h.Name = ""
	rr = mockRequest(ts.handler, http.MethodPut, "/habits/"+h.ID, h)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("got %d want 400", rr.Code)
	}

	end := monday.AddDays(-1)
	h.Name = "Go swimming"
	h.EndDate = &end
	rr = mockRequest(ts.handler, http.MethodPut, "/habits/"+h.ID, h)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("end before start: got %d want 400", rr.Code)
	}
}

func TestDeleteHabit(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	h := ts.track(t)

	rr := mockRequest(ts.handler, http.MethodDelete, "/habits/"+h.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("got %d want 204", rr.Code)
	}
	if live := ts.disp.Live(); len(live) != 0 {
		t.Errorf("%d reminders still pending", len(live))
	}
	rr = mockRequest(ts.handler, http.MethodGet, "/habits/"+h.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("got %d want 404", rr.Code)
	}
	rr = mockRequest(ts.handler, http.MethodDelete, "/habits/"+h.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d want 404", rr.Code)
	}
}

func TestNotificationsAndReconcile(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	h := ts.track(t)

	rr := mockRequest(ts.handler, http.MethodGet, "/habits/"+h.ID+"/notifications?status=scheduled", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rr.Code)
	}
	ns := decode[NotificationsResponse](t, rr).Notifications
	if len(ns) != engine.DefaultHorizonDays+1 {
		t.Errorf("got %d scheduled want %d", len(ns), engine.DefaultHorizonDays+1)
	}

	calls := ts.disp.Calls()
	rr = mockRequest(ts.handler, http.MethodPost, "/habits/"+h.ID+"/reconcile", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rr.Code)
	}
	res := decode[ReconcileResponse](t, rr)
	if res.Kept != engine.DefaultHorizonDays+1 || res.Scheduled != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if ts.disp.Calls() != calls {
		t.Errorf("no-op reconcile made %d dispatcher calls", ts.disp.Calls()-calls)
	}
}

func TestRollover(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	h := ts.track(t)

	ts.clock.Advance(24 * time.Hour)
	rr := mockRequest(ts.handler, http.MethodPost, "/rollover", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200: %s", rr.Code, rr.Body.String())
	}
	rep := decode[RolloverResponse](t, rr)
	if rep.Day != monday.AddDays(1) || rep.Habits != 1 || len(rep.Errors) != 0 {
		t.Errorf("unexpected report %+v", rep)
	}

	rr = mockRequest(ts.handler, http.MethodGet, "/habits/"+h.ID+"/future", nil)
	days := decode[DaysResponse](t, rr).Days
	if len(days) != engine.DefaultHorizonDays || days[len(days)-1].Day != monday.AddDays(1+engine.DefaultHorizonDays) {
		t.Errorf("future days not extended: %v", days)
	}
}

func TestAuthorize(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	ts.disp.SetAuthorized(false)
	rr := mockRequest(ts.handler, http.MethodPost, "/authorize", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200: %s", rr.Code, rr.Body.String())
	}
	if !decode[AuthorizeResponse](t, rr).Authorized {
		t.Error("expected authorization to be granted")
	}
}

func TestTokenAuth(t *testing.T) {
	ts := newTestServer(t, &config.Config{AuthToken: "s3cret"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/habits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			ts.handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("got %d want %d", rr.Code, tt.want)
			}
		})
	}

	rr := mockRequest(ts.handler, http.MethodGet, "/version", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("version should not require a token, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &config.Config{})
	mockRequest(ts.handler, http.MethodGet, "/version", nil)

	rr := mockRequest(ts.handler, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `habits_http_requests_total{endpoint="/version"`) {
		t.Error("request counter missing from metrics output")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&habit.ValidationError{Field: "name"}, http.StatusBadRequest},
		{&habit.InvalidRangeError{}, http.StatusBadRequest},
		{habit.ErrNotFound, http.StatusNotFound},
		{&habit.FutureDayError{}, http.StatusUnprocessableEntity},
		{habit.ErrDayNotTracked, http.StatusUnprocessableEntity},
		{habit.ErrBackfillDisabled, http.StatusUnprocessableEntity},
		{&habit.ConsistencyError{}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%T) = %d want %d", tt.err, got, tt.want)
		}
	}
}

func TestShortHash(t *testing.T) {
	h := hashToken("s3cret")
	if len(h) != 64 {
		t.Fatalf("hash length %d want 64", len(h))
	}
	if got := shortHash(h); got != h[:16]+"..." {
		t.Errorf("got %q", got)
	}
	if got := shortHash("abc"); got != "abc" {
		t.Errorf("got %q", got)
	}
}
