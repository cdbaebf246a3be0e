package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/brk3/habitd/internal/engine"
	"github.com/brk3/habitd/internal/reconcile"
	"github.com/brk3/habitd/pkg/habit"
)

type HabitListResponse struct {
	Habits []habit.Habit `json:"habits"`
}

type HabitGetResponse struct {
	Habit habit.Habit      `json:"habit"`
	Days  []habit.HabitDay `json:"days"`
}

type HabitSummaryResponse struct {
	HabitID      string             `json:"habit_id"`
	HabitSummary habit.HabitSummary `json:"habit_summary"`
}

// HabitMutationResponse is returned by create and update; Reconcile reports
// what happened to the habit's reminders.
type HabitMutationResponse struct {
	Habit     habit.Habit       `json:"habit"`
	Reconcile ReconcileResponse `json:"reconcile"`
}

type ReconcileResponse struct {
	reconcile.Result
	Errors []string `json:"errors,omitempty"`
}

type TodayResponse struct {
	HabitID string          `json:"habit_id"`
	Date    habit.Date      `json:"date"`
	Tracked bool            `json:"tracked"`
	Day     *habit.HabitDay `json:"day,omitempty"`
}

type DaysResponse struct {
	HabitID string           `json:"habit_id"`
	Days    []habit.HabitDay `json:"days"`
}

type NotificationsResponse struct {
	HabitID       string               `json:"habit_id"`
	Notifications []habit.Notification `json:"notifications"`
}

type RolloverResponse struct {
	Day     habit.Date          `json:"day"`
	Habits  int                 `json:"habits"`
	Results []ReconcileResponse `json:"results"`
	Errors  []string            `json:"errors,omitempty"`
}

type AuthorizeResponse struct {
	Authorized bool `json:"authorized"`
}

// MarkRequest is the body of PUT /habits/{id}/days/{date}. A missing
// Executed means true.
type MarkRequest struct {
	Executed *bool `json:"executed,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newReconcileResponse(res reconcile.Result) ReconcileResponse {
	return ReconcileResponse{Result: res, Errors: errorStrings(res.Errors())}
}

func newRolloverResponse(rep engine.RolloverReport) RolloverResponse {
	out := RolloverResponse{Day: rep.Day, Habits: rep.Habits, Results: []ReconcileResponse{}}
	for _, res := range rep.Results {
		out.Results = append(out.Results, newReconcileResponse(res))
	}
	if rep.Err != nil {
		out.Errors = errorStrings([]error{rep.Err})
	}
	return out
}

func errorStrings(errs []error) []string {
	var out []string
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		validation *habit.ValidationError
		badRange   *habit.InvalidRangeError
		future     *habit.FutureDayError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &badRange):
		return http.StatusBadRequest
	case errors.Is(err, habit.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &future), errors.Is(err, habit.ErrDayNotTracked), errors.Is(err, habit.ErrBackfillDisabled):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	_ = writeJSON(w, code, ErrorResponse{Error: msg})
}
