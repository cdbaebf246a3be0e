package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/pkg/habit"
	"github.com/brk3/habitd/pkg/versioninfo"
	"github.com/go-chi/chi/v5"
)

func (s *Server) getVersionInfo(w http.ResponseWriter, _ *http.Request) {
	info := versioninfo.VersionInfo{
		Version:   versioninfo.Version,
		BuildDate: versioninfo.BuildDate,
	}
	if err := writeJSON(w, http.StatusOK, info); err != nil {
		logger.Error("Failed to serialize version info response", "error", err)
		http.Error(w, `{"error":"failed to serialize version info"}`, http.StatusInternalServerError)
		return
	}
}

func (s *Server) listHabits(w http.ResponseWriter, r *http.Request) {
	habits, err := s.engine.Habits(r.Context())
	if err != nil {
		logger.Error("Failed to list habits", "error", err)
		writeError(w, err)
		return
	}
	logger.Debug("Listed habits successfully", "count", len(habits))
	if err := writeJSON(w, http.StatusOK, HabitListResponse{Habits: habits}); err != nil {
		logger.Error("Failed to serialize habit list response", "error", err)
	}
}

func (s *Server) trackHabit(w http.ResponseWriter, r *http.Request) {
	var h habit.Habit
	if err := json.NewDecoder(r.Body).Decode(&h); err != nil {
		logger.Warn("Invalid JSON in track habit request", "error", err)
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	created, res, err := s.engine.CreateHabit(r.Context(), h)
	if err != nil {
		logger.Warn("Failed to create habit", "habit_name", h.Name, "error", err)
		writeError(w, err)
		return
	}
	if res.Err != nil {
		logger.Warn("Some reminders were not scheduled", "habit_id", created.ID, "error", res.Err)
	}
	if err := writeJSON(w, http.StatusCreated, HabitMutationResponse{Habit: created, Reconcile: newReconcileResponse(res)}); err != nil {
		logger.Error("Failed to serialize track habit response", "habit_id", created.ID, "error", err)
	}
}

func (s *Server) getHabit(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	h, err := s.engine.Habit(r.Context(), habitID)
	if err != nil {
		writeError(w, err)
		return
	}
	days, err := s.engine.Days(r.Context(), habitID)
	if err != nil {
		logger.Error("Failed to get habit days", "habit_id", habitID, "error", err)
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, HabitGetResponse{Habit: h, Days: days}); err != nil {
		logger.Error("Failed to serialize get habit response", "habit_id", habitID, "error", err)
	}
}

func (s *Server) updateHabit(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	var h habit.Habit
	if err := json.NewDecoder(r.Body).Decode(&h); err != nil {
		logger.Warn("Invalid JSON in update habit request", "error", err)
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	h.ID = habitID
	updated, res, err := s.engine.UpdateHabit(r.Context(), h)
	if err != nil {
		logger.Warn("Failed to update habit", "habit_id", habitID, "error", err)
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, HabitMutationResponse{Habit: updated, Reconcile: newReconcileResponse(res)}); err != nil {
		logger.Error("Failed to serialize update habit response", "habit_id", habitID, "error", err)
	}
}

func (s *Server) deleteHabit(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	logger.Info("Deleting habit", "habit_id", habitID)
	if _, err := s.engine.DeleteHabit(r.Context(), habitID); err != nil {
		logger.Warn("Failed to delete habit", "habit_id", habitID, "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getHabitSummary(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	summary, err := s.engine.Summary(r.Context(), habitID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := HabitSummaryResponse{HabitID: habitID, HabitSummary: summary}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.Error("Failed to serialize habit summary response", "habit_id", habitID, "error", err)
	}
}

func (s *Server) getToday(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	day, ok, err := s.engine.CurrentDay(r.Context(), habitID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := TodayResponse{HabitID: habitID, Date: s.engine.Today(), Tracked: ok}
	if ok {
		resp.Day = &day
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.Error("Failed to serialize today response", "habit_id", habitID, "error", err)
	}
}

func (s *Server) getFutureDays(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	days, err := s.engine.FutureDays(r.Context(), habitID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, DaysResponse{HabitID: habitID, Days: days}); err != nil {
		logger.Error("Failed to serialize future days response", "habit_id", habitID, "error", err)
	}
}

// dateParam resolves the {date} URL parameter; "today" is the current day.
func (s *Server) dateParam(r *http.Request) (habit.Date, error) {
	raw := chi.URLParam(r, "date")
	if raw == "today" {
		return s.engine.Today(), nil
	}
	return habit.ParseDate(raw)
}

func (s *Server) markDay(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	s.setExecuted(w, r, req.Executed == nil || *req.Executed)
}

func (s *Server) unmarkDay(w http.ResponseWriter, r *http.Request) {
	s.setExecuted(w, r, false)
}

func (s *Server) setExecuted(w http.ResponseWriter, r *http.Request, executed bool) {
	habitID := chi.URLParam(r, "habit_id")
	date, err := s.dateParam(r)
	if err != nil {
		http.Error(w, `{"error":"date must be YYYY-MM-DD or today"}`, http.StatusBadRequest)
		return
	}
	day, err := s.engine.MarkExecuted(r.Context(), habitID, date, executed)
	if err != nil {
		logger.Debug("Failed to mark habit day", "habit_id", habitID, "day", date, "error", err)
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, day); err != nil {
		logger.Error("Failed to serialize habit day", "habit_id", habitID, "error", err)
	}
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	var statuses []habit.NotificationStatus
	for _, st := range r.URL.Query()["status"] {
		statuses = append(statuses, habit.NotificationStatus(st))
	}
	ns, err := s.engine.Notifications(r.Context(), habitID, statuses...)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, NotificationsResponse{HabitID: habitID, Notifications: ns}); err != nil {
		logger.Error("Failed to serialize notifications response", "habit_id", habitID, "error", err)
	}
}

func (s *Server) reconcileHabit(w http.ResponseWriter, r *http.Request) {
	habitID := chi.URLParam(r, "habit_id")
	res, err := s.engine.Reconcile(r.Context(), habitID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, newReconcileResponse(res)); err != nil {
		logger.Error("Failed to serialize reconcile response", "habit_id", habitID, "error", err)
	}
}

func (s *Server) rollover(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Rollover(r.Context())
	if err != nil && rep.Err == nil {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, newRolloverResponse(rep)); err != nil {
		logger.Error("Failed to serialize rollover response", "error", err)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	granted, err := s.engine.Authorize(r.Context())
	if err != nil && !granted {
		writeError(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, AuthorizeResponse{Authorized: granted}); err != nil {
		logger.Error("Failed to serialize authorize response", "error", err)
	}
}
