package habit

import (
	"slices"
	"strings"
	"time"
)

const (
	MaxNameLength = 50
	subtitleText  = "Have you practiced this activity?"
)

type Color string

const (
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
	ColorPurple Color = "purple"
	ColorOrange Color = "orange"
)

var Colors = []Color{ColorGreen, ColorBlue, ColorRed, ColorPurple, ColorOrange}

func (c Color) Valid() bool {
	return slices.Contains(Colors, c)
}

// FireTime is a recurring time of day at which a habit's reminder fires.
// An empty Weekdays list applies to every tracked day of the habit.
type FireTime struct {
	Hour     int            `json:"hour"`
	Minute   int            `json:"minute"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

func (f FireTime) AppliesTo(wd time.Weekday) bool {
	return len(f.Weekdays) == 0 || slices.Contains(f.Weekdays, wd)
}

func (f FireTime) Valid() bool {
	if f.Hour < 0 || f.Hour > 23 || f.Minute < 0 || f.Minute > 59 {
		return false
	}
	for _, wd := range f.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return false
		}
	}
	return true
}

type Habit struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Color     Color          `json:"color"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	StartDate Date           `json:"start_date"`
	EndDate   *Date          `json:"end_date,omitempty"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	FireTimes []FireTime     `json:"fire_times,omitempty"`
}

// Tracks reports whether the habit's recurrence includes the weekday.
func (h Habit) Tracks(wd time.Weekday) bool {
	return len(h.Weekdays) == 0 || slices.Contains(h.Weekdays, wd)
}

// Active reports whether d lies within [StartDate, EndDate].
func (h Habit) Active(d Date) bool {
	if d.Before(h.StartDate) {
		return false
	}
	return h.EndDate == nil || !d.After(*h.EndDate)
}

// Occurs reports whether d is a tracked occurrence of the habit.
func (h Habit) Occurs(d Date) bool {
	return h.Active(d) && h.Tracks(d.Weekday())
}

func (h Habit) TitleText() string {
	return h.Name
}

func (h Habit) SubtitleText() string {
	return subtitleText
}

// Validate checks the user-editable attributes of a habit.
func (h Habit) Validate() error {
	name := strings.TrimSpace(h.Name)
	if name == "" || len(name) > MaxNameLength {
		return &ValidationError{Field: "name", Reason: "must be 1-50 characters"}
	}
	if !h.Color.Valid() {
		return &ValidationError{Field: "color", Reason: "unknown color " + string(h.Color)}
	}
	for _, wd := range h.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return &ValidationError{Field: "weekdays", Reason: "weekday out of range"}
		}
	}
	if h.EndDate != nil && !h.StartDate.IsZero() && h.EndDate.Before(h.StartDate) {
		return &ValidationError{Field: "end_date", Reason: "ends before the habit starts"}
	}
	seen := map[[2]int]bool{}
	for _, ft := range h.FireTimes {
		if !ft.Valid() {
			return &ValidationError{Field: "fire_times", Reason: "hour or minute out of range"}
		}
		key := [2]int{ft.Hour, ft.Minute}
		if seen[key] {
			return &ValidationError{Field: "fire_times", Reason: "duplicate fire time"}
		}
		seen[key] = true
	}
	return nil
}

type CalendarDay struct {
	Date      Date      `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

type HabitDay struct {
	ID          string     `json:"id"`
	HabitID     string     `json:"habit_id"`
	Day         Date       `json:"day"`
	WasExecuted bool       `json:"was_executed"`
	MarkedAt    *time.Time `json:"marked_at,omitempty"`
}

type NotificationStatus string

const (
	StatusScheduled NotificationStatus = "scheduled"
	StatusDelivered NotificationStatus = "delivered"
	StatusCanceled  NotificationStatus = "canceled"
)

type Notification struct {
	ID           string             `json:"id"`
	HabitID      string             `json:"habit_id"`
	FireAt       time.Time          `json:"fire_at"`
	Status       NotificationStatus `json:"status"`
	DispatcherID string             `json:"dispatcher_id"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type HabitSummary struct {
	HabitID              string  `json:"habit_id"`
	Name                 string  `json:"name"`
	ExecutedCount        int     `json:"executed_count"`
	TotalCount           int     `json:"total_count"`
	ExecutionPercentage  float64 `json:"execution_percentage"`
	CurrentStreak        int     `json:"current_streak"`
	LongestStreak        int     `json:"longest_streak"`
	FirstTracked         *Date   `json:"first_tracked,omitempty"`
	LastExecuted         *Date   `json:"last_executed,omitempty"`
	PendingNotifications int     `json:"pending_notifications"`
}
