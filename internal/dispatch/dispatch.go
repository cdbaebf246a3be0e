// Package dispatch defines the boundary to the service that fires reminder
// notifications at a given moment.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized means the user has not allowed notifications.
	ErrUnauthorized = errors.New("notifications not authorized")
	// ErrNotFound is returned by Cancel for an id the dispatcher does not know.
	ErrNotFound = errors.New("scheduled notification not found")
)

// Payload is what the user sees when a reminder fires.
type Payload struct {
	HabitID string `json:"habit_id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

type Dispatcher interface {
	// Schedule arranges for payload to fire at fireAt and returns an id that
	// Cancel accepts.
	Schedule(ctx context.Context, fireAt time.Time, payload Payload) (string, error)
	Cancel(ctx context.Context, id string) error
	IsAuthorized(ctx context.Context) bool
}

// Authorizer is implemented by dispatchers that can ask the user for
// permission to deliver notifications.
type Authorizer interface {
	Authorize(ctx context.Context) (bool, error)
}

// Ephemeral is implemented by dispatchers that lose their pending reminders
// when the process exits. Notifications recorded as scheduled against an
// earlier process must be released and scheduled again.
type Ephemeral interface {
	Ephemeral() bool
}

// SchedulingError wraps a dispatcher failure for one fire moment.
type SchedulingError struct {
	HabitID string
	FireAt  time.Time
	Op      string
	Err     error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("%s reminder for habit %s at %s: %v", e.Op, e.HabitID, e.FireAt.Format(time.RFC3339), e.Err)
}

func (e *SchedulingError) Unwrap() error {
	return e.Err
}
