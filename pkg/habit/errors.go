package habit

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDayNotTracked    = errors.New("day is not a tracked occurrence of the habit")
	ErrBackfillDisabled = errors.New("marking past days is disabled")
)

// InvalidRangeError reports a date range whose start is after its end.
type InvalidRangeError struct {
	From, To Date
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: %s is after %s", e.From, e.To)
}

// FutureDayError reports an attempt to record execution for a day after today.
type FutureDayError struct {
	Day, Today Date
}

func (e *FutureDayError) Error() string {
	return fmt.Sprintf("cannot mark %s: it is after today (%s)", e.Day, e.Today)
}

// ConsistencyError reports that the store holds two records for a key that
// must be unique.
type ConsistencyError struct {
	Entity string
	Key    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation: duplicate %s for %s", e.Entity, e.Key)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bad habit %s: %s", e.Field, e.Reason)
}
