// Package dispatchtest provides an in-memory dispatcher that records calls.
package dispatchtest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/brk3/habitd/internal/dispatch"
)

type Fake struct {
	mu         sync.Mutex
	authorized bool
	seq        int
	live       map[string]time.Time
	failAt     map[int64]error

	Schedules  int
	Cancels    int
	AuthChecks int
	// inFlight tracks concurrent Schedule calls; MaxInFlight is the peak.
	inFlight    int
	MaxInFlight int
	Delay       time.Duration
}

func New() *Fake {
	return &Fake{authorized: true, live: map[string]time.Time{}, failAt: map[int64]error{}}
}

func (f *Fake) SetAuthorized(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = ok
}

// FailAt makes Schedule return err for the moment at.
func (f *Fake) FailAt(at time.Time, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failAt, at.UnixNano())
		return
	}
	f.failAt[at.UnixNano()] = err
}

// Calls returns the total number of dispatcher calls so far.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Schedules + f.Cancels + f.AuthChecks
}

func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Schedules, f.Cancels, f.AuthChecks = 0, 0, 0
}

// Live returns the fire moments currently scheduled, ascending.
func (f *Fake) Live() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, 0, len(f.live))
	for _, at := range f.live {
		out = append(out, at)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

func (f *Fake) Schedule(ctx context.Context, fireAt time.Time, _ dispatch.Payload) (string, error) {
	f.mu.Lock()
	f.Schedules++
	f.inFlight++
	f.MaxInFlight = max(f.MaxInFlight, f.inFlight)
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if !f.authorized {
		return "", dispatch.ErrUnauthorized
	}
	if err := f.failAt[fireAt.UnixNano()]; err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("fake-%d", f.seq)
	f.live[id] = fireAt
	return id, nil
}

func (f *Fake) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancels++
	if _, ok := f.live[id]; !ok {
		return dispatch.ErrNotFound
	}
	delete(f.live, id)
	return nil
}

func (f *Fake) IsAuthorized(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AuthChecks++
	return f.authorized
}

func (f *Fake) Authorize(context.Context) (bool, error) {
	f.SetAuthorized(true)
	return true, nil
}

var (
	_ dispatch.Dispatcher = (*Fake)(nil)
	_ dispatch.Authorizer = (*Fake)(nil)
)
