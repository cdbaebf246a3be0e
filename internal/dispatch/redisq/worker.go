package redisq

import (
	"context"
	"time"

	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/internal/nudge"
)

const (
	DefaultPollInterval = 15 * time.Second
	defaultBatch        = 100
)

// Worker delivers due reminders from the queue.
type Worker struct {
	d        *Dispatcher
	notifier nudge.Notifier
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

func NewWorker(d *Dispatcher, n nudge.Notifier, interval time.Duration, now func() time.Time) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Worker{d: d, notifier: n, interval: interval, now: now, stopCh: make(chan struct{})}
}

// Start polls once immediately, then on every tick until Stop or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	if _, err := w.Poll(ctx); err != nil {
		logger.Warn("Initial reminder poll failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.Poll(ctx); err != nil {
					logger.Error("Reminder poll failed", "error", err)
				}
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

// Poll delivers every reminder due now and returns how many were delivered.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	delivered := 0
	for {
		due, err := w.d.claimDue(ctx, w.now(), defaultBatch)
		for _, r := range due {
			if nerr := w.notifier.Notify(ctx, r); nerr != nil {
				logger.Error("Failed to deliver reminder", "habit_id", r.HabitID, "error", nerr)
				continue
			}
			delivered++
		}
		if err != nil {
			return delivered, err
		}
		if len(due) < defaultBatch {
			break
		}
	}
	if delivered > 0 {
		logger.Debug("Delivered reminders", "count", delivered)
	}
	return delivered, nil
}
