// Package task provides the recurring-task primitive shared by the
// sync scheduler and the profile updater: a named job with an
// interval, a single-flight guard and last-run state.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/logging"
)

// ErrAlreadyRunning signals that a run was requested while a previous
// run is still in flight. A concurrency-control outcome, not a fault.
var ErrAlreadyRunning = errors.New("task already running")

// Task is a named recurring job. At most one execution is active at a
// time; timer firings and manual triggers that arrive while running
// are dropped, never queued.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// New creates a task that executes fn at most once per invocation.
func New(name string, interval time.Duration, fn func(ctx context.Context) error) *Task {
	return &Task{name: name, interval: interval, fn: fn}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Running reports whether an execution is currently in flight.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// LastRun returns when the task last finished and with what error.
func (t *Task) LastRun() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun, t.lastErr
}

// TryRun executes fn synchronously, or returns ErrAlreadyRunning if an
// execution is already in flight.
func (t *Task) TryRun(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.mu.Unlock()

	err := t.fn(ctx)

	t.mu.Lock()
	t.running = false
	t.lastRun = time.Now()
	t.lastErr = err
	t.mu.Unlock()
	return err
}

// TryStart launches fn in a goroutine and returns immediately, or
// returns ErrAlreadyRunning without starting anything.
func (t *Task) TryStart(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.mu.Unlock()

	go func() {
		err := t.fn(ctx)

		t.mu.Lock()
		t.running = false
		t.lastRun = time.Now()
		t.lastErr = err
		t.mu.Unlock()
	}()
	return nil
}

// Loop runs the task immediately, then on every interval tick until
// the context is cancelled. Ticks that fire while a run is still in
// flight are skipped.
func (t *Task) Loop(ctx context.Context) {
	if err := t.TryRun(ctx); err != nil && err != ErrAlreadyRunning {
		logging.Error("Task %s: %v", t.name, err)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := t.TryRun(ctx)
			if err == ErrAlreadyRunning {
				logging.Info("Task %s still running, skipping tick.", t.name)
			} else if err != nil {
				logging.Error("Task %s: %v", t.name, err)
			}
		case <-ctx.Done():
			logging.Info("Stopping task %s due to context cancellation.", t.name)
			return
		}
	}
}
