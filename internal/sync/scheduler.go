package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/task"
)

// Scheduler runs the engine on a fixed interval and accepts manual
// triggers from the web layer. Only one pass is ever in flight;
// triggers and ticks that collide with a running pass are dropped.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	task     *task.Task

	mu   stdsync.Mutex
	last *Result
}

// NewScheduler creates a scheduler that runs the engine every interval.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	s := &Scheduler{engine: engine, interval: interval}
	s.task = task.New("sync", interval, s.runOnce)
	return s
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	res := s.engine.Run(ctx)

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	if res.Err == ErrNotConfigured {
		logging.Info("Sync skipped: no account configured yet.")
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	for kind, kr := range res.Kinds {
		if kr.Err != nil {
			logging.Warn("Sync %s failed: %v", kind, kr.Err)
		}
	}
	return nil
}

// Run blocks, executing passes until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logging.Info("Sync scheduler started with interval %s.", s.interval)
	s.task.Loop(ctx)
}

// Trigger starts a pass in the background. Returns ErrAlreadyRunning
// when a pass is already in flight.
func (s *Scheduler) Trigger(ctx context.Context) error {
	return s.task.TryStart(ctx)
}

// Running reports whether a pass is currently executing.
func (s *Scheduler) Running() bool { return s.task.Running() }

// State returns "running" or "idle" for the status API.
func (s *Scheduler) State() string {
	if s.task.Running() {
		return "running"
	}
	return "idle"
}

// LastResult returns the most recent completed pass, or nil before the
// first pass finishes.
func (s *Scheduler) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
