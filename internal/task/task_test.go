package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTryRunSingleFlight(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	tk := New("test", time.Minute, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tk.TryRun(context.Background()); err != nil {
			t.Errorf("first run failed: %v", err)
		}
	}()
	<-started

	if !tk.Running() {
		t.Error("expected task to report running")
	}
	if err := tk.TryRun(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := tk.TryStart(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning from TryStart, got %v", err)
	}

	close(block)
	wg.Wait()

	if tk.Running() {
		t.Error("expected task to be idle after completion")
	}
	if err := tk.TryRun(context.Background()); err != nil {
		t.Errorf("expected run to succeed once idle, got %v", err)
	}
}

func TestLastRunRecordsOutcome(t *testing.T) {
	boom := errors.New("boom")
	tk := New("test", time.Minute, func(ctx context.Context) error { return boom })

	before := time.Now()
	if err := tk.TryRun(context.Background()); err != boom {
		t.Fatalf("expected fn error returned, got %v", err)
	}
	when, err := tk.LastRun()
	if err != boom {
		t.Errorf("expected last error recorded, got %v", err)
	}
	if when.Before(before) {
		t.Errorf("expected last run timestamp after %v, got %v", before, when)
	}
}

func TestTryStartReturnsImmediately(t *testing.T) {
	block := make(chan struct{})
	done := make(chan struct{})
	tk := New("test", time.Minute, func(ctx context.Context) error {
		<-block
		close(done)
		return nil
	})

	if err := tk.TryStart(context.Background()); err != nil {
		t.Fatalf("TryStart failed: %v", err)
	}
	if !tk.Running() {
		t.Error("expected task running after TryStart")
	}
	close(block)
	<-done
}

func TestLoopStopsOnCancel(t *testing.T) {
	runs := make(chan struct{}, 10)
	tk := New("test", 5*time.Millisecond, func(ctx context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		tk.Loop(ctx)
		close(stopped)
	}()

	// The loop runs once immediately.
	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("loop never executed the task")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on context cancellation")
	}
}
