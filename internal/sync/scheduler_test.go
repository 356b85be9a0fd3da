package sync

import (
	"context"
	"testing"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/models"
	"github.com/brunopatuleia/tootkeeper/internal/task"
)

// gateClient blocks every fetch until released.
type gateClient struct {
	release chan struct{}
}

func (c *gateClient) Configure(acc *models.Account) error { return nil }

func (c *gateClient) FetchPage(ctx context.Context, kind models.Kind, maxID string, limit int) (*Page, error) {
	<-c.release
	return &Page{}, nil
}

func TestSchedulerTriggerSingleFlight(t *testing.T) {
	store := newFakeStore()
	client := &gateClient{release: make(chan struct{})}
	sched := NewScheduler(NewEngine(store, client, nil, 5, 10, 1), time.Hour)

	if sched.State() != "idle" {
		t.Fatalf("expected idle before trigger, got %q", sched.State())
	}
	if err := sched.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if sched.State() != "running" {
		t.Errorf("expected running after trigger, got %q", sched.State())
	}
	if err := sched.Trigger(context.Background()); err != task.ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	close(client.release)
	deadline := time.Now().Add(2 * time.Second)
	for sched.Running() {
		if time.Now().After(deadline) {
			t.Fatal("pass never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res := sched.LastResult()
	if res == nil {
		t.Fatal("expected a last result after the pass")
	}
	if res.Failed() {
		t.Errorf("expected clean pass, got %+v", res)
	}
	if sched.State() != "idle" {
		t.Errorf("expected idle after completion, got %q", sched.State())
	}
}

func TestSchedulerUnconfiguredPassIsHealthy(t *testing.T) {
	store := newFakeStore()
	store.account = nil
	sched := NewScheduler(NewEngine(store, &gateClient{}, nil, 5, 10, 1), time.Hour)

	if err := sched.runOnce(context.Background()); err != nil {
		t.Errorf("unconfigured pass must not error the task, got %v", err)
	}
	res := sched.LastResult()
	if res == nil || res.Err != ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured recorded, got %+v", res)
	}
}
