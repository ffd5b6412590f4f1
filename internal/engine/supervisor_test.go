package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSupervisor() *Supervisor {
	return NewSupervisor(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisorValidation(t *testing.T) {
	sup := newTestSupervisor()
	if err := sup.Start("", RestartAlways, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := sup.Start("task", RestartAlways, nil); err == nil {
		t.Fatal("expected error for nil runner")
	}

	block := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	if err := sup.Start("task", RestartAlways, block); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sup.StopAll()
	if err := sup.Start("task", RestartAlways, block); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestSupervisorRestartsOnError(t *testing.T) {
	sup := newTestSupervisor()
	var runs atomic.Int64
	boom := errors.New("boom")

	err := sup.Start("flaky", RestartOnError, func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return boom
		}
		<-ctx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sup.StopAll()

	waitFor(t, time.Second, func() bool { return runs.Load() >= 3 })

	status := sup.Status()
	if len(status) != 1 {
		t.Fatalf("expected one task, got %d", len(status))
	}
	if status[0].RestartCount < 2 {
		t.Fatalf("restart count = %d, want >= 2", status[0].RestartCount)
	}
	if status[0].LastError != "boom" {
		t.Fatalf("last error = %q", status[0].LastError)
	}
}

func TestSupervisorRestartNever(t *testing.T) {
	sup := newTestSupervisor()
	var runs atomic.Int64

	err := sup.Start("oneshot", RestartNever, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("done")
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(sup.Tasks()) == 0 })
	if runs.Load() != 1 {
		t.Fatalf("expected exactly one run, got %d", runs.Load())
	}
}

func TestSupervisorPermanentFailure(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxRestarts:    2,
	}, zerolog.Nop())
	var runs atomic.Int64

	err := sup.Start("doomed", RestartOnError, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always fails")
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(sup.Tasks()) == 0 })
	// Two restarts after the initial run, then the limit trips.
	if got := runs.Load(); got != 3 {
		t.Fatalf("expected three runs, got %d", got)
	}
}

func TestSupervisorStopWaits(t *testing.T) {
	sup := newTestSupervisor()
	var exited atomic.Bool

	err := sup.Start("loop", RestartAlways, func(ctx context.Context) error {
		<-ctx.Done()
		exited.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	sup.Stop("loop")
	if !exited.Load() {
		t.Fatal("stop returned before the task exited")
	}
	if len(sup.Tasks()) != 0 {
		t.Fatalf("task list not empty: %v", sup.Tasks())
	}
	// Stopping a missing task is a no-op.
	sup.Stop("loop")
}
