package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"calarmd/internal/model"
)

// blockingRunner records runs and holds each one until released.
type blockingRunner struct {
	mu       sync.Mutex
	triggers []model.TriggerKind

	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, accountID string, trigger model.TriggerKind) (model.RunOutcome, error) {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return model.RunOutcome{Status: model.RunSuccess}, nil
}

func (r *blockingRunner) seen() []model.TriggerKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TriggerKind, len(r.triggers))
	copy(out, r.triggers)
	return out
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not start")
	}
}

func TestQueueRunsTriggeredWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newBlockingRunner()
	close(runner.release)

	done := make(chan model.TriggerKind, 1)
	q := NewQueue(runner, "acct")
	q.onDone = func(trigger model.TriggerKind, _ model.RunOutcome) {
		done <- trigger
	}
	q.Start(ctx)
	q.Trigger(model.TriggerManual)

	select {
	case trigger := <-done:
		if trigger != model.TriggerManual {
			t.Fatalf("trigger = %s, want manual", trigger)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run never completed")
	}
}

// Triggers arriving while a run is in flight coalesce into exactly one queued
// follow-up, and the last trigger's kind wins.
func TestQueueCoalescesWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newBlockingRunner()
	doneCount := make(chan struct{}, 16)
	q := NewQueue(runner, "acct")
	q.onDone = func(model.TriggerKind, model.RunOutcome) {
		doneCount <- struct{}{}
	}
	q.Start(ctx)

	q.Trigger(model.TriggerManual)
	waitStarted(t, runner)

	// Three triggers land mid-run; only one follow-up may result.
	q.Trigger(model.TriggerPeriodic)
	q.Trigger(model.TriggerPush)
	q.Trigger(model.TriggerPeriodic)

	close(runner.release)
	waitStarted(t, runner) // the single coalesced follow-up

	for i := 0; i < 2; i++ {
		select {
		case <-doneCount:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d never completed", i)
		}
	}
	select {
	case <-runner.started:
		t.Fatal("coalesced triggers produced more than one follow-up run")
	case <-time.After(100 * time.Millisecond):
	}

	got := runner.seen()
	if len(got) != 2 {
		t.Fatalf("runs = %v, want exactly 2", got)
	}
	if got[1] != model.TriggerPeriodic {
		t.Fatalf("follow-up trigger = %s, want last-wins periodic", got[1])
	}
}

// A trigger never preempts the run in flight: the first run observes only its
// own trigger kind.
func TestQueueNeverPreemptsInFlightRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newBlockingRunner()
	q := NewQueue(runner, "acct")
	q.Start(ctx)

	q.Trigger(model.TriggerManual)
	waitStarted(t, runner)
	q.Trigger(model.TriggerPush)

	// The in-flight run is still the manual one.
	got := runner.seen()
	if len(got) != 1 || got[0] != model.TriggerManual {
		t.Fatalf("in-flight runs = %v, want [manual]", got)
	}
	close(runner.release)
}

func TestQueueStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	runner := newBlockingRunner()
	close(runner.release)
	done := make(chan struct{}, 4)
	q := NewQueue(runner, "acct")
	q.onDone = func(model.TriggerKind, model.RunOutcome) {
		done <- struct{}{}
	}
	q.Start(ctx)

	q.Trigger(model.TriggerManual)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run never completed")
	}

	cancel()
	// Give the loop a beat to observe cancellation, then verify new triggers
	// no longer start runs.
	time.Sleep(50 * time.Millisecond)
	q.Trigger(model.TriggerPeriodic)
	select {
	case <-done:
		t.Fatal("queue ran work after cancellation")
	case <-time.After(100 * time.Millisecond):
	}
}
