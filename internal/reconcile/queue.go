package reconcile

import (
	"context"
	"sync"

	"calarmd/internal/log"
	"calarmd/internal/model"
)

// Runner is the unit of work the queue serializes. The Orchestrator is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, accountID string, trigger model.TriggerKind) (model.RunOutcome, error)
}

// Queue is the named, replaceable task slot for one account. Triggers from
// any source (timer, push signal, manual request) funnel through it:
//
//   - a trigger arriving while a run is queued but not started replaces the
//     queued run (last trigger wins);
//   - a trigger arriving while a run is in progress queues exactly one
//     follow-up run and never preempts the one in flight.
//
// At most one run executes at a time, so alarms are never left in a
// half-dispatched state.
type Queue struct {
	runner    Runner
	accountID string

	mu     sync.Mutex
	queued *model.TriggerKind
	wake   chan struct{}

	// onDone, when set before Start, observes every finished run.
	onDone func(model.TriggerKind, model.RunOutcome)
}

func NewQueue(runner Runner, accountID string) *Queue {
	return &Queue{
		runner:    runner,
		accountID: accountID,
		wake:      make(chan struct{}, 1),
	}
}

// Trigger requests a reconciliation run. Safe to call from any goroutine.
func (q *Queue) Trigger(kind model.TriggerKind) {
	q.mu.Lock()
	q.queued = &kind
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutine. It exits when ctx is cancelled; a run
// in progress finishes its current phase boundary via ctx like any other
// call.
func (q *Queue) Start(ctx context.Context) {
	go q.loop(ctx)
}

func (q *Queue) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if q.queued == nil {
				q.mu.Unlock()
				break
			}
			trigger := *q.queued
			q.queued = nil
			q.mu.Unlock()

			outcome, err := q.runner.Run(ctx, q.accountID, trigger)
			if err != nil {
				log.Error("reconciliation run error", err,
					"account", q.accountID,
					"trigger", string(trigger),
					"status", string(outcome.Status),
					"reason", outcome.Reason,
				)
			}
			if q.onDone != nil {
				q.onDone(trigger, outcome)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}
