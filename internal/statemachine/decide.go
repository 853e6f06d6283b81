// Package statemachine holds the pure status decision function applied to
// every fetched remote event during a reconciliation run.
package statemachine

import (
	"time"

	"calarmd/internal/model"
)

// Decision is the outcome for one (existing, remote) pair. CancelAlarm means
// the caller must cancel the existing row's alarm before acting on Status.
type Decision struct {
	Status      model.LocalStatus
	CancelAlarm bool
}

// Decide maps (existing local row | nil, fresh remote event, now) to the next
// local status and side effect. It is total and deterministic: the same
// inputs always produce the same Decision, which idempotent replay depends
// on. It never touches the store or the alarm subsystem.
func Decide(existing *model.Event, remote model.RemoteEvent, now time.Time) Decision {
	if model.IsRemoteCancelled(remote.Status) {
		return Decision{
			Status:      model.StatusCancelled,
			CancelAlarm: existing != nil && existing.LocalStatus == model.StatusScheduled,
		}
	}

	if existing == nil {
		return Decision{Status: statusForStart(remote.StartTime, now)}
	}

	if materiallyChanged(*existing, remote) {
		return Decision{
			Status:      statusForStart(remote.StartTime, now),
			CancelAlarm: existing.LocalStatus == model.StatusScheduled,
		}
	}

	// No material change. A pending or scheduled event whose start has passed
	// is settled as completed; a stale scheduled alarm has fired or is about
	// to, so no cancel is issued.
	status := existing.LocalStatus
	if (status == model.StatusPending || status == model.StatusScheduled) && !remote.StartTime.After(now) {
		status = model.StatusCompleted
	}
	return Decision{Status: status}
}

// materiallyChanged reports whether the remote record differs from the stored
// row in a way that invalidates a live alarm.
func materiallyChanged(existing model.Event, remote model.RemoteEvent) bool {
	return !existing.StartTime.Equal(remote.StartTime) ||
		!existing.EndTime.Equal(remote.EndTime) ||
		existing.Name != remote.Name ||
		existing.RemoteStatus != remote.Status
}

func statusForStart(start, now time.Time) model.LocalStatus {
	if start.After(now) {
		return model.StatusPending
	}
	return model.StatusCompleted
}
