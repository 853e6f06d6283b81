package statemachine

import (
	"testing"
	"time"

	"calarmd/internal/model"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func event(status model.LocalStatus, start time.Time) *model.Event {
	return &model.Event{
		LocalID:      7,
		ExternalID:   "ev-1",
		Name:         "standup",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		RemoteStatus: model.RemoteConfirmed,
		LocalStatus:  status,
	}
}

func remote(status string, start time.Time) model.RemoteEvent {
	return model.RemoteEvent{
		ExternalID: "ev-1",
		Name:       "standup",
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     status,
	}
}

func TestDecide(t *testing.T) {
	future := now.Add(2 * time.Hour)
	past := now.Add(-2 * time.Hour)

	tests := []struct {
		name     string
		existing *model.Event
		remote   model.RemoteEvent
		want     Decision
	}{
		{
			name:     "remote cancelled with scheduled row cancels alarm",
			existing: event(model.StatusScheduled, future),
			remote:   remote(model.RemoteCancelled, future),
			want:     Decision{Status: model.StatusCancelled, CancelAlarm: true},
		},
		{
			name:     "remote cancelled with pending row has no side effect",
			existing: event(model.StatusPending, future),
			remote:   remote(model.RemoteCancelled, future),
			want:     Decision{Status: model.StatusCancelled},
		},
		{
			name:   "remote cancelled unknown event",
			remote: remote(model.RemoteCancelled, future),
			want:   Decision{Status: model.StatusCancelled},
		},
		{
			name:   "new future event is pending",
			remote: remote(model.RemoteConfirmed, future),
			want:   Decision{Status: model.StatusPending},
		},
		{
			name:   "new past event is completed",
			remote: remote(model.RemoteConfirmed, past),
			want:   Decision{Status: model.StatusCompleted},
		},
		{
			name:     "start change on scheduled row cancels and goes pending",
			existing: event(model.StatusScheduled, future),
			remote:   remote(model.RemoteConfirmed, future.Add(time.Hour)),
			want:     Decision{Status: model.StatusPending, CancelAlarm: true},
		},
		{
			name:     "start change on pending row has no cancel",
			existing: event(model.StatusPending, future),
			remote:   remote(model.RemoteConfirmed, future.Add(time.Hour)),
			want:     Decision{Status: model.StatusPending},
		},
		{
			name:     "start change into the past completes",
			existing: event(model.StatusScheduled, future),
			remote:   remote(model.RemoteConfirmed, past),
			want:     Decision{Status: model.StatusCompleted, CancelAlarm: true},
		},
		{
			name:     "unchanged pending whose start passed completes without dispatch",
			existing: event(model.StatusPending, past),
			remote:   remote(model.RemoteConfirmed, past),
			want:     Decision{Status: model.StatusCompleted},
		},
		{
			name:     "unchanged scheduled whose start passed settles without cancel",
			existing: event(model.StatusScheduled, past),
			remote:   remote(model.RemoteConfirmed, past),
			want:     Decision{Status: model.StatusCompleted},
		},
		{
			name:     "unchanged future scheduled keeps status",
			existing: event(model.StatusScheduled, future),
			remote:   remote(model.RemoteConfirmed, future),
			want:     Decision{Status: model.StatusScheduled},
		},
		{
			name:     "unchanged completed stays completed",
			existing: event(model.StatusCompleted, past),
			remote:   remote(model.RemoteConfirmed, past),
			want:     Decision{Status: model.StatusCompleted},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.existing, tc.remote, now)
			if got != tc.want {
				t.Fatalf("Decide() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDecideNameChangeInvalidatesAlarm(t *testing.T) {
	future := now.Add(time.Hour)
	existing := event(model.StatusScheduled, future)
	re := remote(model.RemoteConfirmed, future)
	re.Name = "standup (moved rooms)"

	got := Decide(existing, re, now)
	want := Decision{Status: model.StatusPending, CancelAlarm: true}
	if got != want {
		t.Fatalf("Decide() = %+v, want %+v", got, want)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	future := now.Add(time.Hour)
	existing := event(model.StatusScheduled, future)
	re := remote(model.RemoteConfirmed, future.Add(time.Minute))

	first := Decide(existing, re, now)
	for i := 0; i < 10; i++ {
		if got := Decide(existing, re, now); got != first {
			t.Fatalf("Decide() not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestRemoteStatusCaseInsensitive(t *testing.T) {
	future := now.Add(time.Hour)
	re := remote("CANCELLED", future)
	got := Decide(nil, re, now)
	if got.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}
