// Package dispatch turns scheduling decisions into idempotent alarm
// subsystem commands.
package dispatch

import (
	"context"
	"time"

	"calarmd/internal/alarm"
	"calarmd/internal/log"
	"calarmd/internal/model"
)

// Dispatcher issues schedule/cancel commands against the alarm subsystem.
// All commands are keyed by local id; the external id means nothing to the
// alarm side.
type Dispatcher struct {
	alarms alarm.Scheduler
}

func New(alarms alarm.Scheduler) *Dispatcher {
	return &Dispatcher{alarms: alarms}
}

// TriggerTime computes when the alarm for ev should fire: lead minutes before
// the start, floored at now so a nearly-due event still gets an alarm.
func TriggerTime(ev model.Event, leadMinutes int, now time.Time) time.Time {
	trigger := ev.StartTime.Add(-time.Duration(leadMinutes) * time.Minute)
	if trigger.Before(now) {
		trigger = now
	}
	return trigger
}

// Schedule asks the alarm subsystem for an alarm on ev and reports whether
// one is now live. It returns false without calling the subsystem when the
// event's start has already passed, and false on subsystem failure; the
// caller settles the event as completed in both cases rather than retrying
// against a subsystem that just refused it.
func (d *Dispatcher) Schedule(ctx context.Context, ev model.Event, leadMinutes int, now time.Time) bool {
	if !ev.StartTime.After(now) {
		return false
	}
	triggerAt := TriggerTime(ev, leadMinutes, now)
	if err := d.alarms.ScheduleAlarm(ctx, ev.LocalID, triggerAt); err != nil {
		log.Error("alarm schedule failed", err, "local_id", ev.LocalID, "external_id", ev.ExternalID)
		return false
	}
	return true
}

// Cancel revokes any live alarm for localID. Cancelling an id with no active
// alarm is a no-op; subsystem errors are logged and swallowed because cancel
// must never fail a run.
func (d *Dispatcher) Cancel(ctx context.Context, localID int64) {
	if err := d.alarms.CancelAlarm(ctx, localID); err != nil {
		log.Error("alarm cancel failed", err, "local_id", localID)
	}
}
