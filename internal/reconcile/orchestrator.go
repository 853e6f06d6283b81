// Package reconcile owns the end-to-end reconciliation run: fetch a remote
// window, decide status transitions, gate scheduling through the daily
// quota, dispatch alarm commands, and commit the decided batch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"calarmd/internal/calendar"
	"calarmd/internal/db"
	"calarmd/internal/dispatch"
	"calarmd/internal/log"
	"calarmd/internal/model"
	"calarmd/internal/quota"
	"calarmd/internal/statemachine"
)

// Orchestrator runs one reconciliation pass at a time. It is the only writer
// of event rows; the single-run-at-a-time guarantee comes from Queue.
type Orchestrator struct {
	store      *db.Store
	provider   calendar.Provider
	dispatcher *dispatch.Dispatcher
	tier       calendar.TierChecker
	dailyLimit int
	loc        *time.Location
}

func NewOrchestrator(store *db.Store, provider calendar.Provider, dispatcher *dispatch.Dispatcher, tier calendar.TierChecker, dailyLimit int, loc *time.Location) *Orchestrator {
	if loc == nil {
		loc = time.Local
	}
	return &Orchestrator{
		store:      store,
		provider:   provider,
		dispatcher: dispatcher,
		tier:       tier,
		dailyLimit: dailyLimit,
		loc:        loc,
	}
}

// Run executes one reconciliation pass for the account at the current time.
func (o *Orchestrator) Run(ctx context.Context, accountID string, trigger model.TriggerKind) (model.RunOutcome, error) {
	return o.RunAt(ctx, accountID, trigger, time.Now().In(o.loc))
}

// RunAt is Run with an explicit clock. Fetch-phase failures abort with no
// writes; dispatch-phase failures are isolated per event and never abort the
// batch.
func (o *Orchestrator) RunAt(ctx context.Context, accountID string, trigger model.TriggerKind, now time.Time) (model.RunOutcome, error) {
	runID := uuid.NewString()
	log.Info("reconciliation run start", "run_id", runID, "account", accountID, "trigger", string(trigger))

	settings, err := o.store.GetSettings(ctx, accountID)
	if err != nil {
		return model.RunOutcome{Status: model.RunAborted, Reason: model.AbortReasonSettings}, fmt.Errorf("load settings: %w", err)
	}

	windowEnd := now.AddDate(0, 0, settings.SyncWindowDays)
	remote, err := o.provider.FetchEvents(ctx, now, windowEnd)
	if err != nil {
		reason := model.AbortReasonFetch
		switch {
		case errors.Is(err, calendar.ErrAuth):
			reason = model.AbortReasonAuth
		case errors.Is(err, calendar.ErrNetwork):
			reason = model.AbortReasonNetwork
		}
		log.Error("reconciliation run aborted at fetch", err, "run_id", runID, "reason", reason)
		return model.RunOutcome{Status: model.RunAborted, Reason: reason}, fmt.Errorf("fetch events: %w", err)
	}

	premium := settings.IsPremium
	if o.tier != nil {
		if p, tierErr := o.tier.IsPremium(ctx, accountID); tierErr == nil {
			premium = p
		} else {
			log.Error("tier check failed, using stored flag", tierErr, "run_id", runID)
		}
	}

	todayStart, todayEnd := quota.DayWindow(now)
	seed, err := o.store.CountScheduledInWindow(ctx, todayStart, todayEnd)
	if err != nil {
		return model.RunOutcome{Status: model.RunAborted, Reason: model.AbortReasonSettings}, fmt.Errorf("seed quota count: %w", err)
	}
	tracker := quota.NewTracker(seed, o.dailyLimit, premium, todayStart, todayEnd)

	batch := make([]model.Event, 0, len(remote))
	failed := 0
	// Remote order is admission order: when quota is tight, today's slots go
	// first-fetched-first-served, not by start time.
	for _, re := range remote {
		ev, evFailed, evErr := o.decideOne(ctx, re, tracker, settings.TriggerLeadMinutes, now)
		if evErr != nil {
			log.Error("event skipped", evErr, "run_id", runID, "external_id", re.ExternalID)
			failed++
			continue
		}
		if evFailed {
			failed++
		}
		batch = append(batch, ev)
	}

	if err := o.store.CommitBatch(ctx, accountID, batch, now); err != nil {
		return model.RunOutcome{Status: model.RunAborted, Reason: model.AbortReasonCommit}, fmt.Errorf("commit batch: %w", err)
	}

	outcome := model.RunOutcome{Status: model.RunSuccess}
	if failed > 0 {
		outcome = model.RunOutcome{Status: model.RunPartiallyFailed, FailedCount: failed}
	}
	log.Info("reconciliation run done",
		"run_id", runID,
		"status", string(outcome.Status),
		"events", len(batch),
		"failed", failed,
		"scheduled_today", tracker.ScheduledToday(),
	)
	return outcome, nil
}

// decideOne runs the state machine for one remote event and executes its
// side effects. evFailed marks a per-event dispatch failure that should count
// toward a PartiallyFailed outcome; err marks a store failure that leaves
// the event out of the batch entirely.
func (o *Orchestrator) decideOne(ctx context.Context, re model.RemoteEvent, tracker *quota.Tracker, leadMinutes int, now time.Time) (ev model.Event, evFailed bool, err error) {
	var existing *model.Event
	row, err := o.store.GetEventByExternalID(ctx, re.ExternalID)
	switch {
	case err == nil:
		existing = &row
	case errors.Is(err, db.ErrNotFound):
	default:
		return model.Event{}, false, fmt.Errorf("load existing event: %w", err)
	}

	decision := statemachine.Decide(existing, re, now)

	wasScheduledToday := existing != nil &&
		existing.LocalStatus == model.StatusScheduled &&
		tracker.TodayEligible(existing.StartTime)

	if decision.CancelAlarm {
		o.dispatcher.Cancel(ctx, existing.LocalID)
		if wasScheduledToday {
			tracker.Release(existing.StartTime)
		}
	}

	ev = mergeRemote(existing, re, decision.Status, now)

	if decision.Status != model.StatusPending || !tracker.TodayEligible(re.StartTime) {
		// Future-day pending events wait for their own daily pass.
		return ev, false, nil
	}

	if !tracker.Admit(re.StartTime, wasScheduledToday) {
		// Quota denied is not an error: the event stays pending and is
		// retried on the next pass.
		return ev, false, nil
	}

	if ev.LocalID == 0 {
		// New events need their surrogate id before the alarm subsystem can
		// be addressed. The pending row is safe to persist early: pending
		// rows never have live alarms.
		localID, upsertErr := o.store.UpsertEvent(ctx, ev)
		if upsertErr != nil {
			tracker.Release(re.StartTime)
			return model.Event{}, false, fmt.Errorf("assign local id: %w", upsertErr)
		}
		ev.LocalID = localID
	}

	if o.dispatcher.Schedule(ctx, ev, leadMinutes, now) {
		ev.LocalStatus = model.StatusScheduled
		return ev, false, nil
	}
	// Alarm subsystem refused the event; settle it instead of retrying
	// forever against a malfunctioning subsystem.
	ev.LocalStatus = model.StatusCompleted
	tracker.Release(re.StartTime)
	return ev, true, nil
}

// mergeRemote builds the decided row: remote fields win, the surrogate id of
// an existing row is preserved.
func mergeRemote(existing *model.Event, re model.RemoteEvent, status model.LocalStatus, now time.Time) model.Event {
	ev := model.Event{
		ExternalID:   re.ExternalID,
		Name:         re.Name,
		Notes:        re.Notes,
		Location:     re.Location,
		StartTime:    re.StartTime,
		EndTime:      re.EndTime,
		RemoteStatus: re.Status,
		IsRecurring:  re.IsRecurring,
		LocalStatus:  status,
		LastUpdated:  now,
	}
	if existing != nil {
		ev.LocalID = existing.LocalID
	}
	return ev
}
