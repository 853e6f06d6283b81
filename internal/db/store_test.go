package db_test

import (
	"errors"
	"testing"
	"time"

	"calarmd/internal/db"
	"calarmd/internal/model"
	"calarmd/internal/testutil"
)

func TestUpsertPreservesLocalID(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ev := model.Event{
		ExternalID:   "cal-1",
		Name:         "dentist",
		StartTime:    now.Add(time.Hour),
		EndTime:      now.Add(2 * time.Hour),
		RemoteStatus: model.RemoteConfirmed,
		LocalStatus:  model.StatusPending,
		LastUpdated:  now,
	}
	first, err := store.UpsertEvent(ctx, ev)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	ev.Name = "dentist (rescheduled)"
	ev.StartTime = now.Add(3 * time.Hour)
	ev.LocalStatus = model.StatusScheduled
	second, err := store.UpsertEvent(ctx, ev)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first != second {
		t.Fatalf("local id changed across upsert: %d -> %d", first, second)
	}

	got, err := store.GetEventByExternalID(ctx, "cal-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Name != "dentist (rescheduled)" || got.LocalStatus != model.StatusScheduled {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.StartTime.Equal(now.Add(3 * time.Hour)) {
		t.Fatalf("start_time = %v, want %v", got.StartTime, now.Add(3*time.Hour))
	}
}

func TestGetEventNotFound(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	if _, err := store.GetEventByExternalID(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetEventByLocalID(ctx, 999); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNullableFieldsRoundTrip(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	notes := "bring the x-rays"
	ev := testutil.SeedEvent(t, store, ctx, model.Event{
		ExternalID:   "cal-2",
		Name:         "checkup",
		Notes:        &notes,
		StartTime:    now,
		EndTime:      now.Add(time.Hour),
		RemoteStatus: model.RemoteConfirmed,
		LocalStatus:  model.StatusPending,
	})

	got, err := store.GetEventByLocalID(ctx, ev.LocalID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Notes == nil || *got.Notes != notes {
		t.Fatalf("notes = %v, want %q", got.Notes, notes)
	}
	if got.Location != nil {
		t.Fatalf("location should be nil, got %q", *got.Location)
	}
}

func TestCountScheduledInWindow(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	seed := func(id string, start time.Time, status model.LocalStatus) {
		testutil.SeedEvent(t, store, ctx, model.Event{
			ExternalID:   id,
			Name:         id,
			StartTime:    start,
			EndTime:      start.Add(time.Hour),
			RemoteStatus: model.RemoteConfirmed,
			LocalStatus:  status,
		})
	}
	seed("in-1", day.Add(9*time.Hour), model.StatusScheduled)
	seed("in-2", day.Add(15*time.Hour), model.StatusScheduled)
	seed("pending", day.Add(10*time.Hour), model.StatusPending)
	seed("tomorrow", day.Add(26*time.Hour), model.StatusScheduled)
	seed("yesterday", day.Add(-2*time.Hour), model.StatusScheduled)

	count, err := store.CountScheduledInWindow(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestGetSettingsCreatesDefaults(t *testing.T) {
	store, ctx := testutil.NewStore(t)

	settings, err := store.GetSettings(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.TriggerLeadMinutes != model.DefaultTriggerLeadMinutes {
		t.Fatalf("lead = %d, want default %d", settings.TriggerLeadMinutes, model.DefaultTriggerLeadMinutes)
	}
	if settings.SyncWindowDays != model.DefaultSyncWindowDays {
		t.Fatalf("window = %d, want default %d", settings.SyncWindowDays, model.DefaultSyncWindowDays)
	}
	if settings.LastSyncedTime != nil {
		t.Fatalf("fresh settings should have no last synced time")
	}

	// Second read returns the persisted row, not a new one.
	again, err := store.GetSettings(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get settings again: %v", err)
	}
	if again.AccountID != "acct-1" {
		t.Fatalf("account = %q", again.AccountID)
	}
}

func TestCommitBatchUpdatesLastSynced(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	if _, err := store.GetSettings(ctx, "acct-1"); err != nil {
		t.Fatalf("ensure settings: %v", err)
	}

	batch := []model.Event{
		{
			ExternalID:   "b-1",
			Name:         "one",
			StartTime:    now.Add(time.Hour),
			EndTime:      now.Add(2 * time.Hour),
			RemoteStatus: model.RemoteConfirmed,
			LocalStatus:  model.StatusScheduled,
		},
		{
			ExternalID:   "b-2",
			Name:         "two",
			StartTime:    now.Add(3 * time.Hour),
			EndTime:      now.Add(4 * time.Hour),
			RemoteStatus: model.RemoteConfirmed,
			LocalStatus:  model.StatusPending,
		},
	}
	if err := store.CommitBatch(ctx, "acct-1", batch, now); err != nil {
		t.Fatalf("commit batch: %v", err)
	}

	events, err := store.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	settings, err := store.GetSettings(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.LastSyncedTime == nil || !settings.LastSyncedTime.Equal(now) {
		t.Fatalf("last synced = %v, want %v", settings.LastSyncedTime, now)
	}
}

func TestMarkEventFired(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	scheduled := testutil.SeedEvent(t, store, ctx, model.Event{
		ExternalID:   "f-1",
		Name:         "fired",
		StartTime:    now,
		EndTime:      now.Add(time.Hour),
		RemoteStatus: model.RemoteConfirmed,
		LocalStatus:  model.StatusScheduled,
	})
	cancelled := testutil.SeedEvent(t, store, ctx, model.Event{
		ExternalID:   "f-2",
		Name:         "cancelled",
		StartTime:    now,
		EndTime:      now.Add(time.Hour),
		RemoteStatus: model.RemoteCancelled,
		LocalStatus:  model.StatusCancelled,
	})

	if err := store.MarkEventFired(ctx, scheduled.LocalID, now.Add(time.Minute)); err != nil {
		t.Fatalf("mark fired: %v", err)
	}
	if err := store.MarkEventFired(ctx, cancelled.LocalID, now.Add(time.Minute)); err != nil {
		t.Fatalf("mark fired on cancelled: %v", err)
	}

	got, err := store.GetEventByLocalID(ctx, scheduled.LocalID)
	if err != nil {
		t.Fatalf("get scheduled: %v", err)
	}
	if got.LocalStatus != model.StatusCompleted {
		t.Fatalf("scheduled row = %s, want completed", got.LocalStatus)
	}
	gotCancelled, err := store.GetEventByLocalID(ctx, cancelled.LocalID)
	if err != nil {
		t.Fatalf("get cancelled: %v", err)
	}
	if gotCancelled.LocalStatus != model.StatusCancelled {
		t.Fatalf("cancelled row changed to %s", gotCancelled.LocalStatus)
	}
}
