package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"calarmd/internal/db"
	"calarmd/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "calarmd-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// SeedEvent inserts ev and returns it with its assigned local id.
func SeedEvent(t *testing.T, store *db.Store, ctx context.Context, ev model.Event) model.Event {
	t.Helper()
	if ev.LastUpdated.IsZero() {
		ev.LastUpdated = time.Now().UTC()
	}
	localID, err := store.UpsertEvent(ctx, ev)
	if err != nil {
		t.Fatalf("seed event %s: %v", ev.ExternalID, err)
	}
	ev.LocalID = localID
	return ev
}

// SeedSettings writes a settings row for the account.
func SeedSettings(t *testing.T, store *db.Store, ctx context.Context, settings model.SyncSettings) {
	t.Helper()
	if err := store.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("seed settings %s: %v", settings.AccountID, err)
	}
}
