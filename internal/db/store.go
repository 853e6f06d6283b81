package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"calarmd/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the durable event and settings store. The reconciliation
// orchestrator is its only writer; a single connection keeps sqlite happy
// under WAL.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// UpsertEvent inserts or updates the row keyed by external_id and returns its
// local_id. An existing row keeps its local_id: an in-flight alarm command
// references it.
func (s *Store) UpsertEvent(ctx context.Context, ev model.Event) (int64, error) {
	if ev.LastUpdated.IsZero() {
		ev.LastUpdated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events(external_id, name, notes, location, start_time, end_time, remote_status, is_recurring, local_status, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
	name=excluded.name,
	notes=excluded.notes,
	location=excluded.location,
	start_time=excluded.start_time,
	end_time=excluded.end_time,
	remote_status=excluded.remote_status,
	is_recurring=excluded.is_recurring,
	local_status=excluded.local_status,
	last_updated=excluded.last_updated
`, ev.ExternalID, ev.Name, nullableStr(ev.Notes), nullableStr(ev.Location), ts(ev.StartTime), ts(ev.EndTime), ev.RemoteStatus, boolToInt(ev.IsRecurring), string(ev.LocalStatus), ts(ev.LastUpdated))
	if err != nil {
		return 0, fmt.Errorf("upsert event: %w", err)
	}
	var localID int64
	if err := s.db.QueryRowContext(ctx, `SELECT local_id FROM events WHERE external_id = ?`, ev.ExternalID).Scan(&localID); err != nil {
		return 0, fmt.Errorf("read local_id after upsert: %w", err)
	}
	return localID, nil
}

func (s *Store) GetEventByExternalID(ctx context.Context, externalID string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT local_id, external_id, name, notes, location, start_time, end_time, remote_status, is_recurring, local_status, last_updated
FROM events
WHERE external_id = ?
`, externalID)
	return scanEvent(row)
}

func (s *Store) GetEventByLocalID(ctx context.Context, localID int64) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT local_id, external_id, name, notes, location, start_time, end_time, remote_status, is_recurring, local_status, last_updated
FROM events
WHERE local_id = ?
`, localID)
	return scanEvent(row)
}

func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT local_id, external_id, name, notes, location, start_time, end_time, remote_status, is_recurring, local_status, last_updated
FROM events
ORDER BY start_time ASC, local_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter events: %w", err)
	}
	return out, nil
}

// CountScheduledInWindow counts scheduled rows whose start falls in
// [from, to). This seeds the quota tracker at the start of a run.
func (s *Store) CountScheduledInWindow(ctx context.Context, from, to time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM events
WHERE local_status = ? AND start_time >= ? AND start_time < ?
`, string(model.StatusScheduled), ts(from), ts(to))
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count scheduled in window: %w", err)
	}
	return count, nil
}

// CommitBatch upserts the full decided batch and advances the account's
// last-synced time in one transaction.
func (s *Store) CommitBatch(ctx context.Context, accountID string, events []model.Event, syncedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit batch tx: %w", err)
	}
	for _, ev := range events {
		if ev.LastUpdated.IsZero() {
			ev.LastUpdated = syncedAt
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO events(external_id, name, notes, location, start_time, end_time, remote_status, is_recurring, local_status, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
	name=excluded.name,
	notes=excluded.notes,
	location=excluded.location,
	start_time=excluded.start_time,
	end_time=excluded.end_time,
	remote_status=excluded.remote_status,
	is_recurring=excluded.is_recurring,
	local_status=excluded.local_status,
	last_updated=excluded.last_updated
`, ev.ExternalID, ev.Name, nullableStr(ev.Notes), nullableStr(ev.Location), ts(ev.StartTime), ts(ev.EndTime), ev.RemoteStatus, boolToInt(ev.IsRecurring), string(ev.LocalStatus), ts(ev.LastUpdated)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("upsert event in batch: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE sync_settings SET last_synced_time = ?, updated_at = ? WHERE account_id = ?
`, ts(syncedAt), ts(syncedAt), accountID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update last synced time: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// MarkEventFired settles a scheduled row after its alarm fired. Rows in any
// other status are left alone.
func (s *Store) MarkEventFired(ctx context.Context, localID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE events SET local_status = ?, last_updated = ?
WHERE local_id = ? AND local_status = ?
`, string(model.StatusCompleted), ts(at), localID, string(model.StatusScheduled))
	if err != nil {
		return fmt.Errorf("mark event fired: %w", err)
	}
	return nil
}

// GetSettings returns the account's sync settings, creating the row with
// defaults on first use.
func (s *Store) GetSettings(ctx context.Context, accountID string) (model.SyncSettings, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT account_id, last_synced_time, trigger_lead_minutes, sync_window_days, is_premium, updated_at
FROM sync_settings
WHERE account_id = ?
`, accountID)
	settings, err := scanSettings(row)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.SyncSettings{}, err
	}
	settings = model.DefaultSettings(accountID, time.Now().UTC())
	if err := s.SaveSettings(ctx, settings); err != nil {
		return model.SyncSettings{}, err
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings model.SyncSettings) error {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_settings(account_id, last_synced_time, trigger_lead_minutes, sync_window_days, is_premium, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id) DO UPDATE SET
	last_synced_time=excluded.last_synced_time,
	trigger_lead_minutes=excluded.trigger_lead_minutes,
	sync_window_days=excluded.sync_window_days,
	is_premium=excluded.is_premium,
	updated_at=excluded.updated_at
`, settings.AccountID, nullableTS(settings.LastSyncedTime), settings.TriggerLeadMinutes, settings.SyncWindowDays, boolToInt(settings.IsPremium), ts(settings.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (model.Event, error) {
	var (
		ev          model.Event
		notes       sql.NullString
		location    sql.NullString
		startTime   string
		endTime     string
		isRecurring int
		localStatus string
		lastUpdated string
	)
	if err := scanner.Scan(&ev.LocalID, &ev.ExternalID, &ev.Name, &notes, &location, &startTime, &endTime, &ev.RemoteStatus, &isRecurring, &localStatus, &lastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, ErrNotFound
		}
		return model.Event{}, fmt.Errorf("scan event: %w", err)
	}
	if notes.Valid {
		v := notes.String
		ev.Notes = &v
	}
	if location.Valid {
		v := location.String
		ev.Location = &v
	}
	ev.IsRecurring = isRecurring == 1
	ev.LocalStatus = model.LocalStatus(localStatus)
	var err error
	ev.StartTime, err = parseTS(startTime)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse event start_time: %w", err)
	}
	ev.EndTime, err = parseTS(endTime)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse event end_time: %w", err)
	}
	ev.LastUpdated, err = parseTS(lastUpdated)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse event last_updated: %w", err)
	}
	return ev, nil
}

func scanSettings(row *sql.Row) (model.SyncSettings, error) {
	var (
		out        model.SyncSettings
		lastSynced sql.NullString
		isPremium  int
		updatedAt  string
	)
	if err := row.Scan(&out.AccountID, &lastSynced, &out.TriggerLeadMinutes, &out.SyncWindowDays, &isPremium, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SyncSettings{}, ErrNotFound
		}
		return model.SyncSettings{}, fmt.Errorf("scan settings: %w", err)
	}
	out.IsPremium = isPremium == 1
	if lastSynced.Valid {
		v, err := parseTS(lastSynced.String)
		if err != nil {
			return model.SyncSettings{}, fmt.Errorf("parse last_synced_time: %w", err)
		}
		out.LastSyncedTime = &v
	}
	var err error
	out.UpdatedAt, err = parseTS(updatedAt)
	if err != nil {
		return model.SyncSettings{}, fmt.Errorf("parse settings updated_at: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
