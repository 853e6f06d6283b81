package model

import (
	"strings"
	"time"
)

// LocalStatus is the lifecycle status of an event row as tracked locally.
type LocalStatus string

const (
	StatusPending   LocalStatus = "pending"
	StatusScheduled LocalStatus = "scheduled"
	StatusCancelled LocalStatus = "cancelled"
	StatusCompleted LocalStatus = "completed"
)

// Remote status strings as reported by calendar providers.
const (
	RemoteConfirmed = "confirmed"
	RemoteCancelled = "cancelled"
	RemoteTentative = "tentative"
)

// IsRemoteCancelled reports whether a provider status string means the event
// was cancelled upstream.
func IsRemoteCancelled(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), RemoteCancelled)
}

// Event is one locally known calendar event. ExternalID is the reconciliation
// key assigned by the remote calendar; LocalID is the surrogate handle the
// alarm subsystem is keyed by and must never change once assigned.
type Event struct {
	LocalID      int64
	ExternalID   string
	Name         string
	Notes        *string
	Location     *string
	StartTime    time.Time
	EndTime      time.Time
	RemoteStatus string
	IsRecurring  bool
	LocalStatus  LocalStatus
	LastUpdated  time.Time
}

// RemoteEvent is a freshly fetched event record from a calendar provider.
type RemoteEvent struct {
	ExternalID  string
	Name        string
	Notes       *string
	Location    *string
	StartTime   time.Time
	EndTime     time.Time
	Status      string
	Attendees   []string
	IsRecurring bool
}

// SyncSettings is the per-account sync configuration row. It is created
// lazily with defaults on first use.
type SyncSettings struct {
	AccountID          string
	LastSyncedTime     *time.Time
	TriggerLeadMinutes int
	SyncWindowDays     int
	IsPremium          bool
	UpdatedAt          time.Time
}

// Defaults applied when a settings row is created lazily.
const (
	DefaultTriggerLeadMinutes = 10
	DefaultSyncWindowDays     = 7
)

// DefaultSettings builds the settings row used for an account that has never
// synced before.
func DefaultSettings(accountID string, now time.Time) SyncSettings {
	return SyncSettings{
		AccountID:          accountID,
		TriggerLeadMinutes: DefaultTriggerLeadMinutes,
		SyncWindowDays:     DefaultSyncWindowDays,
		UpdatedAt:          now,
	}
}

// TriggerKind identifies the source of a reconciliation trigger.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerPeriodic TriggerKind = "periodic"
	TriggerPush     TriggerKind = "push"
)

// RunStatus is the coarse outcome of one reconciliation run.
type RunStatus string

const (
	RunSuccess         RunStatus = "success"
	RunAborted         RunStatus = "aborted"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// RunOutcome is what a caller gets back from a reconciliation run.
// Individual per-event failures are never surfaced as errors; they only show
// up in FailedCount and the final status distribution.
type RunOutcome struct {
	Status      RunStatus
	Reason      string
	FailedCount int
}

// Abort reasons reported on RunOutcome.
const (
	AbortReasonAuth     = "auth"
	AbortReasonNetwork  = "network"
	AbortReasonFetch    = "fetch"
	AbortReasonSettings = "settings"
	AbortReasonCommit   = "commit"
)
