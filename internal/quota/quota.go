// Package quota gates how many alarms a non-premium account may have
// scheduled for the current day.
package quota

import "time"

// DefaultDailyLimit is the per-day alarm cap for non-premium accounts.
const DefaultDailyLimit = 3

// Tracker carries the scheduled-today count for one reconciliation run. It is
// a plain value owned by the run, seeded from the store at run start, never
// shared across runs.
type Tracker struct {
	count      int
	limit      int
	premium    bool
	todayStart time.Time
	todayEnd   time.Time
}

// DayWindow returns [start, end) of now's local calendar day in now's
// location.
func DayWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// NewTracker seeds a tracker with the number of events already scheduled
// inside [todayStart, todayEnd). A limit <= 0 falls back to
// DefaultDailyLimit.
func NewTracker(scheduledToday, limit int, premium bool, todayStart, todayEnd time.Time) *Tracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if scheduledToday < 0 {
		scheduledToday = 0
	}
	return &Tracker{
		count:      scheduledToday,
		limit:      limit,
		premium:    premium,
		todayStart: todayStart,
		todayEnd:   todayEnd,
	}
}

// TodayEligible reports whether start falls inside the run's calendar day.
// Scheduling is only attempted for today; later days wait for their own
// daily pass.
func (t *Tracker) TodayEligible(start time.Time) bool {
	return !start.Before(t.todayStart) && start.Before(t.todayEnd)
}

// Admit decides whether a pending today-event may take a schedule slot and
// claims the slot when it may. wasScheduledToday marks a re-confirmation of
// an event that already held a slot before this run; it must not be rejected
// because of its own prior presence.
func (t *Tracker) Admit(start time.Time, wasScheduledToday bool) bool {
	if !t.TodayEligible(start) {
		return false
	}
	if t.premium || wasScheduledToday || t.count < t.limit {
		t.count++
		return true
	}
	return false
}

// Release frees a slot after a today-event is de-scheduled (cancel due to
// change) or its schedule call failed after admission.
func (t *Tracker) Release(start time.Time) {
	if t.TodayEligible(start) && t.count > 0 {
		t.count--
	}
}

// ScheduledToday exposes the current count for logging and tests.
func (t *Tracker) ScheduledToday() int {
	return t.count
}
