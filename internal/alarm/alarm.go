// Package alarm provides the alarm subsystem contract and an in-process
// timer-backed implementation of it.
package alarm

import (
	"context"
	"sync"
	"time"
)

// Scheduler is the alarm subsystem the dispatcher talks to. All calls are
// keyed by the event's local id. CancelAlarm on an id with no active alarm is
// a no-op, never an error.
type Scheduler interface {
	ScheduleAlarm(ctx context.Context, localID int64, triggerAt time.Time) error
	CancelAlarm(ctx context.Context, localID int64) error
}

// FireFunc is invoked when an alarm fires.
type FireFunc func(localID int64, firedAt time.Time)

// Service is a timer-backed Scheduler. Scheduling an id that already has an
// alarm replaces it, so at most one alarm exists per local id.
type Service struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
	onFire FireFunc
	closed bool
}

func NewService(onFire FireFunc) *Service {
	return &Service{
		timers: make(map[int64]*time.Timer),
		onFire: onFire,
	}
}

func (s *Service) ScheduleAlarm(ctx context.Context, localID int64, triggerAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	if t, ok := s.timers[localID]; ok {
		t.Stop()
	}
	d := time.Until(triggerAt)
	if d < 0 {
		d = 0
	}
	s.timers[localID] = time.AfterFunc(d, func() {
		s.fire(localID)
	})
	return nil
}

func (s *Service) CancelAlarm(ctx context.Context, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[localID]; ok {
		t.Stop()
		delete(s.timers, localID)
	}
	return nil
}

// Active reports whether localID currently has a live alarm.
func (s *Service) Active(localID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[localID]
	return ok
}

// Close stops all pending alarms. Callbacks already in flight still complete.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) fire(localID int64) {
	s.mu.Lock()
	_, live := s.timers[localID]
	delete(s.timers, localID)
	onFire := s.onFire
	s.mu.Unlock()
	// A cancel that raced the timer wins: the alarm is gone from the map and
	// must not fire.
	if !live || onFire == nil {
		return
	}
	onFire(localID, time.Now().UTC())
}
