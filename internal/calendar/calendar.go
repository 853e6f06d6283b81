// Package calendar defines the contracts the reconciliation core consumes:
// the remote event feed and the subscription tier check.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calarmd/internal/model"
)

// Fetch failures are classified so the orchestrator can abort a run with the
// right reason. Wrap these with fmt.Errorf("...: %w", ...) and test with
// errors.Is.
var (
	ErrAuth    = errors.New("calendar: authentication failed")
	ErrNetwork = errors.New("calendar: network failure")
)

// Provider fetches raw remote events for a time window.
type Provider interface {
	FetchEvents(ctx context.Context, timeMin, timeMax time.Time) ([]model.RemoteEvent, error)
}

// TierChecker resolves whether an account has premium (unlimited alarms)
// status.
type TierChecker interface {
	IsPremium(ctx context.Context, accountID string) (bool, error)
}

// StaticTier is a TierChecker backed by configuration.
type StaticTier struct {
	Premium bool
}

func (s StaticTier) IsPremium(ctx context.Context, accountID string) (bool, error) {
	return s.Premium, nil
}

// Multi fans a fetch out over several providers and concatenates the results
// in provider order. Any provider failure fails the whole fetch, so a run
// never commits a partial view of the remote calendars.
type Multi []Provider

func (m Multi) FetchEvents(ctx context.Context, timeMin, timeMax time.Time) ([]model.RemoteEvent, error) {
	out := make([]model.RemoteEvent, 0)
	for i, p := range m {
		events, err := p.FetchEvents(ctx, timeMin, timeMax)
		if err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		out = append(out, events...)
	}
	return out, nil
}
