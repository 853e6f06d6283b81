// Package ics implements the calendar provider contract for ICS subscription
// feeds, including recurrence expansion inside the fetch window.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"calarmd/internal/calendar"
	"calarmd/internal/log"
	"calarmd/internal/model"
)

// maxOccurrencesPerEvent caps recurrence expansion so a broken RRULE cannot
// blow up a sync window.
const maxOccurrencesPerEvent = 1000

// Feed fetches a single ICS subscription URL.
type Feed struct {
	url    string
	client *http.Client
}

func NewFeed(url string, timeout time.Duration) *Feed {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Feed{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// FetchEvents downloads the feed and returns the events whose occurrences
// fall inside [timeMin, timeMax). HTTP 401/403 map to calendar.ErrAuth,
// transport failures and other non-OK statuses to calendar.ErrNetwork.
func (f *Feed) FetchEvents(ctx context.Context, timeMin, timeMax time.Time) ([]model.RemoteEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build ics request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", calendar.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", calendar.ErrAuth, resp.Status)
	default:
		return nil, fmt.Errorf("%w: unexpected status %s", calendar.ErrNetwork, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read ics body: %v", calendar.ErrNetwork, err)
	}
	return parseWindow(body, timeMin, timeMax)
}

func parseWindow(body []byte, timeMin, timeMax time.Time) ([]model.RemoteEvent, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	out := make([]model.RemoteEvent, 0)
	for _, ve := range cal.Events() {
		events, err := expandVEvent(ve, timeMin, timeMax)
		if err != nil {
			// One malformed VEVENT must not sink the whole feed.
			log.Error("skipping unparsable vevent", err)
			continue
		}
		out = append(out, events...)
	}
	return out, nil
}

func expandVEvent(ve *ical.VEvent, timeMin, timeMax time.Time) ([]model.RemoteEvent, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("vevent missing UID")
	}
	uid := uidProp.Value

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("vevent %s: start: %w", uid, err)
	}
	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start
	}

	base := model.RemoteEvent{
		ExternalID: uid,
		Name:       propValue(ve, ical.ComponentPropertySummary),
		StartTime:  start,
		EndTime:    end,
		Status:     normalizeStatus(propValue(ve, ical.ComponentPropertyStatus)),
	}
	if notes := propValue(ve, ical.ComponentPropertyDescription); notes != "" {
		base.Notes = &notes
	}
	if loc := propValue(ve, ical.ComponentPropertyLocation); loc != "" {
		base.Location = &loc
	}

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil || rruleProp.Value == "" {
		if overlaps(start, end, timeMin, timeMax) {
			return []model.RemoteEvent{base}, nil
		}
		return nil, nil
	}

	rule, err := rrule.StrToRRule(rruleProp.Value)
	if err != nil {
		return nil, fmt.Errorf("vevent %s: rrule: %w", uid, err)
	}
	rule.DTStart(start)

	occStarts := rule.Between(timeMin.In(start.Location()), timeMax.In(start.Location()), true)
	if len(occStarts) > maxOccurrencesPerEvent {
		occStarts = occStarts[:maxOccurrencesPerEvent]
	}

	duration := end.Sub(start)
	out := make([]model.RemoteEvent, 0, len(occStarts))
	for _, occStart := range occStarts {
		inst := base
		inst.IsRecurring = true
		inst.StartTime = occStart
		inst.EndTime = occStart.Add(duration)
		// Each expanded instance gets its own reconciliation identity so a
		// cancelled or moved instance only affects its own alarm.
		inst.ExternalID = fmt.Sprintf("%s@%s", uid, occStart.UTC().Format("20060102T150405Z"))
		out = append(out, inst)
	}
	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// normalizeStatus lowers ICS STATUS values into the provider status strings
// the state machine understands. Absent status means confirmed.
func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", model.RemoteConfirmed:
		return model.RemoteConfirmed
	case model.RemoteCancelled:
		return model.RemoteCancelled
	case model.RemoteTentative:
		return model.RemoteTentative
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && !aEnd.Before(bStart)
}
