package testfixtures

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/example/availability-engine/internal/calendar"
)

// FakeCalendar is an in-process calendar provider. Events created through it
// show up as busy time in later queries. Only the tokens it issued are
// accepted; anything else is answered with a 401.
type FakeCalendar struct {
	mu      sync.Mutex
	events  []calendar.Event
	tokens  map[string]bool
	ids     *IDGenerator
	failFor map[string]error
	created []calendar.NewEvent
}

// NewFakeCalendar returns an empty calendar that accepts accessToken.
func NewFakeCalendar(accessToken string) *FakeCalendar {
	return &FakeCalendar{
		tokens:  map[string]bool{accessToken: true},
		ids:     NewIDGenerator("evt"),
		failFor: make(map[string]error),
	}
}

// AddBusy records an opaque event on the calendar.
func (f *FakeCalendar) AddBusy(summary string, start, end time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, calendar.Event{
		ID:           f.ids.Next(),
		Summary:      summary,
		Start:        start,
		End:          end,
		Transparency: calendar.TransparencyOpaque,
	})
}

// RevokeToken makes token fail with 401 from now on.
func (f *FakeCalendar) RevokeToken(token string) {
	f.mu.Lock()
	delete(f.tokens, token)
	f.mu.Unlock()
}

// FailNext makes the next call of operation ("list", "freebusy" or "create")
// return err.
func (f *FakeCalendar) FailNext(operation string, err error) {
	f.mu.Lock()
	f.failFor[operation] = err
	f.mu.Unlock()
}

// Created returns the events written through CreateEvent.
func (f *FakeCalendar) Created() []calendar.NewEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calendar.NewEvent(nil), f.created...)
}

// ListEvents implements calendar.Provider.
func (f *FakeCalendar) ListEvents(ctx context.Context, cred calendar.Credential, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, "list", cred); err != nil {
		return nil, err
	}

	var out []calendar.Event
	for _, e := range f.events {
		if e.Start.Before(timeMax) && e.End.After(timeMin) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// FreeBusy implements calendar.Provider. Every requested calendar reports
// the same busy intervals.
func (f *FakeCalendar) FreeBusy(ctx context.Context, cred calendar.Credential, timeMin, timeMax time.Time, calendarIDs []string) (calendar.FreeBusyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, "freebusy", cred); err != nil {
		return calendar.FreeBusyResponse{}, err
	}

	var busy []calendar.Interval
	for _, e := range f.events {
		if e.Transparency != calendar.TransparencyTransparent && e.Start.Before(timeMax) && e.End.After(timeMin) {
			busy = append(busy, calendar.Interval{Start: e.Start, End: e.End})
		}
	}
	if len(calendarIDs) == 0 {
		calendarIDs = []string{"primary"}
	}
	resp := calendar.FreeBusyResponse{Calendars: make(map[string][]calendar.Interval, len(calendarIDs))}
	for _, id := range calendarIDs {
		resp.Calendars[id] = append([]calendar.Interval(nil), busy...)
	}
	return resp, nil
}

// CreateEvent implements calendar.Provider.
func (f *FakeCalendar) CreateEvent(ctx context.Context, cred calendar.Credential, event calendar.NewEvent) (calendar.CreatedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, "create", cred); err != nil {
		return calendar.CreatedEvent{}, err
	}

	id := f.ids.Next()
	f.created = append(f.created, event)
	f.events = append(f.events, calendar.Event{
		ID:           id,
		Summary:      event.Summary,
		Start:        event.Start,
		End:          event.End,
		Transparency: calendar.TransparencyOpaque,
	})
	return calendar.CreatedEvent{ID: id, HTMLLink: "https://calendar.example/event/" + id}, nil
}

// Refresh implements calendar.Refresher by issuing "refreshed-N" tokens.
func (f *FakeCalendar) Refresh(ctx context.Context, cred calendar.Credential) (calendar.Credential, error) {
	if cred.RefreshToken == "" {
		return calendar.Credential{}, calendar.ErrRefreshFailed
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	token := fmt.Sprintf("refreshed-%d", len(f.tokens)+1)
	f.tokens[token] = true
	return calendar.Credential{AccessToken: token, RefreshToken: cred.RefreshToken, Expiry: referenceTime.Add(time.Hour)}, nil
}

func (f *FakeCalendar) check(ctx context.Context, operation string, cred calendar.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := f.failFor[operation]; ok {
		delete(f.failFor, operation)
		return err
	}
	if !f.tokens[cred.AccessToken] {
		return &calendar.StatusError{Operation: operation, StatusCode: http.StatusUnauthorized, Err: calendar.ErrUnauthorized}
	}
	return nil
}
