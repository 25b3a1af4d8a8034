// Package calendar defines the boundary to an external calendar provider.
//
// Provider responses are decoded into the typed shapes in this package and
// validated before they reach the booking engine. Transport failures are
// reported through the sentinel errors below so callers can classify them
// with errors.Is without inspecting provider payloads.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when the provider rejects the access token (HTTP 401).
	ErrUnauthorized = errors.New("calendar: unauthorized")
	// ErrConflict is returned when the provider reports the write conflicts with existing state (HTTP 409).
	ErrConflict = errors.New("calendar: conflict")
	// ErrUnavailable is returned for 5xx responses and network failures.
	ErrUnavailable = errors.New("calendar: upstream unavailable")
	// ErrTimeout is returned when the request deadline elapses before a response arrives.
	ErrTimeout = errors.New("calendar: request timed out")
	// ErrRefreshFailed is returned when a refresh token cannot be exchanged for a new access token.
	ErrRefreshFailed = errors.New("calendar: credential refresh failed")
	// ErrInvalidResponse is returned when a response body does not match a known shape.
	ErrInvalidResponse = errors.New("calendar: invalid response")
	// ErrRejected is returned for any other client error status.
	ErrRejected = errors.New("calendar: request rejected")
)

// Credential is an OAuth style access/refresh token pair.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Transparency values reported for events.
const (
	TransparencyOpaque      = "opaque"
	TransparencyTransparent = "transparent"
)

// Event is a single provider event within a listed range.
type Event struct {
	ID           string
	Summary      string
	Start        time.Time
	End          time.Time
	Transparency string
}

// Interval is a half-open time range reported by the provider.
type Interval struct {
	Start time.Time
	End   time.Time
}

// FreeBusyResponse maps calendar ids to the busy intervals reported for them.
type FreeBusyResponse struct {
	Calendars map[string][]Interval
}

// Busy flattens the busy intervals across every calendar in the response.
func (r FreeBusyResponse) Busy() []Interval {
	var out []Interval
	for _, intervals := range r.Calendars {
		out = append(out, intervals...)
	}
	return out
}

// Reminder overrides a default reminder on a created event.
type Reminder struct {
	Method  string
	Minutes int
}

// NewEvent describes an event to be created.
type NewEvent struct {
	CalendarID string
	Summary    string
	Start      time.Time
	End        time.Time
	Reminders  []Reminder
}

// CreatedEvent is the provider receipt for a created event.
type CreatedEvent struct {
	ID       string
	HTMLLink string
}

// Provider is the set of calendar operations consumed by the engine.
type Provider interface {
	ListEvents(ctx context.Context, cred Credential, timeMin, timeMax time.Time) ([]Event, error)
	FreeBusy(ctx context.Context, cred Credential, timeMin, timeMax time.Time, calendarIDs []string) (FreeBusyResponse, error)
	CreateEvent(ctx context.Context, cred Credential, event NewEvent) (CreatedEvent, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// StatusError carries the HTTP status and a truncated body of a failed provider call.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v: %s", e.Operation, e.StatusCode, e.Err, e.Body)
}

// Unwrap returns the classified sentinel.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to the matching sentinel error.
// Successful statuses return nil.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401:
		return ErrUnauthorized
	case status == 409:
		return ErrConflict
	case status == 408 || status == 504:
		return ErrTimeout
	case status >= 500 || status == 429:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}
