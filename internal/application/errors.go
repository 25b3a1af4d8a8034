package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/persistence"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidTransition is returned when a sync event cannot move to the requested status.
	ErrInvalidTransition = errors.New("application: invalid sync event transition")
)

// Kind classifies booking failures into the categories callers act on.
type Kind string

const (
	KindAuthExpired         Kind = "auth_expired"
	KindStaleSlot           Kind = "stale_slot"
	KindSlotConflict        Kind = "slot_conflict"
	KindConflict            Kind = "conflict"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTimeout             Kind = "timeout"
	KindValidation          Kind = "validation_error"
)

// Error is a classified failure. Raw provider payloads stay in Err and never
// reach Message.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrAuthExpired         = &Error{Kind: KindAuthExpired}
	ErrStaleSlot           = &Error{Kind: KindStaleSlot}
	ErrSlotConflict        = &Error{Kind: KindSlotConflict}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

var kindMessages = map[Kind]string{
	KindAuthExpired:         "Calendar access has expired. Reconnect your calendar and try again.",
	KindStaleSlot:           "These times were listed more than a few minutes ago. Refresh the available slots and pick one again.",
	KindSlotConflict:        "That time is no longer free. Refresh the available slots and pick another one.",
	KindConflict:            "Your calendar already has an event at that time. Choose a different slot.",
	KindUpstreamUnavailable: "The calendar service is unavailable right now. Try again shortly.",
	KindTimeout:             "The calendar service did not respond in time. Try again shortly.",
}

func newError(kind Kind, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Message: kindMessages[kind], Retryable: retryable, Err: cause}
}

// KindOf reports the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return KindValidation
	}
	return ""
}

// IsRetryable reports whether the failure may succeed when retried unchanged.
func IsRetryable(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Retryable
}

// translateProviderError maps calendar client errors onto the booking taxonomy.
func translateProviderError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, calendar.ErrUnauthorized), errors.Is(err, calendar.ErrRefreshFailed):
		return newError(KindAuthExpired, false, err)
	case errors.Is(err, calendar.ErrConflict):
		return newError(KindConflict, false, err)
	case errors.Is(err, calendar.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, true, err)
	case errors.Is(err, calendar.ErrRejected):
		return newError(KindUpstreamUnavailable, false, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return newError(KindUpstreamUnavailable, true, err)
	}
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
