// Package availability finds free time windows against a calendar's busy periods.
package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/scheduler"
)

// BusyInterval is a range during which the calendar reports the user unavailable.
type BusyInterval = scheduler.Interval

// Window is the working window applied to every searched day.
type Window struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// DefaultWindow is 06:00 to 22:00 UTC.
func DefaultWindow() Window {
	return Window{StartHour: 6, EndHour: 22, Location: time.UTC}
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// Bounds returns the working window for the calendar date of day.
func (w Window) Bounds(day time.Time) (time.Time, time.Time) {
	loc := w.location()
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, w.StartHour, 0, 0, 0, loc), time.Date(y, m, d, w.EndHour, 0, 0, 0, loc)
}

// Extractor lists a day's events and reduces them to busy intervals.
type Extractor struct {
	provider calendar.Provider
	window   Window
}

// NewExtractor wires an extractor against a provider.
func NewExtractor(provider calendar.Provider, window Window) *Extractor {
	return &Extractor{provider: provider, window: window}
}

// BusyIntervals returns the merged busy intervals inside the working window of day.
// Provider errors are returned unchanged so callers can classify them.
func (e *Extractor) BusyIntervals(ctx context.Context, cred calendar.Credential, day time.Time) ([]BusyInterval, error) {
	if e == nil || e.provider == nil {
		return nil, fmt.Errorf("availability: extractor not configured")
	}
	dayStart, dayEnd := e.window.Bounds(day)
	events, err := e.provider.ListEvents(ctx, cred, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	return ExtractBusy(events, dayStart, dayEnd), nil
}

// ExtractBusy drops transparent events, clips the rest to [dayStart, dayEnd)
// and returns them sorted and merged.
func ExtractBusy(events []calendar.Event, dayStart, dayEnd time.Time) []BusyInterval {
	intervals := make([]BusyInterval, 0, len(events))
	for _, event := range events {
		if strings.EqualFold(event.Transparency, calendar.TransparencyTransparent) {
			continue
		}
		label := strings.TrimSpace(event.Summary)
		if label == "" {
			label = "Busy"
		}
		clipped, ok := BusyInterval{Start: event.Start, End: event.End, Label: label}.Clip(dayStart, dayEnd)
		if !ok {
			continue
		}
		intervals = append(intervals, clipped)
	}
	return scheduler.Merge(intervals)
}
