package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/availability-engine/internal/calendar"
)

const (
	// MinHorizonDays and MaxHorizonDays bound the number of searched days.
	MinHorizonDays = 1
	MaxHorizonDays = 14
	// MaxSlots caps the number of slots returned by a search.
	MaxSlots = 5
)

// BusySource yields the busy intervals for one calendar day.
type BusySource interface {
	BusyIntervals(ctx context.Context, cred calendar.Credential, day time.Time) ([]BusyInterval, error)
}

// Query describes a multi-day slot search.
type Query struct {
	Date            time.Time
	DurationMinutes int
	HorizonDays     int
}

// Finder runs the single-day solver across a horizon of days.
type Finder struct {
	source BusySource
	window Window
	now    func() time.Time
}

// NewFinder wires a Finder. A nil now defaults to time.Now.
func NewFinder(source BusySource, window Window, now func() time.Time) *Finder {
	if now == nil {
		now = time.Now
	}
	return &Finder{source: source, window: window, now: now}
}

// ClampHorizon bounds a requested horizon to [MinHorizonDays, MaxHorizonDays].
func ClampHorizon(days int) int {
	if days < MinHorizonDays {
		return MinHorizonDays
	}
	if days > MaxHorizonDays {
		return MaxHorizonDays
	}
	return days
}

// Find searches from q.Date forward. The first day that yields any slot ends
// the search, so later days are only consulted when every earlier day is full.
// The result is sorted by start and holds at most MaxSlots entries. An empty
// result is not an error.
func (f *Finder) Find(ctx context.Context, cred calendar.Credential, q Query) ([]TimeSlot, error) {
	if f == nil || f.source == nil {
		return nil, fmt.Errorf("availability: finder not configured")
	}
	duration := time.Duration(q.DurationMinutes) * time.Minute
	if duration <= 0 {
		return nil, fmt.Errorf("availability: duration must be positive")
	}

	slots := make([]TimeSlot, 0, MaxSlots)
	if duration > time.Duration(f.window.EndHour-f.window.StartHour)*time.Hour {
		return slots, nil
	}

	loc := f.window.location()
	now := f.now().In(loc)
	today := dateOf(now, loc)
	notBeforeToday := RoundUpToQuarter(now)
	first := dateOf(q.Date, loc)
	horizon := ClampHorizon(q.HorizonDays)

	for offset := 0; offset < horizon && len(slots) < MaxSlots; offset++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		day := first.AddDate(0, 0, offset)
		dayStart, dayEnd := f.window.Bounds(day)

		var notBefore time.Time
		if !day.After(today) {
			notBefore = notBeforeToday
		}
		if !notBefore.IsZero() && notBefore.Add(duration).After(dayEnd) {
			continue
		}

		busy, err := f.source.BusyIntervals(ctx, cred, day)
		if err != nil {
			return nil, err
		}

		daySlots := SolveDay(busy, dayStart, dayEnd, notBefore, duration)
		if len(daySlots) == 0 {
			continue
		}

		daysFromNow := daysBetween(today, day)
		label := DayLabel(daysFromNow, day)
		for i := range daySlots {
			daySlots[i].DaysFromNow = daysFromNow
			daySlots[i].DayLabel = label
		}
		slots = append(slots, daySlots...)
		break
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
	if len(slots) > MaxSlots {
		slots = slots[:MaxSlots]
	}
	return slots, nil
}

// DayLabel names a day relative to today.
func DayLabel(daysFromNow int, day time.Time) string {
	switch daysFromNow {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	default:
		return day.Weekday().String()
	}
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
