package availability

import (
	"fmt"
	"time"
)

// Gap labels describe a slot's position relative to neighbouring events.
const (
	LabelBeforeDay    = "Before your day starts"
	LabelAfterLast    = "After your last appointment"
	LabelMorning      = "Morning"
	LabelMidday       = "Midday"
	LabelEvening      = "Evening"
	LabelNextOpening  = "Next opening"
	betweenLabelShape = "Between %s and %s"
)

// TimeSlot is a candidate free window.
type TimeSlot struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
	Label           string
	DayLabel        string
	DaysFromNow     int
	Score           int
	IsRecommended   bool
	Annotation      string
	// BucketID is set by the scorer.
	BucketID string
}

type canonicalSlot struct {
	hour  int
	label string
}

// Offered on days without any busy interval instead of one slot at day start.
var canonicalSlots = []canonicalSlot{
	{hour: 9, label: LabelMorning},
	{hour: 12, label: LabelMidday},
	{hour: 17, label: LabelEvening},
}

// SolveDay walks the day from its start and emits one slot of the requested
// duration for each gap that can hold it. busy must be sorted and merged.
// Slots never start before notBefore; a zero notBefore places no bound.
func SolveDay(busy []BusyInterval, dayStart, dayEnd, notBefore time.Time, duration time.Duration) []TimeSlot {
	if duration <= 0 || !dayEnd.After(dayStart) {
		return nil
	}

	cursor := dayStart
	if notBefore.After(cursor) {
		cursor = notBefore
	}
	if cursor.Add(duration).After(dayEnd) {
		return nil
	}

	if len(busy) == 0 {
		return canonicalCandidates(dayStart, dayEnd, cursor, duration)
	}

	slots := make([]TimeSlot, 0, len(busy)+1)
	for i, interval := range busy {
		if interval.Start.Sub(cursor) >= duration {
			label := LabelBeforeDay
			if i > 0 {
				label = fmt.Sprintf(betweenLabelShape, busy[i-1].Label, interval.Label)
			}
			slots = append(slots, newSlot(cursor, duration, label))
		}
		if interval.End.After(cursor) {
			cursor = interval.End
		}
	}

	if dayEnd.Sub(cursor) >= duration {
		slots = append(slots, newSlot(cursor, duration, LabelAfterLast))
	}
	return slots
}

func canonicalCandidates(dayStart, dayEnd, cursor time.Time, duration time.Duration) []TimeSlot {
	y, m, d := dayStart.Date()
	loc := dayStart.Location()

	slots := make([]TimeSlot, 0, len(canonicalSlots))
	for _, candidate := range canonicalSlots {
		start := time.Date(y, m, d, candidate.hour, 0, 0, 0, loc)
		if start.Before(cursor) || start.Add(duration).After(dayEnd) {
			continue
		}
		slots = append(slots, newSlot(start, duration, candidate.label))
	}
	if len(slots) == 0 {
		slots = append(slots, newSlot(cursor, duration, LabelNextOpening))
	}
	return slots
}

func newSlot(start time.Time, duration time.Duration, label string) TimeSlot {
	return TimeSlot{
		Start:           start,
		End:             start.Add(duration),
		DurationMinutes: int(duration / time.Minute),
		Label:           label,
	}
}

// RoundUpToQuarter returns t rounded up to the next quarter hour in its location.
func RoundUpToQuarter(t time.Time) time.Time {
	truncated := t.Truncate(15 * time.Minute)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(15 * time.Minute)
}
