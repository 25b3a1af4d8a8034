// Package recurrence expands a booking pattern into candidate occurrence dates.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxOccurrences bounds the number of occurrences a single rule may produce.
const MaxOccurrences = 52

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily generates occurrences for each day within the range.
	FrequencyDaily
	// FrequencyWeekly generates occurrences for the selected weekdays.
	FrequencyWeekly
)

func (f Frequency) String() string {
	switch f {
	case FrequencyDaily:
		return "daily"
	case FrequencyWeekly:
		return "weekly"
	default:
		return "unspecified"
	}
}

// ParseFrequency maps "daily" and "weekly" to a Frequency.
func ParseFrequency(value string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "daily":
		return FrequencyDaily, nil
	case "weekly":
		return FrequencyWeekly, nil
	default:
		return FrequencyUnspecified, fmt.Errorf("%w: %q", ErrInvalidFrequency, value)
	}
}

// Rule describes a recurring booking pattern. Until is inclusive by date;
// Count limits the number of occurrences. At least one of them is required.
type Rule struct {
	Frequency Frequency
	Weekdays  []time.Weekday
	Until     *time.Time
	Count     int
}

// Occurrence is one generated instance of a rule.
type Occurrence struct {
	Index int
	Start time.Time
	End   time.Time
}

var (
	// ErrInvalidFrequency indicates the recurrence frequency is not supported.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidWindow indicates the rule has neither an end date nor a count.
	ErrInvalidWindow = errors.New("recurrence: rule requires an end date or a count")
	// ErrInvalidDuration indicates the base slot duration is invalid.
	ErrInvalidDuration = errors.New("recurrence: slot duration must be positive")
	// ErrNoWeekdays indicates a weekly rule without selected weekdays.
	ErrNoWeekdays = errors.New("recurrence: weekly rule requires at least one weekday")
)

// Engine expands rules into occurrences.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that normalizes results to the provided
// location. If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Expand generates occurrences starting with the base slot itself. The wall
// clock time of the base slot is kept on each occurrence date, so occurrences
// follow daylight saving transitions of the engine location.
//
// Weekly rules only produce the selected weekdays; daily rules optionally
// filter by weekdays when provided. A base slot on a non-selected weekday is
// not itself included.
func (e *Engine) Expand(rule Rule, baseStart, baseEnd time.Time) ([]Occurrence, error) {
	loc := time.UTC
	if e != nil && e.location != nil {
		loc = e.location
	}

	baseStart = baseStart.In(loc)
	baseEnd = baseEnd.In(loc)
	if !baseEnd.After(baseStart) {
		return nil, ErrInvalidDuration
	}
	if rule.Until == nil && rule.Count <= 0 {
		return nil, ErrInvalidWindow
	}
	if rule.Frequency == FrequencyWeekly && len(rule.Weekdays) == 0 {
		return nil, ErrNoWeekdays
	}
	duration := baseEnd.Sub(baseStart)

	limit := MaxOccurrences
	if rule.Count > 0 && rule.Count < limit {
		limit = rule.Count
	}

	var lastDay time.Time
	if rule.Until != nil {
		lastDay = dateOf(rule.Until.In(loc))
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	occurrences := make([]Occurrence, 0, limit)
	day := dateOf(baseStart)
	// Scan at most a year of days so sparse weekday sets stay bounded.
	for scanned := 0; scanned < 366 && len(occurrences) < limit; scanned++ {
		if !lastDay.IsZero() && day.After(lastDay) {
			break
		}

		include, err := shouldInclude(rule.Frequency, weekdaySet, day.Weekday())
		if err != nil {
			return nil, err
		}
		if include {
			start := combineDateTime(day, baseStart, loc)
			occurrences = append(occurrences, Occurrence{
				Index: len(occurrences),
				Start: start,
				End:   start.Add(duration),
			})
		}

		day = day.AddDate(0, 0, 1)
	}

	return occurrences, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func combineDateTime(dateSource, template time.Time, loc *time.Location) time.Time {
	y, m, d := dateSource.In(loc).Date()
	clock := template.In(loc)
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), loc)
}

func shouldInclude(freq Frequency, weekdaySet map[time.Weekday]struct{}, day time.Weekday) (bool, error) {
	switch freq {
	case FrequencyDaily:
		if len(weekdaySet) == 0 {
			return true, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyWeekly:
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyUnspecified:
		fallthrough
	default:
		return false, ErrInvalidFrequency
	}
}

// ParseWeekday accepts English weekday names and their three letter forms.
func ParseWeekday(value string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for day := time.Sunday; day <= time.Saturday; day++ {
		name := strings.ToLower(day.String())
		if v == name || (len(v) == 3 && strings.HasPrefix(name, v)) {
			return day, nil
		}
	}
	return time.Sunday, fmt.Errorf("recurrence: unknown weekday %q", value)
}
