package scheduler

import (
	"sort"
	"strings"
	"time"
)

// Interval is a half-open time range [Start, End) with an optional label.
type Interval struct {
	Start time.Time
	End   time.Time
	Label string
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether two half-open intervals share any instant.
// Intervals that merely touch do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Clip trims the interval to [lower, upper). The second result is false when nothing remains.
func (i Interval) Clip(lower, upper time.Time) (Interval, bool) {
	clipped := i
	if clipped.Start.Before(lower) {
		clipped.Start = lower
	}
	if clipped.End.After(upper) {
		clipped.End = upper
	}
	if !clipped.End.After(clipped.Start) {
		return Interval{}, false
	}
	return clipped, true
}

// Conflict details an existing interval that overlaps a candidate.
type Conflict struct {
	With    Interval
	Overlap time.Duration
}

// DetectConflicts identifies every existing interval that overlaps the candidate.
// Results are ordered by start time.
func DetectConflicts(existing []Interval, candidate Interval) []Conflict {
	if !candidate.End.After(candidate.Start) {
		return nil
	}

	conflicts := make([]Conflict, 0)
	for _, interval := range existing {
		if !interval.Overlaps(candidate) {
			continue
		}
		overlap, _ := interval.Clip(candidate.Start, candidate.End)
		conflicts = append(conflicts, Conflict{With: interval, Overlap: overlap.Duration()})
	}

	sort.SliceStable(conflicts, func(a, b int) bool {
		return conflicts[a].With.Start.Before(conflicts[b].With.Start)
	})
	return conflicts
}

// Merge sorts intervals by start and coalesces overlapping or touching ranges.
// Labels of coalesced intervals are joined with ", " in start order.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, 0, len(intervals))
	for _, interval := range intervals {
		if interval.End.After(interval.Start) {
			sorted = append(sorted, interval)
		}
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Start.Equal(sorted[b].Start) {
			return sorted[a].End.Before(sorted[b].End)
		}
		return sorted[a].Start.Before(sorted[b].Start)
	})

	merged := make([]Interval, 0, len(sorted))
	for _, interval := range sorted {
		if len(merged) == 0 {
			merged = append(merged, interval)
			continue
		}
		last := &merged[len(merged)-1]
		if interval.Start.After(last.End) {
			merged = append(merged, interval)
			continue
		}
		if interval.End.After(last.End) {
			last.End = interval.End
		}
		last.Label = joinLabels(last.Label, interval.Label)
	}
	return merged
}

func joinLabels(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case b == "" || a == b:
		return a
	case a == "":
		return b
	default:
		for _, part := range strings.Split(a, ", ") {
			if part == b {
				return a
			}
		}
		return a + ", " + b
	}
}
