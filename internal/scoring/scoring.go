// Package scoring ranks candidate slots from per-bucket historical outcomes.
//
// A bucket is the recurring weekly identity (weekday, hour) of a slot start.
// Statistics aggregate over buckets rather than dates so a user's weekly
// habits carry over from one week to the next.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/availability"
)

const (
	// NeutralScore is assigned to every slot when learning is disabled.
	NeutralScore = 5
	// RecommendThreshold is the minimum score of a recommended slot.
	RecommendThreshold = 8
	// MinScheduledForRecommendation guards against recommending on a single use.
	MinScheduledForRecommendation = 2
	// AdjacencyPenalty applies when another meeting sits directly before or after.
	AdjacencyPenalty = 2
	// AnnotationMeetingNearby is appended when the adjacency penalty applies.
	AnnotationMeetingNearby = "Meeting nearby"

	maxUsageBonus          = 2
	maxCancellationPenalty = 3
)

// ErrInvalidBucket is returned when a bucket id cannot be parsed.
var ErrInvalidBucket = errors.New("scoring: invalid bucket id")

// BucketID identifies a (weekday, hour) slot bucket.
type BucketID struct {
	Weekday time.Weekday
	Hour    int
}

var weekdayCodes = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// BucketFor returns the bucket of t in t's location.
func BucketFor(t time.Time) BucketID {
	return BucketID{Weekday: t.Weekday(), Hour: t.Hour()}
}

// String renders the bucket as "mon-09".
func (b BucketID) String() string {
	if b.Weekday < time.Sunday || b.Weekday > time.Saturday {
		return fmt.Sprintf("invalid-%02d", b.Hour)
	}
	return fmt.Sprintf("%s-%02d", weekdayCodes[b.Weekday], b.Hour)
}

// ParseBucketID parses the String form of a bucket.
func ParseBucketID(value string) (BucketID, error) {
	day, hour, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "-")
	if !ok {
		return BucketID{}, fmt.Errorf("%w: %q", ErrInvalidBucket, value)
	}
	weekday := -1
	for i, code := range weekdayCodes {
		if code == day {
			weekday = i
			break
		}
	}
	h, err := strconv.Atoi(hour)
	if weekday < 0 || err != nil || h < 0 || h > 23 {
		return BucketID{}, fmt.Errorf("%w: %q", ErrInvalidBucket, value)
	}
	return BucketID{Weekday: time.Weekday(weekday), Hour: h}, nil
}

// Stat is the outcome history of one bucket.
type Stat struct {
	TotalScheduled int
	TotalCompleted int
	TotalCancelled int
	SuccessRate    int
	LastUsed       *time.Time
}

// SuccessRate is the rounded share of scheduled slots that completed, in [0, 100].
func SuccessRate(completed, scheduled int) int {
	if scheduled <= 0 || completed <= 0 {
		return 0
	}
	return clamp(int(math.Round(100*float64(completed)/float64(scheduled))), 0, 100)
}

// Breakdown exposes each term of a score.
type Breakdown struct {
	Base                int
	UsageBonus          int
	CancellationPenalty int
	AdjacencyPenalty    int
	Score               int
	Recommended         bool
}

// Score applies the bounded bonus/penalty formula to a bucket's history.
// A zero Stat scores as a slot without history.
func Score(stat Stat, adjacent bool) Breakdown {
	b := Breakdown{
		Base:                int(math.Round(float64(clamp(stat.SuccessRate, 0, 100)) / 10)),
		UsageBonus:          min(maxUsageBonus, max(0, stat.TotalScheduled)/5),
		CancellationPenalty: min(maxCancellationPenalty, max(0, stat.TotalCancelled)/2),
	}
	if adjacent {
		b.AdjacencyPenalty = AdjacencyPenalty
	}
	b.Score = max(0, b.Base+b.UsageBonus-b.CancellationPenalty-b.AdjacencyPenalty)
	b.Recommended = b.Score >= RecommendThreshold && stat.TotalScheduled >= MinScheduledForRecommendation
	return b
}

// Rank scores slots and orders them recommended first, then by descending
// score, then by ascending start. The input slice is not modified.
//
// With learning disabled every slot gets NeutralScore, no recommendation and
// keeps its input order.
func Rank(slots []availability.TimeSlot, stats map[BucketID]Stat, learningEnabled bool, adjacent map[BucketID]bool) []availability.TimeSlot {
	ranked := make([]availability.TimeSlot, len(slots))
	copy(ranked, slots)

	if !learningEnabled {
		for i := range ranked {
			ranked[i].BucketID = BucketFor(ranked[i].Start).String()
			ranked[i].Score = NeutralScore
			ranked[i].IsRecommended = false
		}
		return ranked
	}

	for i := range ranked {
		bucket := BucketFor(ranked[i].Start)
		isAdjacent := adjacent[bucket]
		breakdown := Score(stats[bucket], isAdjacent)
		ranked[i].BucketID = bucket.String()
		ranked[i].Score = breakdown.Score
		ranked[i].IsRecommended = breakdown.Recommended
		if isAdjacent {
			ranked[i].Annotation = appendAnnotation(ranked[i].Annotation, AnnotationMeetingNearby)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.IsRecommended != b.IsRecommended {
			return a.IsRecommended
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Start.Before(b.Start)
	})
	return ranked
}

func appendAnnotation(existing, note string) string {
	if existing == "" {
		return note
	}
	if strings.Contains(existing, note) {
		return existing
	}
	return existing + "; " + note
}

func clamp(v, lo, hi int) int {
	return min(hi, max(lo, v))
}
