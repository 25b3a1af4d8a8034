package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/scoring"
)

// StatsStore persists per-user slot statistics and the learning preference.
type StatsStore interface {
	// IncrementSlotStat counts one outcome in bucket atomically and returns
	// the bucket as written. at becomes its last used time.
	IncrementSlotStat(ctx context.Context, userID string, bucket scoring.BucketID, outcome Outcome, at time.Time) (SlotStat, error)
	ListSlotStats(ctx context.Context, userID string) ([]SlotStat, error)
	DeleteSlotStats(ctx context.Context, userID string) error
	GetLearningEnabled(ctx context.Context, userID string) (bool, error)
	SetLearningEnabled(ctx context.Context, userID string, enabled bool) error
}

// LearningService ranks slots from each user's booking history.
type LearningService struct {
	stats    StatsStore
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewLearningService constructs a learning service. Buckets are computed in
// loc, which defaults to UTC.
func NewLearningService(stats StatsStore, loc *time.Location, now func() time.Time) *LearningService {
	return NewLearningServiceWithLogger(stats, loc, now, nil)
}

// NewLearningServiceWithLogger constructs a learning service with a specified logger.
func NewLearningServiceWithLogger(stats StatsStore, loc *time.Location, now func() time.Time, logger *slog.Logger) *LearningService {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &LearningService{stats: stats, location: loc, now: now, logger: defaultLogger(logger)}
}

func (s *LearningService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "LearningService", operation, attrs...)
}

func (s *LearningService) ready() error {
	if s == nil {
		return fmt.Errorf("LearningService is nil")
	}
	if s.stats == nil {
		return fmt.Errorf("stats store not configured")
	}
	return nil
}

// BucketOf returns the bucket of t in the service location.
func (s *LearningService) BucketOf(t time.Time) scoring.BucketID {
	return scoring.BucketFor(t.In(s.location))
}

// RankSlots scores slots against the user's history. Statistics are only
// loaded when learning is enabled. adjacentBucketIDs use the "mon-09" form.
func (s *LearningService) RankSlots(ctx context.Context, userID string, slots []availability.TimeSlot, learningEnabled bool, adjacentBucketIDs []string) (ranked []availability.TimeSlot, err error) {
	if err = s.ready(); err != nil {
		return nil, err
	}

	logger := s.loggerWith(ctx, "RankSlots", "user_id", userID, "learning_enabled", learningEnabled)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "failed to rank slots", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(ranked)).DebugContext(ctx, "slots ranked")
	}()

	adjacent, vErr := parseBuckets(adjacentBucketIDs)
	if vErr.HasErrors() {
		err = vErr
		return nil, err
	}

	local := make([]availability.TimeSlot, len(slots))
	for i, slot := range slots {
		local[i] = slot
		local[i].Start = slot.Start.In(s.location)
		local[i].End = slot.End.In(s.location)
	}

	if !learningEnabled {
		return scoring.Rank(local, nil, false, adjacent), nil
	}

	stats, err := s.stats.ListSlotStats(ctx, userID)
	if err != nil && !isNotFoundError(err) {
		return nil, err
	}
	err = nil
	byBucket := make(map[scoring.BucketID]scoring.Stat, len(stats))
	for _, stat := range stats {
		byBucket[stat.Bucket] = stat.scoringStat()
	}
	return scoring.Rank(local, byBucket, true, adjacent), nil
}

// RecordOutcome adds one scheduled, completed or cancelled event to the
// bucket of start.
func (s *LearningService) RecordOutcome(ctx context.Context, userID string, start time.Time, outcome Outcome) (stat SlotStat, err error) {
	if err = s.ready(); err != nil {
		return SlotStat{}, err
	}

	bucket := s.BucketOf(start)
	logger := s.loggerWith(ctx, "RecordOutcome", "user_id", userID, "bucket", bucket.String(), "outcome", string(outcome))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to record outcome", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("success_rate", stat.SuccessRate).InfoContext(ctx, "outcome recorded")
	}()

	vErr := &ValidationError{}
	if strings.TrimSpace(userID) == "" {
		vErr.add("user_id", "user id is required")
	}
	if start.IsZero() {
		vErr.add("start", "start is required")
	}
	if _, perr := ParseOutcome(string(outcome)); perr != nil {
		vErr.add("outcome", "outcome must be scheduled, completed or cancelled")
	}
	if vErr.HasErrors() {
		err = vErr
		return SlotStat{}, err
	}

	stat, err = s.stats.IncrementSlotStat(ctx, userID, bucket, outcome, s.now().UTC())
	if err != nil {
		return SlotStat{}, err
	}
	return stat, nil
}

// ListStats returns the user's bucket history.
func (s *LearningService) ListStats(ctx context.Context, userID string) ([]SlotStat, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	stats, err := s.stats.ListSlotStats(ctx, userID)
	if err != nil {
		if isNotFoundError(err) {
			return []SlotStat{}, nil
		}
		return nil, err
	}
	return stats, nil
}

// ResetStats deletes every bucket of the user. It is the only path that
// removes slot statistics.
func (s *LearningService) ResetStats(ctx context.Context, userID string) (err error) {
	if err = s.ready(); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "ResetStats", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reset stats", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "stats reset")
	}()

	return s.stats.DeleteSlotStats(ctx, userID)
}

// LearningEnabled reports the user's preference. Users without a stored
// preference have learning enabled.
func (s *LearningService) LearningEnabled(ctx context.Context, userID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	enabled, err := s.stats.GetLearningEnabled(ctx, userID)
	if err != nil {
		if isNotFoundError(err) {
			return true, nil
		}
		return false, err
	}
	return enabled, nil
}

// SetLearningEnabled stores the user's preference.
func (s *LearningService) SetLearningEnabled(ctx context.Context, userID string, enabled bool) (err error) {
	if err = s.ready(); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "SetLearningEnabled", "user_id", userID, "enabled", enabled)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to store learning preference", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "learning preference stored")
	}()

	return s.stats.SetLearningEnabled(ctx, userID, enabled)
}

func parseBuckets(ids []string) (map[scoring.BucketID]bool, *ValidationError) {
	vErr := &ValidationError{}
	if len(ids) == 0 {
		return nil, vErr
	}
	buckets := make(map[scoring.BucketID]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		bucket, err := scoring.ParseBucketID(id)
		if err != nil {
			vErr.add("adjacent", fmt.Sprintf("invalid bucket id %q", id))
			continue
		}
		buckets[bucket] = true
	}
	return buckets, vErr
}
