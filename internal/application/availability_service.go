package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/calendar"
)

const maxDurationMinutes = 24 * 60

// SlotFinder searches a horizon of days for free slots.
type SlotFinder interface {
	Find(ctx context.Context, cred calendar.Credential, q availability.Query) ([]availability.TimeSlot, error)
}

// AvailabilityService lists free slots for a user's calendar.
type AvailabilityService struct {
	finder         SlotFinder
	location       *time.Location
	defaultHorizon int
	now            func() time.Time
	logger         *slog.Logger
}

// NewAvailabilityService constructs an availability service.
func NewAvailabilityService(finder SlotFinder, loc *time.Location, defaultHorizon int, now func() time.Time) *AvailabilityService {
	return NewAvailabilityServiceWithLogger(finder, loc, defaultHorizon, now, nil)
}

// NewAvailabilityServiceWithLogger constructs an availability service with a specified logger.
func NewAvailabilityServiceWithLogger(finder SlotFinder, loc *time.Location, defaultHorizon int, now func() time.Time, logger *slog.Logger) *AvailabilityService {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if defaultHorizon <= 0 {
		defaultHorizon = availability.MinHorizonDays
	}
	return &AvailabilityService{
		finder:         finder,
		location:       loc,
		defaultHorizon: availability.ClampHorizon(defaultHorizon),
		now:            now,
		logger:         defaultLogger(logger),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation, attrs...)
}

// FindAvailableSlots searches from date for slots of durationMinutes. A zero
// date searches from today and a non-positive horizon uses the configured
// default. Upstream failures are classified but not retried; an empty result
// is not an error.
func (s *AvailabilityService) FindAvailableSlots(ctx context.Context, userID string, cred calendar.Credential, date time.Time, durationMinutes, horizonDays int) (slots []availability.TimeSlot, err error) {
	if s == nil {
		return nil, fmt.Errorf("AvailabilityService is nil")
	}
	if s.finder == nil {
		return nil, fmt.Errorf("slot finder not configured")
	}

	logger := s.loggerWith(ctx, "FindAvailableSlots",
		"user_id", userID,
		"duration_minutes", durationMinutes,
		"horizon_days", horizonDays,
	)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "failed to find available slots", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(slots)).InfoContext(ctx, "available slots listed")
	}()

	today := s.today()
	if date.IsZero() {
		date = today
	}
	if horizonDays <= 0 {
		horizonDays = s.defaultHorizon
	}

	vErr := &ValidationError{}
	if strings.TrimSpace(userID) == "" {
		vErr.add("user_id", "user id is required")
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		vErr.add("credential", "calendar access token is required")
	}
	if durationMinutes <= 0 || durationMinutes > maxDurationMinutes {
		vErr.add("duration", fmt.Sprintf("duration must be between 1 and %d minutes", maxDurationMinutes))
	}
	if s.dateOf(date).Before(today) {
		vErr.add("date", "date must not be in the past")
	}
	if vErr.HasErrors() {
		err = vErr
		return nil, err
	}

	slots, err = s.finder.Find(ctx, cred, availability.Query{
		Date:            s.dateOf(date),
		DurationMinutes: durationMinutes,
		HorizonDays:     horizonDays,
	})
	if err != nil {
		err = translateProviderError(err)
		return nil, err
	}
	if slots == nil {
		slots = []availability.TimeSlot{}
	}
	return slots, nil
}

func (s *AvailabilityService) today() time.Time {
	return s.dateOf(s.now())
}

func (s *AvailabilityService) dateOf(t time.Time) time.Time {
	y, m, d := t.In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location)
}
