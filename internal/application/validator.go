package application

import (
	"context"
	"fmt"
	"time"

	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/scheduler"
)

// DefaultStalenessWindow is the maximum age of a listed slot at booking time.
const DefaultStalenessWindow = 5 * time.Minute

// FreeBusyChecker issues the live free/busy query used for revalidation.
type FreeBusyChecker interface {
	FreeBusy(ctx context.Context, cred calendar.Credential, timeMin, timeMax time.Time, calendarIDs []string) (calendar.FreeBusyResponse, error)
}

// Validator re-checks a selected slot right before the write.
type Validator struct {
	provider  FreeBusyChecker
	staleness time.Duration
	now       func() time.Time
}

// NewValidator constructs a validator. A non-positive staleness uses DefaultStalenessWindow.
func NewValidator(provider FreeBusyChecker, staleness time.Duration, now func() time.Time) *Validator {
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{provider: provider, staleness: staleness, now: now}
}

// CheckFreshness rejects requests whose slot list is older than the staleness
// window. It never touches the network.
func (v *Validator) CheckFreshness(req BookingRequest) error {
	if v == nil {
		return fmt.Errorf("Validator is nil")
	}
	if v.now().Sub(req.FetchedAt) > v.staleness {
		return newError(KindStaleSlot, false, nil)
	}
	return nil
}

// CheckFree queries free/busy for exactly [start, end) on the selected
// calendars. Provider errors are returned untouched so the caller can refresh
// credentials. A busy interval overlapping the slot yields ErrSlotConflict;
// one that only touches a slot edge does not.
func (v *Validator) CheckFree(ctx context.Context, cred calendar.Credential, start, end time.Time, calendarIDs []string) error {
	if v == nil || v.provider == nil {
		return fmt.Errorf("validator provider not configured")
	}
	resp, err := v.provider.FreeBusy(ctx, cred, start, end, calendarIDs)
	if err != nil {
		return err
	}
	busy := resp.Busy()
	existing := make([]scheduler.Interval, 0, len(busy))
	for _, interval := range busy {
		existing = append(existing, scheduler.Interval{Start: interval.Start, End: interval.End})
	}
	conflicts := scheduler.DetectConflicts(existing, scheduler.Interval{Start: start, End: end})
	if len(conflicts) > 0 {
		first := conflicts[0].With
		return newError(KindSlotConflict, false, fmt.Errorf("busy %s to %s", first.Start.UTC().Format(time.RFC3339), first.End.UTC().Format(time.RFC3339)))
	}
	return nil
}

// Validate runs the freshness check and then the live free/busy check. A stale
// request never reaches the provider.
func (v *Validator) Validate(ctx context.Context, cred calendar.Credential, req BookingRequest) error {
	if err := v.CheckFreshness(req); err != nil {
		return err
	}
	return v.CheckFree(ctx, cred, req.SlotStart, req.SlotEnd, req.CalendarIDs)
}
