package application

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/recurrence"
)

// BookRecurring expands rule from the requested slot and books every
// occurrence through the regular attempt flow. Each occurrence has its own
// ledger row and credential state. Occurrences whose slot is taken are
// skipped; they never abort the batch.
func (c *CommitCoordinator) BookRecurring(ctx context.Context, userID string, cred calendar.Credential, req BookingRequest, rule recurrence.Rule) (result RecurringBookingResult, err error) {
	if err = c.ready(); err != nil {
		return RecurringBookingResult{}, err
	}

	logger := c.loggerWith(ctx, "BookRecurring", "user_id", userID, "frequency", rule.Frequency.String())
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "recurring booking failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"booked_count", len(result.Booked),
			"skipped_count", len(result.Skipped),
			"failed_count", len(result.Failed),
		).InfoContext(ctx, "recurring booking completed")
	}()

	req = normalizeBookingRequest(req)
	vErr := validateBookingRequest(userID, cred, req)
	occurrences, expandErr := c.recurrence.Expand(rule, req.SlotStart, req.SlotEnd)
	if expandErr != nil {
		vErr.add("recurrence", expandErr.Error())
	}
	if vErr.HasErrors() {
		err = vErr
		return RecurringBookingResult{}, err
	}

	results := make([]BookingResult, len(occurrences))
	failures := make([]error, len(occurrences))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, occurrence := range occurrences {
		g.Go(func() error {
			occurrenceReq := req
			occurrenceReq.SlotStart = occurrence.Start
			occurrenceReq.SlotEnd = occurrence.End
			results[i], failures[i] = c.book(ctx, userID, newAttempt(cred, c.refresher), occurrenceReq)
			return nil
		})
	}
	_ = g.Wait()

	result = RecurringBookingResult{
		Booked:  make([]BookingResult, 0, len(occurrences)),
		Skipped: make([]SkippedOccurrence, 0),
		Failed:  make([]BookingResult, 0),
	}
	var infraErrs []error
	for i, res := range results {
		if res.Credential != nil && result.Credential == nil {
			result.Credential = res.Credential
		}
		cause := failures[i]
		switch kind := KindOf(cause); {
		case cause == nil && res.Success:
			result.Booked = append(result.Booked, res)
		case kind == KindSlotConflict || kind == KindConflict:
			result.Skipped = append(result.Skipped, SkippedOccurrence{
				Start:       occurrences[i].Start,
				End:         occurrences[i].End,
				SyncEventID: res.SyncEventID,
				Reason:      kind,
			})
		default:
			if res.SyncEventID == "" && cause != nil {
				infraErrs = append(infraErrs, cause)
			}
			result.Failed = append(result.Failed, res)
		}
	}

	if len(infraErrs) > 0 {
		err = errors.Join(infraErrs...)
	}
	return result, err
}
