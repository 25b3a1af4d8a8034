package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/recurrence"
)

const (
	// DefaultRequestTimeout bounds each booking attempt end to end.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultRecurringConcurrency bounds parallel occurrence attempts.
	DefaultRecurringConcurrency = 4

	maxTitleLength       = 200
	maxSlotLength        = 24 * time.Hour
	maxReminderMinutes   = 40320
	defaultCalendarID    = "primary"
	defaultReminderStyle = "popup"
)

// BookingProvider is the subset of the calendar provider used to commit bookings.
type BookingProvider interface {
	FreeBusyChecker
	CreateEvent(ctx context.Context, cred calendar.Credential, event calendar.NewEvent) (calendar.CreatedEvent, error)
}

// OutcomeRecorder records slot history once a booking is synced.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, userID string, start time.Time, outcome Outcome) (SlotStat, error)
}

// CoordinatorConfig tunes the commit coordinator.
type CoordinatorConfig struct {
	RequestTimeout       time.Duration
	StalenessWindow      time.Duration
	RecurringConcurrency int
	Location             *time.Location
}

// CommitCoordinator drives a booking attempt through validation, creation and
// ledger bookkeeping. It is the only writer of sync event status.
type CommitCoordinator struct {
	provider    BookingProvider
	refresher   calendar.Refresher
	ledger      *Ledger
	outcomes    OutcomeRecorder
	validator   *Validator
	recurrence  *recurrence.Engine
	timeout     time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewCommitCoordinator wires dependencies for booking attempts.
func NewCommitCoordinator(provider BookingProvider, refresher calendar.Refresher, ledger *Ledger, outcomes OutcomeRecorder, cfg CoordinatorConfig, now func() time.Time) *CommitCoordinator {
	return NewCommitCoordinatorWithLogger(provider, refresher, ledger, outcomes, cfg, now, nil)
}

// NewCommitCoordinatorWithLogger wires dependencies with a specified logger.
func NewCommitCoordinatorWithLogger(provider BookingProvider, refresher calendar.Refresher, ledger *Ledger, outcomes OutcomeRecorder, cfg CoordinatorConfig, now func() time.Time, logger *slog.Logger) *CommitCoordinator {
	if now == nil {
		now = time.Now
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RecurringConcurrency <= 0 {
		cfg.RecurringConcurrency = DefaultRecurringConcurrency
	}
	return &CommitCoordinator{
		provider:    provider,
		refresher:   refresher,
		ledger:      ledger,
		outcomes:    outcomes,
		validator:   NewValidator(provider, cfg.StalenessWindow, now),
		recurrence:  recurrence.NewEngine(cfg.Location),
		timeout:     cfg.RequestTimeout,
		concurrency: cfg.RecurringConcurrency,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (c *CommitCoordinator) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, c.logger, "CommitCoordinator", operation, attrs...)
}

func (c *CommitCoordinator) ready() error {
	if c == nil {
		return fmt.Errorf("CommitCoordinator is nil")
	}
	if c.provider == nil {
		return fmt.Errorf("calendar provider not configured")
	}
	if c.ledger == nil {
		return fmt.Errorf("ledger not configured")
	}
	return nil
}

// attempt carries the credential through one booking attempt and enforces a
// single refresh for the whole attempt.
type attempt struct {
	cred      calendar.Credential
	refresher calendar.Refresher
	refreshed bool
	rotated   bool
}

func newAttempt(cred calendar.Credential, refresher calendar.Refresher) *attempt {
	return &attempt{cred: cred, refresher: refresher}
}

// do runs call and, on the first 401 of the attempt, refreshes the credential
// and runs call exactly once more.
func (a *attempt) do(ctx context.Context, call func(calendar.Credential) error) error {
	err := call(a.cred)
	if err == nil || !errors.Is(err, calendar.ErrUnauthorized) || a.refreshed {
		return err
	}
	a.refreshed = true

	if a.refresher == nil || a.cred.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token available: %w", calendar.ErrRefreshFailed, err)
	}
	refreshed, rerr := a.refresher.Refresh(ctx, a.cred)
	if rerr != nil {
		if errors.Is(rerr, calendar.ErrRefreshFailed) {
			return rerr
		}
		return fmt.Errorf("%w: %w", calendar.ErrRefreshFailed, rerr)
	}
	a.cred = refreshed
	a.rotated = true
	return call(a.cred)
}

func (a *attempt) credential() *calendar.Credential {
	if !a.rotated {
		return nil
	}
	cred := a.cred
	return &cred
}

// BookSlot validates and commits the selected slot. Malformed requests fail
// with *ValidationError and leave no ledger row; every other outcome is
// recorded in the ledger before any upstream call.
func (c *CommitCoordinator) BookSlot(ctx context.Context, userID string, cred calendar.Credential, req BookingRequest) (result BookingResult, err error) {
	if err = c.ready(); err != nil {
		return BookingResult{}, err
	}

	logger := c.loggerWith(ctx, "BookSlot", "user_id", userID)
	defer func() {
		c.logAttempt(ctx, logger, result, err, "slot booked")
	}()

	req = normalizeBookingRequest(req)
	if vErr := validateBookingRequest(userID, cred, req); vErr.HasErrors() {
		err = vErr
		return BookingResult{}, err
	}

	return c.book(ctx, userID, newAttempt(cred, c.refresher), req)
}

// Retry re-runs a failed attempt. A row that already holds a provider event id
// is marked synced without calling the provider again.
func (c *CommitCoordinator) Retry(ctx context.Context, userID string, cred calendar.Credential, id string) (result BookingResult, err error) {
	if err = c.ready(); err != nil {
		return BookingResult{}, err
	}

	logger := c.loggerWith(ctx, "Retry", "user_id", userID, "sync_event_id", id)
	defer func() {
		c.logAttempt(ctx, logger, result, err, "sync event retried")
	}()

	event, err := c.ledger.Get(ctx, userID, id)
	if err != nil {
		return BookingResult{}, err
	}
	a := newAttempt(cred, c.refresher)
	return c.retry(ctx, userID, a, event)
}

// RetryFailed retries every errored attempt of the user that can succeed
// without a new selection, plus pending rows whose provider event already
// exists. It returns the rows it touched in their resulting state.
func (c *CommitCoordinator) RetryFailed(ctx context.Context, userID string, cred calendar.Credential) (events []SyncEvent, err error) {
	if err = c.ready(); err != nil {
		return nil, err
	}

	logger := c.loggerWith(ctx, "RetryFailed", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to retry sync events", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(events)).InfoContext(ctx, "failed sync events retried")
	}()

	candidates, err := c.retryCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	events = make([]SyncEvent, 0, len(candidates))
	current := cred
	for _, candidate := range candidates {
		if err = ctx.Err(); err != nil {
			return events, err
		}

		a := newAttempt(current, c.refresher)
		_, rerr := c.retry(ctx, userID, a, candidate)
		current = a.cred
		if rerr != nil && KindOf(rerr) == "" {
			if errors.Is(rerr, ErrInvalidTransition) {
				continue
			}
			return events, rerr
		}

		updated, gerr := c.ledger.Get(ctx, userID, candidate.ID)
		if gerr != nil {
			return events, gerr
		}
		events = append(events, updated)
	}
	return events, nil
}

func (c *CommitCoordinator) retryCandidates(ctx context.Context, userID string) ([]SyncEvent, error) {
	failed, err := c.ledger.ListByStatus(ctx, userID, SyncStatusError)
	if err != nil {
		return nil, err
	}
	pending, err := c.ledger.ListByStatus(ctx, userID, SyncStatusPending)
	if err != nil {
		return nil, err
	}

	candidates := make([]SyncEvent, 0, len(failed)+len(pending))
	for _, event := range failed {
		// Stale selections need the user to pick again.
		if event.ErrorKind == KindStaleSlot {
			continue
		}
		candidates = append(candidates, event)
	}
	for _, event := range pending {
		if event.ProviderEventID != "" {
			candidates = append(candidates, event)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates, nil
}

func (c *CommitCoordinator) book(ctx context.Context, userID string, a *attempt, req BookingRequest) (BookingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	// Ledger writes must land even when the attempt deadline has elapsed.
	store := context.WithoutCancel(ctx)

	event, err := c.ledger.Start(ctx, userID, req)
	if err != nil {
		return BookingResult{}, err
	}

	if err := a.do(ctx, func(cred calendar.Credential) error {
		return c.validator.Validate(ctx, cred, req)
	}); err != nil {
		return c.fail(store, a, event, err)
	}

	return c.create(ctx, store, userID, a, event, req)
}

func (c *CommitCoordinator) retry(ctx context.Context, userID string, a *attempt, event SyncEvent) (BookingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	store := context.WithoutCancel(ctx)

	switch {
	case event.Status == SyncStatusPending && event.ProviderEventID != "":
		return c.settle(store, userID, a, event)
	case event.Status != SyncStatusError:
		return resultFor(event, a), fmt.Errorf("%w: sync event %s is %s", ErrInvalidTransition, event.ID, event.Status)
	}

	pending, err := c.ledger.Transition(store, event, SyncStatusPending)
	if err != nil {
		return resultFor(event, a), err
	}
	if pending.ProviderEventID != "" {
		return c.settle(store, userID, a, pending)
	}

	req := BookingRequest{
		SlotStart:   pending.StartTime,
		SlotEnd:     pending.EndTime,
		Title:       pending.Title,
		CalendarIDs: pending.CalendarIDs,
	}
	// The earlier attempt may have written upstream before timing out; the
	// free/busy check then reports the slot as taken instead of duplicating it.
	if err := a.do(ctx, func(cred calendar.Credential) error {
		return c.validator.CheckFree(ctx, cred, req.SlotStart, req.SlotEnd, req.CalendarIDs)
	}); err != nil {
		return c.fail(store, a, pending, err)
	}

	return c.create(ctx, store, userID, a, pending, req)
}

func (c *CommitCoordinator) create(ctx, store context.Context, userID string, a *attempt, event SyncEvent, req BookingRequest) (BookingResult, error) {
	newEvent := calendar.NewEvent{
		CalendarID: targetCalendar(req.CalendarIDs),
		Summary:    strings.TrimSpace(req.Title),
		Start:      req.SlotStart,
		End:        req.SlotEnd,
		Reminders:  toReminders(req.ReminderMinutes),
	}

	var created calendar.CreatedEvent
	err := a.do(ctx, func(cred calendar.Credential) error {
		var cerr error
		created, cerr = c.provider.CreateEvent(ctx, cred, newEvent)
		return cerr
	})
	if err != nil {
		return c.fail(store, a, event, err)
	}

	event.ProviderEventID = created.ID
	event.HTMLLink = created.HTMLLink
	result := resultFor(event, a)
	result.Success = true

	// The provider id is stored before the status so a failed status write
	// leaves a row that retry settles without creating a duplicate.
	annotated, err := c.ledger.Annotate(store, event)
	if err != nil {
		c.loggerWith(store, "create", "sync_event_id", event.ID, "provider_event_id", created.ID).
			ErrorContext(store, "provider event created but ledger not updated", "error", err, "error_kind", ErrorKind(err))
		return result, nil
	}
	return c.settle(store, userID, a, annotated)
}

// settle marks a row holding a provider event id as synced.
func (c *CommitCoordinator) settle(store context.Context, userID string, a *attempt, event SyncEvent) (BookingResult, error) {
	result := resultFor(event, a)
	result.Success = true

	synced, err := c.ledger.Transition(store, event, SyncStatusSynced)
	if err != nil {
		c.loggerWith(store, "settle", "sync_event_id", event.ID, "provider_event_id", event.ProviderEventID).
			ErrorContext(store, "provider event created but sync status not recorded", "error", err, "error_kind", ErrorKind(err))
		return result, nil
	}
	result.Status = synced.Status

	if c.outcomes != nil {
		if _, err := c.outcomes.RecordOutcome(store, userID, synced.StartTime, OutcomeScheduled); err != nil {
			c.loggerWith(store, "settle", "sync_event_id", event.ID).
				WarnContext(store, "failed to record scheduled outcome", "error", err, "error_kind", ErrorKind(err))
		}
	}
	return result, nil
}

// fail classifies cause, moves the row to its failure status and returns the
// classified error.
func (c *CommitCoordinator) fail(store context.Context, a *attempt, event SyncEvent, cause error) (BookingResult, error) {
	classified := translateProviderError(cause)

	status := SyncStatusError
	countRetry := false
	switch KindOf(classified) {
	case KindSlotConflict, KindConflict:
		status = SyncStatusConflict
	case KindUpstreamUnavailable, KindTimeout:
		countRetry = IsRetryable(classified)
	}

	result := resultFor(event, a)
	var appErr *Error
	if errors.As(classified, &appErr) {
		result.Error = appErr
	}

	updated, err := c.ledger.Fail(store, event, status, classified, countRetry)
	if err != nil {
		c.loggerWith(store, "fail", "sync_event_id", event.ID).
			ErrorContext(store, "failed to record booking failure", "error", err, "error_kind", ErrorKind(err))
		return result, classified
	}
	result.Status = updated.Status
	return result, classified
}

func (c *CommitCoordinator) logAttempt(ctx context.Context, logger *slog.Logger, result BookingResult, err error, success string) {
	if result.SyncEventID != "" {
		logger = logger.With("sync_event_id", result.SyncEventID)
	}
	if err != nil {
		if KindOf(err) != "" {
			logger.WarnContext(ctx, "booking attempt rejected", "error", err, "error_kind", ErrorKind(err), "status", string(result.Status))
			return
		}
		logger.ErrorContext(ctx, "booking attempt failed", "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.With("provider_event_id", result.ProviderEventID, "status", string(result.Status)).InfoContext(ctx, success)
}

func resultFor(event SyncEvent, a *attempt) BookingResult {
	return BookingResult{
		ProviderEventID: event.ProviderEventID,
		HTMLLink:        event.HTMLLink,
		SyncEventID:     event.ID,
		Status:          event.Status,
		Credential:      a.credential(),
	}
}

func normalizeBookingRequest(req BookingRequest) BookingRequest {
	req.Title = strings.TrimSpace(req.Title)
	if len(req.CalendarIDs) > 0 {
		ids := make([]string, 0, len(req.CalendarIDs))
		for _, id := range req.CalendarIDs {
			ids = append(ids, strings.TrimSpace(id))
		}
		req.CalendarIDs = ids
	}
	return req
}

func validateBookingRequest(userID string, cred calendar.Credential, req BookingRequest) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(userID) == "" {
		vErr.add("user_id", "user id is required")
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		vErr.add("credential", "calendar access token is required")
	}

	if req.Title == "" {
		vErr.add("title", "title is required")
	} else if len([]rune(req.Title)) > maxTitleLength {
		vErr.add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}

	if req.SlotStart.IsZero() {
		vErr.add("slot_start", "slot start is required")
	}
	if req.SlotEnd.IsZero() {
		vErr.add("slot_end", "slot end is required")
	}
	if !req.SlotStart.IsZero() && !req.SlotEnd.IsZero() {
		if !req.SlotStart.Before(req.SlotEnd) {
			vErr.add("slot", "slot start must be before slot end")
		} else if req.SlotEnd.Sub(req.SlotStart) > maxSlotLength {
			vErr.add("slot", "slot must not exceed 24 hours")
		}
	}

	if req.FetchedAt.IsZero() {
		vErr.add("fetched_at", "fetched at is required")
	}

	for _, id := range req.CalendarIDs {
		if id == "" {
			vErr.add("calendar_ids", "calendar ids must not be empty")
			break
		}
	}
	for _, minutes := range req.ReminderMinutes {
		if minutes < 0 || minutes > maxReminderMinutes {
			vErr.add("reminder_minutes", fmt.Sprintf("reminder minutes must be between 0 and %d", maxReminderMinutes))
			break
		}
	}

	return vErr
}

func targetCalendar(ids []string) string {
	if len(ids) == 0 {
		return defaultCalendarID
	}
	return ids[0]
}

func toReminders(minutes []int) []calendar.Reminder {
	if len(minutes) == 0 {
		return nil
	}
	reminders := make([]calendar.Reminder, 0, len(minutes))
	for _, m := range minutes {
		reminders = append(reminders, calendar.Reminder{Method: defaultReminderStyle, Minutes: m})
	}
	return reminders
}
