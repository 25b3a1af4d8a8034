package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const maxErrorMessageLength = 1000

// SyncEventRepository captures the persistence operations needed by the ledger.
type SyncEventRepository interface {
	CreateSyncEvent(ctx context.Context, event SyncEvent) (SyncEvent, error)
	GetSyncEvent(ctx context.Context, userID, id string) (SyncEvent, error)
	// UpdateSyncEvent writes event only while the stored status still equals
	// expected, returning persistence.ErrNotFound otherwise.
	UpdateSyncEvent(ctx context.Context, event SyncEvent, expected SyncStatus) (SyncEvent, error)
	ListSyncEvents(ctx context.Context, userID string, status SyncStatus) ([]SyncEvent, error)
	CountSyncEvents(ctx context.Context, userID string) (map[SyncStatus]int, error)
	DeleteSyncEvent(ctx context.Context, userID, id string) error
}

var allowedTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusPending: {SyncStatusSynced, SyncStatusError, SyncStatusConflict},
	SyncStatusError:   {SyncStatusPending},
}

// CanTransition reports whether a ledger row may move from one status to another.
func CanTransition(from, to SyncStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Ledger records the lifecycle of booking attempts. It is injected into the
// coordinator and holds no state of its own beyond the repository.
type Ledger struct {
	events      SyncEventRepository
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewLedger constructs a ledger over the provided repository.
func NewLedger(events SyncEventRepository, idGenerator func() string, now func() time.Time) *Ledger {
	return NewLedgerWithLogger(events, idGenerator, now, nil)
}

// NewLedgerWithLogger constructs a ledger with a specified logger.
func NewLedgerWithLogger(events SyncEventRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Ledger {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{events: events, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (l *Ledger) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, l.logger, "Ledger", operation, attrs...)
}

func (l *Ledger) ready() error {
	if l == nil {
		return fmt.Errorf("Ledger is nil")
	}
	if l.events == nil {
		return fmt.Errorf("sync event repository not configured")
	}
	return nil
}

// Start records a pending attempt for the requested slot.
func (l *Ledger) Start(ctx context.Context, userID string, req BookingRequest) (SyncEvent, error) {
	if err := l.ready(); err != nil {
		return SyncEvent{}, err
	}
	now := l.now().UTC()
	event := SyncEvent{
		ID:          l.idGenerator(),
		UserID:      userID,
		Title:       strings.TrimSpace(req.Title),
		StartTime:   req.SlotStart,
		EndTime:     req.SlotEnd,
		CalendarIDs: append([]string(nil), req.CalendarIDs...),
		Status:      SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := l.events.CreateSyncEvent(ctx, event)
	if err != nil {
		l.loggerWith(ctx, "Start", "user_id", userID).
			ErrorContext(ctx, "failed to record pending sync event", "error", err, "error_kind", ErrorKind(err))
		return SyncEvent{}, err
	}
	return created, nil
}

// Get returns one row owned by userID.
func (l *Ledger) Get(ctx context.Context, userID, id string) (SyncEvent, error) {
	if err := l.ready(); err != nil {
		return SyncEvent{}, err
	}
	event, err := l.events.GetSyncEvent(ctx, userID, id)
	if err != nil {
		return SyncEvent{}, mapRepoError(err)
	}
	return event, nil
}

// Annotate persists field changes on a row without changing its status.
func (l *Ledger) Annotate(ctx context.Context, event SyncEvent) (SyncEvent, error) {
	if err := l.ready(); err != nil {
		return SyncEvent{}, err
	}
	event.UpdatedAt = l.now().UTC()
	updated, err := l.events.UpdateSyncEvent(ctx, event, event.Status)
	if err != nil {
		return SyncEvent{}, l.transitionError(err, event.ID, event.Status, event.Status)
	}
	return updated, nil
}

// Transition moves a row to status. Rows that changed concurrently or whose
// current status does not allow the move are rejected with ErrInvalidTransition.
func (l *Ledger) Transition(ctx context.Context, event SyncEvent, to SyncStatus) (SyncEvent, error) {
	if err := l.ready(); err != nil {
		return SyncEvent{}, err
	}
	from := event.Status
	if !CanTransition(from, to) {
		return SyncEvent{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	next := event
	next.Status = to
	next.UpdatedAt = l.now().UTC()
	if to == SyncStatusPending || to == SyncStatusSynced {
		next.ErrorKind = ""
		next.ErrorMessage = ""
	}

	updated, err := l.events.UpdateSyncEvent(ctx, next, from)
	if err != nil {
		err = l.transitionError(err, event.ID, from, to)
		l.loggerWith(ctx, "Transition", "sync_event_id", event.ID, "from", string(from), "to", string(to)).
			ErrorContext(ctx, "failed to transition sync event", "error", err, "error_kind", ErrorKind(err))
		return SyncEvent{}, err
	}
	return updated, nil
}

// Fail moves a pending row to Error or Conflict recording the cause.
func (l *Ledger) Fail(ctx context.Context, event SyncEvent, to SyncStatus, cause error, countRetry bool) (SyncEvent, error) {
	event.ErrorKind = KindOf(cause)
	event.ErrorMessage = truncate(errorMessage(cause), maxErrorMessageLength)
	if countRetry {
		event.RetryCount++
	}
	return l.Transition(ctx, event, to)
}

func (l *Ledger) transitionError(err error, id string, from, to SyncStatus) error {
	if isNotFoundError(err) {
		return fmt.Errorf("%w: sync event %s is no longer %s", ErrInvalidTransition, id, from)
	}
	return fmt.Errorf("update sync event %s to %s: %w", id, to, err)
}

// ListByStatus returns the caller's rows with status, oldest first. An empty
// status lists every row.
func (l *Ledger) ListByStatus(ctx context.Context, userID string, status SyncStatus) ([]SyncEvent, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	events, err := l.events.ListSyncEvents(ctx, userID, status)
	if err != nil {
		if isNotFoundError(err) {
			return []SyncEvent{}, nil
		}
		return nil, err
	}
	ordered := make([]SyncEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return ordered, nil
}

// Counts aggregates the caller's rows per status.
func (l *Ledger) Counts(ctx context.Context, userID string) (StatusCounts, error) {
	if err := l.ready(); err != nil {
		return StatusCounts{}, err
	}
	raw, err := l.events.CountSyncEvents(ctx, userID)
	if err != nil {
		return StatusCounts{}, err
	}
	return StatusCounts{
		Pending:  raw[SyncStatusPending],
		Synced:   raw[SyncStatusSynced],
		Error:    raw[SyncStatusError],
		Conflict: raw[SyncStatusConflict],
	}, nil
}

// Delete removes a row. Pending rows are kept until their attempt settles.
func (l *Ledger) Delete(ctx context.Context, userID, id string) (err error) {
	if err = l.ready(); err != nil {
		return err
	}

	logger := l.loggerWith(ctx, "Delete", "user_id", userID, "sync_event_id", id)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "failed to delete sync event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "sync event deleted")
	}()

	event, err := l.events.GetSyncEvent(ctx, userID, id)
	if err != nil {
		return mapRepoError(err)
	}
	if event.Status == SyncStatusPending {
		return fmt.Errorf("%w: pending sync event %s cannot be deleted", ErrInvalidTransition, id)
	}
	if err = l.events.DeleteSyncEvent(ctx, userID, id); err != nil {
		return mapRepoError(err)
	}
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err.Error()
	}
	return err.Error()
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return value[:limit]
}
