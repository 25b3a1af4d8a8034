package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/scoring"
)

// SyncStatus is the lifecycle state of a booking attempt.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusError    SyncStatus = "error"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncStatuses lists every status in lifecycle order.
var SyncStatuses = []SyncStatus{SyncStatusPending, SyncStatusSynced, SyncStatusError, SyncStatusConflict}

// ParseSyncStatus validates a textual status.
func ParseSyncStatus(value string) (SyncStatus, error) {
	status := SyncStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range SyncStatuses {
		if status == known {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown sync status %q", value)
}

// SyncEvent is one booking attempt recorded in the reliability ledger.
type SyncEvent struct {
	ID              string
	UserID          string
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	CalendarIDs     []string
	Status          SyncStatus
	ProviderEventID string
	HTMLLink        string
	ErrorKind       Kind
	ErrorMessage    string
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusCounts aggregates ledger rows per status.
type StatusCounts struct {
	Pending  int
	Synced   int
	Error    int
	Conflict int
}

// Total sums all statuses.
func (c StatusCounts) Total() int {
	return c.Pending + c.Synced + c.Error + c.Conflict
}

// BookingRequest is the caller's selection of a previously listed slot.
// FetchedAt is when the slot list was produced.
type BookingRequest struct {
	SlotStart       time.Time
	SlotEnd         time.Time
	Title           string
	FetchedAt       time.Time
	CalendarIDs     []string
	ReminderMinutes []int
}

// BookingResult reports the outcome of one booking attempt.
type BookingResult struct {
	Success         bool
	ProviderEventID string
	HTMLLink        string
	SyncEventID     string
	Status          SyncStatus
	Error           *Error
	// Credential is set when the access token was refreshed during the attempt.
	Credential *calendar.Credential
}

// SkippedOccurrence is a recurring occurrence left out because its slot was taken.
type SkippedOccurrence struct {
	Start       time.Time
	End         time.Time
	SyncEventID string
	Reason      Kind
}

// RecurringBookingResult groups per-occurrence outcomes in start order.
type RecurringBookingResult struct {
	Booked     []BookingResult
	Skipped    []SkippedOccurrence
	Failed     []BookingResult
	Credential *calendar.Credential
}

// Outcome is a historical event recorded against a slot bucket.
type Outcome string

const (
	OutcomeScheduled Outcome = "scheduled"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

// ParseOutcome validates a textual outcome.
func ParseOutcome(value string) (Outcome, error) {
	switch outcome := Outcome(strings.ToLower(strings.TrimSpace(value))); outcome {
	case OutcomeScheduled, OutcomeCompleted, OutcomeCancelled:
		return outcome, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", value)
	}
}

// SlotStat is the per-user history of one (weekday, hour) bucket.
type SlotStat struct {
	UserID         string
	Bucket         scoring.BucketID
	TotalScheduled int
	TotalCompleted int
	TotalCancelled int
	SuccessRate    int
	LastUsed       *time.Time
	UpdatedAt      time.Time
}

func (s SlotStat) scoringStat() scoring.Stat {
	return scoring.Stat{
		TotalScheduled: s.TotalScheduled,
		TotalCompleted: s.TotalCompleted,
		TotalCancelled: s.TotalCancelled,
		SuccessRate:    s.SuccessRate,
		LastUsed:       s.LastUsed,
	}
}
