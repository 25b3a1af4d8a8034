package persistence

import "time"

// SyncEvent is a ledger row tracking one booking attempt.
type SyncEvent struct {
	ID              string
	UserID          string
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	CalendarIDs     []string
	Status          string
	ProviderEventID string
	HTMLLink        string
	ErrorKind       string
	ErrorMessage    string
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SlotStat is the outcome history of one (weekday, hour) bucket for a user.
type SlotStat struct {
	UserID         string
	Weekday        int
	Hour           int
	TotalScheduled int
	TotalCompleted int
	TotalCancelled int
	SuccessRate    int
	LastUsed       *time.Time
	UpdatedAt      time.Time
}

// Preference stores per-user ranking settings.
type Preference struct {
	UserID          string
	LearningEnabled bool
	UpdatedAt       time.Time
}

// SlotStatDelta is added to one bucket in a single write. At becomes both
// last_used and updated_at.
type SlotStatDelta struct {
	UserID    string
	Weekday   int
	Hour      int
	Scheduled int
	Completed int
	Cancelled int
	At        time.Time
}

// SuccessRate is round(100*completed/scheduled) clamped to [0, 100]. It uses
// integer arithmetic so the SQL store computes the same value in the upsert.
func SuccessRate(completed, scheduled int) int {
	if scheduled <= 0 || completed <= 0 {
		return 0
	}
	if completed >= scheduled {
		return 100
	}
	return (100*completed + scheduled/2) / scheduled
}
