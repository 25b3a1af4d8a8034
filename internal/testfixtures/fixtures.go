package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/persistence"
)

var syncEventCounter uint64

// ----------------------------- Sync event fixtures -----------------------------

// SyncEventFixture is a deterministic ledger row.
type SyncEventFixture struct {
	ID              string
	UserID          string
	Title           string
	Start           time.Time
	End             time.Time
	CalendarIDs     []string
	Status          application.SyncStatus
	ProviderEventID string
	HTMLLink        string
	ErrorKind       application.Kind
	ErrorMessage    string
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncEventOption configures a SyncEventFixture.
type SyncEventOption func(*SyncEventFixture)

// NewSyncEventFixture returns a pending one hour booking on the day after
// ReferenceTime, with CreatedAt spaced a minute apart per fixture.
func NewSyncEventFixture(opts ...SyncEventOption) SyncEventFixture {
	idx := atomic.AddUint64(&syncEventCounter, 1)
	start := time.Date(2025, time.March, 11, 9, 0, 0, 0, time.UTC)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := SyncEventFixture{
		ID:          fmt.Sprintf("sync-%03d", idx),
		UserID:      "user-1",
		Title:       fmt.Sprintf("Meeting %03d", idx),
		Start:       start,
		End:         start.Add(time.Hour),
		CalendarIDs: []string{"primary"},
		Status:      application.SyncStatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSyncEventID overrides the generated identifier.
func WithSyncEventID(id string) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.ID = id
	}
}

// WithSyncEventUser overrides the owner.
func WithSyncEventUser(userID string) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.UserID = userID
	}
}

// WithSyncEventWindow sets the booked interval.
func WithSyncEventWindow(start, end time.Time) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.Start = start
		f.End = end
	}
}

// WithSyncEventStatus sets the lifecycle status.
func WithSyncEventStatus(status application.SyncStatus) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.Status = status
	}
}

// WithSyncEventProviderID marks the row as written upstream.
func WithSyncEventProviderID(id, link string) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.ProviderEventID = id
		f.HTMLLink = link
	}
}

// WithSyncEventError records a failure on the row.
func WithSyncEventError(kind application.Kind, message string, retries int) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.ErrorKind = kind
		f.ErrorMessage = message
		f.RetryCount = retries
	}
}

// WithSyncEventCalendars overrides the target calendars.
func WithSyncEventCalendars(ids ...string) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.CalendarIDs = append([]string(nil), ids...)
	}
}

// WithSyncEventTimestamps sets both bookkeeping timestamps.
func WithSyncEventTimestamps(created, updated time.Time) SyncEventOption {
	return func(f *SyncEventFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Application converts the fixture into the ledger model.
func (f SyncEventFixture) Application() application.SyncEvent {
	return application.SyncEvent{
		ID:              f.ID,
		UserID:          f.UserID,
		Title:           f.Title,
		StartTime:       f.Start,
		EndTime:         f.End,
		CalendarIDs:     append([]string(nil), f.CalendarIDs...),
		Status:          f.Status,
		ProviderEventID: f.ProviderEventID,
		HTMLLink:        f.HTMLLink,
		ErrorKind:       f.ErrorKind,
		ErrorMessage:    f.ErrorMessage,
		RetryCount:      f.RetryCount,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

// Persistence converts the fixture into the storage model.
func (f SyncEventFixture) Persistence() persistence.SyncEvent {
	return persistence.SyncEvent{
		ID:              f.ID,
		UserID:          f.UserID,
		Title:           f.Title,
		StartTime:       f.Start,
		EndTime:         f.End,
		CalendarIDs:     append([]string(nil), f.CalendarIDs...),
		Status:          string(f.Status),
		ProviderEventID: f.ProviderEventID,
		HTMLLink:        f.HTMLLink,
		ErrorKind:       string(f.ErrorKind),
		ErrorMessage:    f.ErrorMessage,
		RetryCount:      f.RetryCount,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

// ----------------------------- Slot stat fixtures -----------------------------

// SlotStatFixture is a deterministic learning bucket.
type SlotStatFixture struct {
	UserID    string
	Weekday   time.Weekday
	Hour      int
	Scheduled int
	Completed int
	Cancelled int
	LastUsed  *time.Time
	UpdatedAt time.Time
}

// SlotStatOption configures a SlotStatFixture.
type SlotStatOption func(*SlotStatFixture)

// NewSlotStatFixture returns an empty Tuesday 09:00 bucket.
func NewSlotStatFixture(opts ...SlotStatOption) SlotStatFixture {
	fixture := SlotStatFixture{
		UserID:    "user-1",
		Weekday:   time.Tuesday,
		Hour:      9,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSlotStatUser overrides the owner.
func WithSlotStatUser(userID string) SlotStatOption {
	return func(f *SlotStatFixture) {
		f.UserID = userID
	}
}

// WithSlotStatBucket sets the weekday and hour.
func WithSlotStatBucket(weekday time.Weekday, hour int) SlotStatOption {
	return func(f *SlotStatFixture) {
		f.Weekday = weekday
		f.Hour = hour
	}
}

// WithSlotStatCounts sets the outcome counters.
func WithSlotStatCounts(scheduled, completed, cancelled int) SlotStatOption {
	return func(f *SlotStatFixture) {
		f.Scheduled = scheduled
		f.Completed = completed
		f.Cancelled = cancelled
	}
}

// WithSlotStatLastUsed sets the last use instant.
func WithSlotStatLastUsed(t time.Time) SlotStatOption {
	return func(f *SlotStatFixture) {
		f.LastUsed = &t
	}
}

// Delta returns the increment that builds the fixture bucket from nothing.
// It is stamped with LastUsed when set, UpdatedAt otherwise.
func (f SlotStatFixture) Delta() persistence.SlotStatDelta {
	at := f.UpdatedAt
	if f.LastUsed != nil {
		at = *f.LastUsed
	}
	return persistence.SlotStatDelta{
		UserID:    f.UserID,
		Weekday:   int(f.Weekday),
		Hour:      f.Hour,
		Scheduled: f.Scheduled,
		Completed: f.Completed,
		Cancelled: f.Cancelled,
		At:        at,
	}
}
