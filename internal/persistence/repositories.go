package persistence

import "context"

// SyncEventFilter narrows ledger queries. An empty Status matches every row.
type SyncEventFilter struct {
	UserID string
	Status string
}

// SyncEventRepository stores booking attempts.
type SyncEventRepository interface {
	CreateSyncEvent(ctx context.Context, event SyncEvent) error
	GetSyncEvent(ctx context.Context, userID, id string) (SyncEvent, error)
	// UpdateSyncEvent overwrites the row only while its stored status equals
	// expectedStatus and returns ErrNotFound otherwise.
	UpdateSyncEvent(ctx context.Context, event SyncEvent, expectedStatus string) error
	ListSyncEvents(ctx context.Context, filter SyncEventFilter) ([]SyncEvent, error)
	CountSyncEventsByStatus(ctx context.Context, userID string) (map[string]int, error)
	DeleteSyncEvent(ctx context.Context, userID, id string) error
}

// SlotStatRepository stores per-bucket booking history.
type SlotStatRepository interface {
	GetSlotStat(ctx context.Context, userID string, weekday, hour int) (SlotStat, error)
	// IncrementSlotStat adds delta to the bucket, creating it when missing,
	// and returns the row as written. Concurrent increments never overwrite
	// each other.
	IncrementSlotStat(ctx context.Context, delta SlotStatDelta) (SlotStat, error)
	ListSlotStats(ctx context.Context, userID string) ([]SlotStat, error)
	DeleteSlotStats(ctx context.Context, userID string) error
}

// PreferenceRepository stores per-user settings.
type PreferenceRepository interface {
	GetPreference(ctx context.Context, userID string) (Preference, error)
	UpsertPreference(ctx context.Context, pref Preference) error
}

// Store bundles every repository a backend provides.
type Store interface {
	SyncEventRepository
	SlotStatRepository
	PreferenceRepository
	Close() error
}
