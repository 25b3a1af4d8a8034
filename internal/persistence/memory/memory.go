// Package memory provides a process-local implementation of the persistence
// repositories. It is used for development runs and tests; data is lost when
// the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/availability-engine/internal/persistence"
)

type statKey struct {
	userID  string
	weekday int
	hour    int
}

// Storage keeps every record in maps guarded by a single lock.
type Storage struct {
	mu          sync.RWMutex
	syncEvents  map[string]persistence.SyncEvent
	slotStats   map[statKey]persistence.SlotStat
	preferences map[string]persistence.Preference
}

// Open returns an empty Storage.
func Open() *Storage {
	return &Storage{
		syncEvents:  make(map[string]persistence.SyncEvent),
		slotStats:   make(map[statKey]persistence.SlotStat),
		preferences: make(map[string]persistence.Preference),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// --- SyncEventRepository implementation ---

// CreateSyncEvent stores a new ledger row.
func (s *Storage) CreateSyncEvent(ctx context.Context, event persistence.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" || event.UserID == "" {
		return fmt.Errorf("memory: sync event id and user id are required: %w", persistence.ErrConstraintViolation)
	}
	if _, ok := s.syncEvents[event.ID]; ok {
		return fmt.Errorf("memory: sync event %s already exists: %w", event.ID, persistence.ErrDuplicate)
	}

	s.syncEvents[event.ID] = cloneSyncEvent(event)
	return nil
}

// GetSyncEvent retrieves a row owned by userID.
func (s *Storage) GetSyncEvent(ctx context.Context, userID, id string) (persistence.SyncEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.syncEvents[id]
	if !ok || event.UserID != userID {
		return persistence.SyncEvent{}, persistence.ErrNotFound
	}
	return cloneSyncEvent(event), nil
}

// UpdateSyncEvent overwrites a row while its status still equals expectedStatus.
func (s *Storage) UpdateSyncEvent(ctx context.Context, event persistence.SyncEvent, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.syncEvents[event.ID]
	if !ok || existing.UserID != event.UserID || existing.Status != expectedStatus {
		return persistence.ErrNotFound
	}

	event.CreatedAt = existing.CreatedAt
	s.syncEvents[event.ID] = cloneSyncEvent(event)
	return nil
}

// ListSyncEvents returns matching rows ordered by CreatedAt ascending.
func (s *Storage) ListSyncEvents(ctx context.Context, filter persistence.SyncEventFilter) ([]persistence.SyncEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]persistence.SyncEvent, 0)
	for _, event := range s.syncEvents {
		if event.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		events = append(events, cloneSyncEvent(event))
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	return events, nil
}

// CountSyncEventsByStatus aggregates a user's rows per status.
func (s *Storage) CountSyncEventsByStatus(ctx context.Context, userID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, event := range s.syncEvents {
		if event.UserID == userID {
			counts[event.Status]++
		}
	}
	return counts, nil
}

// DeleteSyncEvent removes a row owned by userID.
func (s *Storage) DeleteSyncEvent(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.syncEvents[id]
	if !ok || event.UserID != userID {
		return persistence.ErrNotFound
	}
	delete(s.syncEvents, id)
	return nil
}

// --- SlotStatRepository implementation ---

// GetSlotStat retrieves one bucket.
func (s *Storage) GetSlotStat(ctx context.Context, userID string, weekday, hour int) (persistence.SlotStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stat, ok := s.slotStats[statKey{userID: userID, weekday: weekday, hour: hour}]
	if !ok {
		return persistence.SlotStat{}, persistence.ErrNotFound
	}
	return cloneSlotStat(stat), nil
}

// IncrementSlotStat adds delta to one bucket under the write lock.
func (s *Storage) IncrementSlotStat(ctx context.Context, delta persistence.SlotStatDelta) (persistence.SlotStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delta.UserID == "" || delta.Weekday < 0 || delta.Weekday > 6 || delta.Hour < 0 || delta.Hour > 23 {
		return persistence.SlotStat{}, fmt.Errorf("memory: invalid slot stat key: %w", persistence.ErrConstraintViolation)
	}

	key := statKey{userID: delta.UserID, weekday: delta.Weekday, hour: delta.Hour}
	stat, ok := s.slotStats[key]
	if !ok {
		stat = persistence.SlotStat{UserID: delta.UserID, Weekday: delta.Weekday, Hour: delta.Hour}
	}
	stat.TotalScheduled += delta.Scheduled
	stat.TotalCompleted += delta.Completed
	stat.TotalCancelled += delta.Cancelled
	if stat.TotalScheduled < 0 || stat.TotalCompleted < 0 || stat.TotalCancelled < 0 {
		return persistence.SlotStat{}, fmt.Errorf("memory: slot stat totals must not be negative: %w", persistence.ErrConstraintViolation)
	}
	stat.SuccessRate = persistence.SuccessRate(stat.TotalCompleted, stat.TotalScheduled)
	at := delta.At
	stat.LastUsed = &at
	stat.UpdatedAt = at

	s.slotStats[key] = stat
	return cloneSlotStat(stat), nil
}

// ListSlotStats returns a user's buckets ordered by weekday and hour.
func (s *Storage) ListSlotStats(ctx context.Context, userID string) ([]persistence.SlotStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]persistence.SlotStat, 0)
	for key, stat := range s.slotStats {
		if key.userID == userID {
			stats = append(stats, cloneSlotStat(stat))
		}
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Weekday == stats[j].Weekday {
			return stats[i].Hour < stats[j].Hour
		}
		return stats[i].Weekday < stats[j].Weekday
	})

	return stats, nil
}

// DeleteSlotStats removes every bucket of a user.
func (s *Storage) DeleteSlotStats(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.slotStats {
		if key.userID == userID {
			delete(s.slotStats, key)
		}
	}
	return nil
}

// --- PreferenceRepository implementation ---

// GetPreference retrieves a user's settings.
func (s *Storage) GetPreference(ctx context.Context, userID string) (persistence.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pref, ok := s.preferences[userID]
	if !ok {
		return persistence.Preference{}, persistence.ErrNotFound
	}
	return pref, nil
}

// UpsertPreference creates or replaces a user's settings.
func (s *Storage) UpsertPreference(ctx context.Context, pref persistence.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pref.UserID == "" {
		return fmt.Errorf("memory: preference user id is required: %w", persistence.ErrConstraintViolation)
	}
	s.preferences[pref.UserID] = pref
	return nil
}

// --- Helpers ---

func cloneSyncEvent(event persistence.SyncEvent) persistence.SyncEvent {
	clone := event
	if event.CalendarIDs != nil {
		clone.CalendarIDs = make([]string, len(event.CalendarIDs))
		copy(clone.CalendarIDs, event.CalendarIDs)
	}
	return clone
}

func cloneSlotStat(stat persistence.SlotStat) persistence.SlotStat {
	clone := stat
	if stat.LastUsed != nil {
		lastUsed := *stat.LastUsed
		clone.LastUsed = &lastUsed
	}
	return clone
}
