package main

import (
	"context"
	"fmt"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/scoring"
)

type syncEventRepositoryAdapter struct {
	repo persistence.SyncEventRepository
}

var _ application.SyncEventRepository = (*syncEventRepositoryAdapter)(nil)

func newSyncEventRepositoryAdapter(repo persistence.SyncEventRepository) *syncEventRepositoryAdapter {
	return &syncEventRepositoryAdapter{repo: repo}
}

func (a *syncEventRepositoryAdapter) CreateSyncEvent(ctx context.Context, event application.SyncEvent) (application.SyncEvent, error) {
	if err := a.repo.CreateSyncEvent(ctx, toPersistenceSyncEvent(event)); err != nil {
		return application.SyncEvent{}, err
	}
	stored, err := a.repo.GetSyncEvent(ctx, event.UserID, event.ID)
	if err != nil {
		return application.SyncEvent{}, err
	}
	return toApplicationSyncEvent(stored), nil
}

func (a *syncEventRepositoryAdapter) GetSyncEvent(ctx context.Context, userID, id string) (application.SyncEvent, error) {
	stored, err := a.repo.GetSyncEvent(ctx, userID, id)
	if err != nil {
		return application.SyncEvent{}, err
	}
	return toApplicationSyncEvent(stored), nil
}

func (a *syncEventRepositoryAdapter) UpdateSyncEvent(ctx context.Context, event application.SyncEvent, expected application.SyncStatus) (application.SyncEvent, error) {
	if err := a.repo.UpdateSyncEvent(ctx, toPersistenceSyncEvent(event), string(expected)); err != nil {
		return application.SyncEvent{}, err
	}
	stored, err := a.repo.GetSyncEvent(ctx, event.UserID, event.ID)
	if err != nil {
		return application.SyncEvent{}, err
	}
	return toApplicationSyncEvent(stored), nil
}

func (a *syncEventRepositoryAdapter) ListSyncEvents(ctx context.Context, userID string, status application.SyncStatus) ([]application.SyncEvent, error) {
	models, err := a.repo.ListSyncEvents(ctx, persistence.SyncEventFilter{UserID: userID, Status: string(status)})
	if err != nil {
		return nil, err
	}
	events := make([]application.SyncEvent, 0, len(models))
	for _, model := range models {
		events = append(events, toApplicationSyncEvent(model))
	}
	return events, nil
}

func (a *syncEventRepositoryAdapter) CountSyncEvents(ctx context.Context, userID string) (map[application.SyncStatus]int, error) {
	raw, err := a.repo.CountSyncEventsByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts := make(map[application.SyncStatus]int, len(raw))
	for status, n := range raw {
		counts[application.SyncStatus(status)] = n
	}
	return counts, nil
}

func (a *syncEventRepositoryAdapter) DeleteSyncEvent(ctx context.Context, userID, id string) error {
	return a.repo.DeleteSyncEvent(ctx, userID, id)
}

type statsStoreAdapter struct {
	stats persistence.SlotStatRepository
	prefs persistence.PreferenceRepository
	now   func() time.Time
}

var _ application.StatsStore = (*statsStoreAdapter)(nil)

func newStatsStoreAdapter(stats persistence.SlotStatRepository, prefs persistence.PreferenceRepository, now func() time.Time) *statsStoreAdapter {
	if now == nil {
		now = time.Now
	}
	return &statsStoreAdapter{stats: stats, prefs: prefs, now: now}
}

func (a *statsStoreAdapter) IncrementSlotStat(ctx context.Context, userID string, bucket scoring.BucketID, outcome application.Outcome, at time.Time) (application.SlotStat, error) {
	delta := persistence.SlotStatDelta{
		UserID:  userID,
		Weekday: int(bucket.Weekday),
		Hour:    bucket.Hour,
		At:      at,
	}
	switch outcome {
	case application.OutcomeScheduled:
		delta.Scheduled = 1
	case application.OutcomeCompleted:
		delta.Completed = 1
	case application.OutcomeCancelled:
		delta.Cancelled = 1
	default:
		return application.SlotStat{}, fmt.Errorf("unknown outcome %q", outcome)
	}

	stored, err := a.stats.IncrementSlotStat(ctx, delta)
	if err != nil {
		return application.SlotStat{}, err
	}
	return toApplicationSlotStat(stored), nil
}

func (a *statsStoreAdapter) ListSlotStats(ctx context.Context, userID string) ([]application.SlotStat, error) {
	models, err := a.stats.ListSlotStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := make([]application.SlotStat, 0, len(models))
	for _, model := range models {
		stats = append(stats, toApplicationSlotStat(model))
	}
	return stats, nil
}

func (a *statsStoreAdapter) DeleteSlotStats(ctx context.Context, userID string) error {
	return a.stats.DeleteSlotStats(ctx, userID)
}

func (a *statsStoreAdapter) GetLearningEnabled(ctx context.Context, userID string) (bool, error) {
	pref, err := a.prefs.GetPreference(ctx, userID)
	if err != nil {
		return false, err
	}
	return pref.LearningEnabled, nil
}

func (a *statsStoreAdapter) SetLearningEnabled(ctx context.Context, userID string, enabled bool) error {
	return a.prefs.UpsertPreference(ctx, persistence.Preference{
		UserID:          userID,
		LearningEnabled: enabled,
		UpdatedAt:       a.now().UTC(),
	})
}

func toPersistenceSyncEvent(event application.SyncEvent) persistence.SyncEvent {
	return persistence.SyncEvent{
		ID:              event.ID,
		UserID:          event.UserID,
		Title:           event.Title,
		StartTime:       event.StartTime,
		EndTime:         event.EndTime,
		CalendarIDs:     append([]string(nil), event.CalendarIDs...),
		Status:          string(event.Status),
		ProviderEventID: event.ProviderEventID,
		HTMLLink:        event.HTMLLink,
		ErrorKind:       string(event.ErrorKind),
		ErrorMessage:    event.ErrorMessage,
		RetryCount:      event.RetryCount,
		CreatedAt:       event.CreatedAt,
		UpdatedAt:       event.UpdatedAt,
	}
}

func toApplicationSyncEvent(model persistence.SyncEvent) application.SyncEvent {
	return application.SyncEvent{
		ID:              model.ID,
		UserID:          model.UserID,
		Title:           model.Title,
		StartTime:       model.StartTime,
		EndTime:         model.EndTime,
		CalendarIDs:     append([]string(nil), model.CalendarIDs...),
		Status:          application.SyncStatus(model.Status),
		ProviderEventID: model.ProviderEventID,
		HTMLLink:        model.HTMLLink,
		ErrorKind:       application.Kind(model.ErrorKind),
		ErrorMessage:    model.ErrorMessage,
		RetryCount:      model.RetryCount,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

func toApplicationSlotStat(model persistence.SlotStat) application.SlotStat {
	return application.SlotStat{
		UserID:         model.UserID,
		Bucket:         scoring.BucketID{Weekday: time.Weekday(model.Weekday), Hour: model.Hour},
		TotalScheduled: model.TotalScheduled,
		TotalCompleted: model.TotalCompleted,
		TotalCancelled: model.TotalCancelled,
		SuccessRate:    model.SuccessRate,
		LastUsed:       model.LastUsed,
		UpdatedAt:      model.UpdatedAt,
	}
}
