package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/availability-engine/internal/persistence"
)

type syncEventRow struct {
	ID              string `db:"id"`
	UserID          string `db:"user_id"`
	Title           string `db:"title"`
	StartTime       string `db:"start_time"`
	EndTime         string `db:"end_time"`
	CalendarIDs     string `db:"calendar_ids"`
	Status          string `db:"status"`
	ProviderEventID string `db:"provider_event_id"`
	HTMLLink        string `db:"html_link"`
	ErrorKind       string `db:"error_kind"`
	ErrorMessage    string `db:"error_message"`
	RetryCount      int    `db:"retry_count"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

const syncEventColumns = `id, user_id, title, start_time, end_time, calendar_ids, status,
	provider_event_id, html_link, error_kind, error_message, retry_count, created_at, updated_at`

func toSyncEventRow(e persistence.SyncEvent) (syncEventRow, error) {
	ids := e.CalendarIDs
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return syncEventRow{}, fmt.Errorf("encode calendar ids: %w", err)
	}
	return syncEventRow{
		ID:              e.ID,
		UserID:          e.UserID,
		Title:           e.Title,
		StartTime:       formatTime(e.StartTime),
		EndTime:         formatTime(e.EndTime),
		CalendarIDs:     string(encoded),
		Status:          e.Status,
		ProviderEventID: e.ProviderEventID,
		HTMLLink:        e.HTMLLink,
		ErrorKind:       e.ErrorKind,
		ErrorMessage:    e.ErrorMessage,
		RetryCount:      e.RetryCount,
		CreatedAt:       formatTime(e.CreatedAt),
		UpdatedAt:       formatTime(e.UpdatedAt),
	}, nil
}

func (r syncEventRow) toModel() (persistence.SyncEvent, error) {
	e := persistence.SyncEvent{
		ID:              r.ID,
		UserID:          r.UserID,
		Title:           r.Title,
		Status:          r.Status,
		ProviderEventID: r.ProviderEventID,
		HTMLLink:        r.HTMLLink,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
		RetryCount:      r.RetryCount,
	}
	var err error
	if e.StartTime, err = parseTime(r.StartTime); err != nil {
		return persistence.SyncEvent{}, fmt.Errorf("parse start_time of %s: %w", r.ID, err)
	}
	if e.EndTime, err = parseTime(r.EndTime); err != nil {
		return persistence.SyncEvent{}, fmt.Errorf("parse end_time of %s: %w", r.ID, err)
	}
	if e.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return persistence.SyncEvent{}, fmt.Errorf("parse created_at of %s: %w", r.ID, err)
	}
	if e.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return persistence.SyncEvent{}, fmt.Errorf("parse updated_at of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.CalendarIDs), &e.CalendarIDs); err != nil {
		return persistence.SyncEvent{}, fmt.Errorf("decode calendar ids of %s: %w", r.ID, err)
	}
	return e, nil
}

// CreateSyncEvent inserts a ledger row.
func (s *Store) CreateSyncEvent(ctx context.Context, event persistence.SyncEvent) error {
	row, err := toSyncEventRow(event)
	if err != nil {
		return err
	}
	query := `INSERT INTO sync_events (` + syncEventColumns + `)
		VALUES (:id, :user_id, :title, :start_time, :end_time, :calendar_ids, :status,
			:provider_event_id, :html_link, :error_kind, :error_message, :retry_count, :created_at, :updated_at)`

	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, query, row)
		return err
	})
}

// GetSyncEvent loads a row owned by userID.
func (s *Store) GetSyncEvent(ctx context.Context, userID, id string) (persistence.SyncEvent, error) {
	query := s.db.Rebind(`SELECT ` + syncEventColumns + ` FROM sync_events WHERE id = ? AND user_id = ?`)

	var row syncEventRow
	if err := s.db.GetContext(ctx, &row, query, id, userID); err != nil {
		return persistence.SyncEvent{}, s.mapper.MapError(err)
	}
	return row.toModel()
}

// UpdateSyncEvent rewrites the mutable columns while the stored status equals
// expectedStatus. A missing row or a moved status yields ErrNotFound.
func (s *Store) UpdateSyncEvent(ctx context.Context, event persistence.SyncEvent, expectedStatus string) error {
	row, err := toSyncEventRow(event)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`UPDATE sync_events SET
			title = ?, start_time = ?, end_time = ?, calendar_ids = ?, status = ?,
			provider_event_id = ?, html_link = ?, error_kind = ?, error_message = ?,
			retry_count = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`)

	return s.retry.WithRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query,
			row.Title, row.StartTime, row.EndTime, row.CalendarIDs, row.Status,
			row.ProviderEventID, row.HTMLLink, row.ErrorKind, row.ErrorMessage,
			row.RetryCount, row.UpdatedAt,
			row.ID, row.UserID, expectedStatus,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

// ListSyncEvents returns a user's rows ordered by creation time.
func (s *Store) ListSyncEvents(ctx context.Context, filter persistence.SyncEventFilter) ([]persistence.SyncEvent, error) {
	query := `SELECT ` + syncEventColumns + ` FROM sync_events WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var rows []syncEventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, s.mapper.MapError(err)
	}

	events := make([]persistence.SyncEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// CountSyncEventsByStatus aggregates a user's rows per status.
func (s *Store) CountSyncEventsByStatus(ctx context.Context, userID string) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	query := s.db.Rebind(`SELECT status, COUNT(*) AS n FROM sync_events WHERE user_id = ? GROUP BY status`)
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, s.mapper.MapError(err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteSyncEvent removes a row owned by userID.
func (s *Store) DeleteSyncEvent(ctx context.Context, userID, id string) error {
	query := s.db.Rebind(`DELETE FROM sync_events WHERE id = ? AND user_id = ?`)
	return s.retry.WithRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query, id, userID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}
