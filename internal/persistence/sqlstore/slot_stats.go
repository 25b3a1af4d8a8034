package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

type slotStatRow struct {
	UserID         string         `db:"user_id"`
	Weekday        int            `db:"weekday"`
	Hour           int            `db:"hour"`
	TotalScheduled int            `db:"total_scheduled"`
	TotalCompleted int            `db:"total_completed"`
	TotalCancelled int            `db:"total_cancelled"`
	SuccessRate    int            `db:"success_rate"`
	LastUsed       sql.NullString `db:"last_used"`
	UpdatedAt      string         `db:"updated_at"`
}

const slotStatColumns = `user_id, weekday, hour, total_scheduled, total_completed, total_cancelled,
	success_rate, last_used, updated_at`

func (r slotStatRow) toModel() (persistence.SlotStat, error) {
	stat := persistence.SlotStat{
		UserID:         r.UserID,
		Weekday:        r.Weekday,
		Hour:           r.Hour,
		TotalScheduled: r.TotalScheduled,
		TotalCompleted: r.TotalCompleted,
		TotalCancelled: r.TotalCancelled,
		SuccessRate:    r.SuccessRate,
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.SlotStat{}, fmt.Errorf("parse updated_at: %w", err)
	}
	stat.UpdatedAt = updatedAt
	if r.LastUsed.Valid {
		lastUsed, err := parseTime(r.LastUsed.String)
		if err != nil {
			return persistence.SlotStat{}, fmt.Errorf("parse last_used: %w", err)
		}
		stat.LastUsed = &lastUsed
	}
	return stat, nil
}

// GetSlotStat loads one bucket.
func (s *Store) GetSlotStat(ctx context.Context, userID string, weekday, hour int) (persistence.SlotStat, error) {
	query := s.db.Rebind(`SELECT ` + slotStatColumns + ` FROM slot_stats WHERE user_id = ? AND weekday = ? AND hour = ?`)

	var row slotStatRow
	if err := s.db.GetContext(ctx, &row, query, userID, weekday, hour); err != nil {
		return persistence.SlotStat{}, s.mapper.MapError(err)
	}
	return row.toModel()
}

// incrementSlotStatQuery adds the inserted values to an existing row. The
// success_rate expression matches persistence.SuccessRate.
const incrementSlotStatQuery = `INSERT INTO slot_stats (` + slotStatColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, weekday, hour) DO UPDATE SET
			total_scheduled = slot_stats.total_scheduled + excluded.total_scheduled,
			total_completed = slot_stats.total_completed + excluded.total_completed,
			total_cancelled = slot_stats.total_cancelled + excluded.total_cancelled,
			success_rate = CASE
				WHEN slot_stats.total_scheduled + excluded.total_scheduled <= 0
					OR slot_stats.total_completed + excluded.total_completed <= 0 THEN 0
				WHEN slot_stats.total_completed + excluded.total_completed
					>= slot_stats.total_scheduled + excluded.total_scheduled THEN 100
				ELSE (100 * (slot_stats.total_completed + excluded.total_completed)
					+ (slot_stats.total_scheduled + excluded.total_scheduled) / 2)
					/ (slot_stats.total_scheduled + excluded.total_scheduled)
			END,
			last_used = excluded.last_used,
			updated_at = excluded.updated_at
		RETURNING ` + slotStatColumns

// IncrementSlotStat adds delta to one bucket in a single statement.
func (s *Store) IncrementSlotStat(ctx context.Context, delta persistence.SlotStatDelta) (persistence.SlotStat, error) {
	at := delta.At
	if at.IsZero() {
		at = time.Now()
	}
	stamp := formatTime(at)
	query := s.db.Rebind(incrementSlotStatQuery)

	var row slotStatRow
	err := s.retry.WithRetry(ctx, func() error {
		return s.db.GetContext(ctx, &row, query,
			delta.UserID, delta.Weekday, delta.Hour,
			delta.Scheduled, delta.Completed, delta.Cancelled,
			persistence.SuccessRate(delta.Completed, delta.Scheduled), stamp, stamp,
		)
	})
	if err != nil {
		return persistence.SlotStat{}, err
	}
	return row.toModel()
}

// ListSlotStats returns a user's buckets ordered by weekday and hour.
func (s *Store) ListSlotStats(ctx context.Context, userID string) ([]persistence.SlotStat, error) {
	query := s.db.Rebind(`SELECT ` + slotStatColumns + ` FROM slot_stats WHERE user_id = ? ORDER BY weekday ASC, hour ASC`)

	var rows []slotStatRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, s.mapper.MapError(err)
	}

	stats := make([]persistence.SlotStat, 0, len(rows))
	for _, row := range rows {
		stat, err := row.toModel()
		if err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// DeleteSlotStats removes every bucket of a user.
func (s *Store) DeleteSlotStats(ctx context.Context, userID string) error {
	query := s.db.Rebind(`DELETE FROM slot_stats WHERE user_id = ?`)
	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, userID)
		return err
	})
}
