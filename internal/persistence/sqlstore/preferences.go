package sqlstore

import (
	"context"
	"time"

	"github.com/example/availability-engine/internal/persistence"
)

type preferenceRow struct {
	UserID          string `db:"user_id"`
	LearningEnabled int    `db:"learning_enabled"`
	UpdatedAt       string `db:"updated_at"`
}

// GetPreference loads a user's settings.
func (s *Store) GetPreference(ctx context.Context, userID string) (persistence.Preference, error) {
	query := s.db.Rebind(`SELECT user_id, learning_enabled, updated_at FROM user_preferences WHERE user_id = ?`)

	var row preferenceRow
	if err := s.db.GetContext(ctx, &row, query, userID); err != nil {
		return persistence.Preference{}, s.mapper.MapError(err)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return persistence.Preference{}, err
	}
	return persistence.Preference{
		UserID:          row.UserID,
		LearningEnabled: row.LearningEnabled == 1,
		UpdatedAt:       updatedAt,
	}, nil
}

// UpsertPreference inserts or replaces a user's settings.
func (s *Store) UpsertPreference(ctx context.Context, pref persistence.Preference) error {
	updatedAt := pref.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	query := s.db.Rebind(`INSERT INTO user_preferences (user_id, learning_enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			learning_enabled = excluded.learning_enabled,
			updated_at = excluded.updated_at`)

	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, pref.UserID, boolToInt(pref.LearningEnabled), formatTime(updatedAt))
		return err
	})
}
