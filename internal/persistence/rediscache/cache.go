// Package rediscache puts a Redis read-through cache in front of the slot
// statistics repository. A user's full stat list is cached under one key and
// dropped on every write for that user.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/availability-engine/internal/persistence"
)

// DefaultTTL bounds how long a cached stat list may be served.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "booking:slotstats:"

// ErrMiss reports a key absent from the cache.
var ErrMiss = errors.New("rediscache: miss")

// KV is the subset of a key-value store the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	client redis.Cmdable
}

// NewRedisKV wraps client.
func NewRedisKV(client redis.Cmdable) *RedisKV {
	return &RedisKV{client: client}
}

// Get returns ErrMiss when key does not exist.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return value, err
}

// Set stores value with an expiry.
func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Del removes keys.
func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// SlotStats decorates a SlotStatRepository. Cache failures are logged and the
// call falls through to the wrapped repository.
type SlotStats struct {
	next   persistence.SlotStatRepository
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

// NewSlotStats wraps next. A non-positive ttl uses DefaultTTL.
func NewSlotStats(next persistence.SlotStatRepository, kv KV, ttl time.Duration, logger *slog.Logger) *SlotStats {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SlotStats{next: next, kv: kv, ttl: ttl, logger: logger}
}

func cacheKey(userID string) string {
	return keyPrefix + userID
}

type cachedStat struct {
	Weekday        int        `json:"weekday"`
	Hour           int        `json:"hour"`
	TotalScheduled int        `json:"total_scheduled"`
	TotalCompleted int        `json:"total_completed"`
	TotalCancelled int        `json:"total_cancelled"`
	SuccessRate    int        `json:"success_rate"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// GetSlotStat reads through to the wrapped repository.
func (c *SlotStats) GetSlotStat(ctx context.Context, userID string, weekday, hour int) (persistence.SlotStat, error) {
	return c.next.GetSlotStat(ctx, userID, weekday, hour)
}

// ListSlotStats serves the cached list when present.
func (c *SlotStats) ListSlotStats(ctx context.Context, userID string) ([]persistence.SlotStat, error) {
	key := cacheKey(userID)

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var cached []cachedStat
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return fromCached(userID, cached), nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable slot stat cache entry", slog.String("key", key))
	case !errors.Is(err, ErrMiss):
		c.logger.WarnContext(ctx, "slot stat cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	stats, err := c.next.ListSlotStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(toCached(stats))
	if err == nil {
		err = c.kv.Set(ctx, key, string(encoded), c.ttl)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "slot stat cache write failed", slog.String("key", key), slog.Any("error", err))
	}
	return stats, nil
}

// IncrementSlotStat writes through and invalidates the user's cached list.
func (c *SlotStats) IncrementSlotStat(ctx context.Context, delta persistence.SlotStatDelta) (persistence.SlotStat, error) {
	stat, err := c.next.IncrementSlotStat(ctx, delta)
	if err != nil {
		return persistence.SlotStat{}, err
	}
	c.invalidate(ctx, delta.UserID)
	return stat, nil
}

// DeleteSlotStats deletes through and invalidates the user's cached list.
func (c *SlotStats) DeleteSlotStats(ctx context.Context, userID string) error {
	if err := c.next.DeleteSlotStats(ctx, userID); err != nil {
		return err
	}
	c.invalidate(ctx, userID)
	return nil
}

func (c *SlotStats) invalidate(ctx context.Context, userID string) {
	if err := c.kv.Del(ctx, cacheKey(userID)); err != nil {
		c.logger.WarnContext(ctx, "slot stat cache invalidation failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func toCached(stats []persistence.SlotStat) []cachedStat {
	out := make([]cachedStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, cachedStat{
			Weekday:        s.Weekday,
			Hour:           s.Hour,
			TotalScheduled: s.TotalScheduled,
			TotalCompleted: s.TotalCompleted,
			TotalCancelled: s.TotalCancelled,
			SuccessRate:    s.SuccessRate,
			LastUsed:       s.LastUsed,
			UpdatedAt:      s.UpdatedAt,
		})
	}
	return out
}

func fromCached(userID string, cached []cachedStat) []persistence.SlotStat {
	out := make([]persistence.SlotStat, 0, len(cached))
	for _, s := range cached {
		out = append(out, persistence.SlotStat{
			UserID:         userID,
			Weekday:        s.Weekday,
			Hour:           s.Hour,
			TotalScheduled: s.TotalScheduled,
			TotalCompleted: s.TotalCompleted,
			TotalCancelled: s.TotalCancelled,
			SuccessRate:    s.SuccessRate,
			LastUsed:       s.LastUsed,
			UpdatedAt:      s.UpdatedAt,
		})
	}
	return out
}
