package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SettingsCacheTTL bounds how stale a cached setting can be. Writes
// refresh the cache immediately, so the TTL only matters when another
// process updates Postgres behind this one's back.
const SettingsCacheTTL = 30 * time.Second

// SettingsCache is a read-through cache for integer scheduler settings.
// All methods degrade to cache misses on Redis errors; the caller's
// Postgres read stays authoritative.
type SettingsCache struct {
	client *Client
	logger *zap.Logger
}

// NewSettingsCache creates a settings cache on top of an existing client.
func NewSettingsCache(client *Client, logger *zap.Logger) *SettingsCache {
	return &SettingsCache{client: client, logger: logger}
}

func (s *SettingsCache) buildKey(key string) string {
	return fmt.Sprintf("settings:scheduler:%s", key)
}

// GetInt returns (value, true) on a cache hit, (0, false) otherwise.
func (s *SettingsCache) GetInt(ctx context.Context, key string) (int, bool) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		s.logger.Warn("settings cache read failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		s.logger.Warn("settings cache held non-numeric value",
			zap.String("key", key),
			zap.String("value", val),
		)
		return 0, false
	}
	return n, true
}

// SetInt stores a setting value. Failures are logged, never fatal.
func (s *SettingsCache) SetInt(ctx context.Context, key string, value int) {
	if err := s.client.rdb.Set(ctx, s.buildKey(key), strconv.Itoa(value), SettingsCacheTTL).Err(); err != nil {
		s.logger.Warn("settings cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops a cached setting.
func (s *SettingsCache) Invalidate(ctx context.Context, key string) {
	if err := s.client.rdb.Del(ctx, s.buildKey(key)).Err(); err != nil {
		s.logger.Warn("settings cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}
