package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMonthCache keeps month summaries in Redis for a short TTL. The worker
// drops entries when new records arrive; the TTL bounds staleness otherwise.
type RedisMonthCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMonthCache creates a cache with the given TTL.
func NewRedisMonthCache(client *redis.Client, ttl time.Duration) *RedisMonthCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisMonthCache{client: client, ttl: ttl}
}

// MonthKey is the Redis key for one person's month summary.
func MonthKey(personID string, year int, month time.Month) string {
	return fmt.Sprintf("attendance:month:%s:%04d-%02d", personID, year, int(month))
}

func (c *RedisMonthCache) GetMonth(ctx context.Context, personID string, year int, month time.Month) ([]DayCount, bool, error) {
	raw, err := c.client.Get(ctx, MonthKey(personID, year, month)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var days []DayCount
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, false, err
	}
	return days, true, nil
}

func (c *RedisMonthCache) SetMonth(ctx context.Context, personID string, year int, month time.Month, days []DayCount) error {
	raw, err := json.Marshal(days)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, MonthKey(personID, year, month), raw, c.ttl).Err()
}

func (c *RedisMonthCache) InvalidateMonth(ctx context.Context, personID string, year int, month time.Month) error {
	return c.client.Del(ctx, MonthKey(personID, year, month)).Err()
}

// CachedDirectory remembers roster hits in Redis. Misses are not cached so a
// newly enrolled person can scan immediately.
type CachedDirectory struct {
	next   Directory
	client *redis.Client
	ttl    time.Duration
}

// NewCachedDirectory wraps next with a Redis positive-hit cache.
func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedDirectory{next: next, client: client, ttl: ttl}
}

func (d *CachedDirectory) PersonExists(ctx context.Context, personID string) (bool, error) {
	key := "attendance:person:" + personID
	if n, err := d.client.Exists(ctx, key).Result(); err == nil && n > 0 {
		return true, nil
	}
	ok, err := d.next.PersonExists(ctx, personID)
	if err != nil || !ok {
		return ok, err
	}
	// the roster table stays authoritative
	_ = d.client.Set(ctx, key, 1, d.ttl).Err()
	return true, nil
}
