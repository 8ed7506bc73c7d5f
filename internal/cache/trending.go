package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TrendingKey is the Redis key for the trending window sorted set.
	TrendingKey = "trending:tweets"

	// TrendingTTL expires the whole key when no tweet has been created for
	// a while; the service falls back to Postgres and re-warms.
	TrendingTTL = 48 * time.Hour
)

// TweetScore pairs a tweet id with its creation timestamp, the sorted-set
// score. Only ids and timestamps live in Redis: engagement counts stay fully
// derived from the store, so the cache can never serve stale metrics.
type TweetScore struct {
	TweetID   int64
	Timestamp int64 // Unix timestamp
}

// TrendingCache indexes recently created tweet ids by creation time. It is a
// read-through accelerator for the trending listing; Postgres remains the
// source of truth and any error is treated as a miss by the caller.
type TrendingCache interface {
	// Add records a newly created tweet and trims entries older than the
	// retention horizon. Uses a pipeline: ZADD + ZREMRANGEBYSCORE + EXPIRE.
	Add(ctx context.Context, tweetID int64, createdAt time.Time) error

	// Remove drops a deleted tweet from the window.
	Remove(ctx context.Context, tweetID int64) error

	// Window returns tweet ids created at or after `since`, newest first,
	// sliced by offset/limit, plus the total number of ids in the window.
	Window(ctx context.Context, since time.Time, offset, limit int) (ids []int64, total int64, err error)

	// Warm bulk-inserts tweets into the window after a cache loss.
	Warm(ctx context.Context, tweets []TweetScore) error

	// Exists reports whether the window key is populated.
	Exists(ctx context.Context) (bool, error)
}

// RedisTrendingCache implements TrendingCache using a Redis sorted set.
type RedisTrendingCache struct {
	client    *redis.Client
	retention time.Duration
}

// NewTrendingCache creates a TrendingCache backed by Redis. retention is how
// long entries stay in the window before being trimmed.
func NewTrendingCache(client *redis.Client, retention time.Duration) TrendingCache {
	return &RedisTrendingCache{client: client, retention: retention}
}

func (c *RedisTrendingCache) Add(ctx context.Context, tweetID int64, createdAt time.Time) error {
	pipe := c.client.Pipeline()

	pipe.ZAdd(ctx, TrendingKey, redis.Z{
		Score:  float64(createdAt.Unix()),
		Member: strconv.FormatInt(tweetID, 10),
	})

	// Trim everything that has aged out of the window.
	horizon := time.Now().Add(-c.retention).Unix()
	pipe.ZRemRangeByScore(ctx, TrendingKey, "-inf", fmt.Sprintf("(%d", horizon))

	pipe.Expire(ctx, TrendingKey, TrendingTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[TrendingCache] Add FAILED: tweet=%d err=%v", tweetID, err)
		return fmt.Errorf("add tweet to trending window: %w", err)
	}
	return nil
}

func (c *RedisTrendingCache) Remove(ctx context.Context, tweetID int64) error {
	member := strconv.FormatInt(tweetID, 10)
	if err := c.client.ZRem(ctx, TrendingKey, member).Err(); err != nil {
		log.Printf("[TrendingCache] Remove FAILED: tweet=%d err=%v", tweetID, err)
		return fmt.Errorf("remove tweet from trending window: %w", err)
	}
	return nil
}

func (c *RedisTrendingCache) Window(ctx context.Context, since time.Time, offset, limit int) ([]int64, int64, error) {
	min := strconv.FormatInt(since.Unix(), 10)

	pipe := c.client.Pipeline()
	rangeCmd := pipe.ZRevRangeByScore(ctx, TrendingKey, &redis.ZRangeBy{
		Min:    min,
		Max:    "+inf",
		Offset: int64(offset),
		Count:  int64(limit),
	})
	countCmd := pipe.ZCount(ctx, TrendingKey, min, "+inf")

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[TrendingCache] Window FAILED: err=%v", err)
		return nil, 0, fmt.Errorf("read trending window: %w", err)
	}

	members := rangeCmd.Val()
	ids := make([]int64, len(members))
	for i, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("parse tweet id %q: %w", m, err)
		}
		ids[i] = id
	}

	return ids, countCmd.Val(), nil
}

func (c *RedisTrendingCache) Warm(ctx context.Context, tweets []TweetScore) error {
	if len(tweets) == 0 {
		return nil
	}

	members := make([]redis.Z, len(tweets))
	for i, t := range tweets {
		members[i] = redis.Z{
			Score:  float64(t.Timestamp),
			Member: strconv.FormatInt(t.TweetID, 10),
		}
	}

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, TrendingKey, members...)
	pipe.Expire(ctx, TrendingKey, TrendingTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[TrendingCache] Warm FAILED: tweets=%d err=%v", len(tweets), err)
		return fmt.Errorf("warm trending window: %w", err)
	}

	log.Printf("[TrendingCache] Warm OK: tweets=%d", len(tweets))
	return nil
}

func (c *RedisTrendingCache) Exists(ctx context.Context) (bool, error) {
	exists, err := c.client.Exists(ctx, TrendingKey).Result()
	if err != nil {
		return false, fmt.Errorf("check trending window exists: %w", err)
	}
	return exists > 0, nil
}
