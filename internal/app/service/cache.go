package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keys touched by this subsystem:
//
//	contest:{id}:detail
//	contest:slug:{slug}
//	contest:{id}:leaderboard:{page}:{pageSize}:{search}
func cacheKeyContestDetail(contestID string) string {
	return "contest:" + contestID + ":detail"
}

func cacheKeyContestSlug(slug string) string {
	return "contest:slug:" + slug
}

func cacheKeyLeaderboard(contestID string, page, pageSize int, search string) string {
	return fmt.Sprintf("contest:%s:leaderboard:%d:%d:%s", contestID, page, pageSize, search)
}

// ContestCache is the read-through, explicit-invalidate cache in front of
// contest detail and leaderboard reads.
type ContestCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// InvalidateContest removes every cached view of one contest: detail,
	// by-slug, and all leaderboard pages.
	InvalidateContest(ctx context.Context, contestID, slug string) error
}

type redisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) ContestCache {
	return &redisCache{rdb: rdb}
}

func (c *redisCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redisCache.GetJSON %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("redisCache.GetJSON unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (c *redisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redisCache.SetJSON marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redisCache.SetJSON %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) InvalidateContest(ctx context.Context, contestID, slug string) error {
	keys := []string{cacheKeyContestDetail(contestID)}
	if slug != "" {
		keys = append(keys, cacheKeyContestSlug(slug))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisCache.InvalidateContest del: %w", err)
	}
	return c.deletePattern(ctx, "contest:"+contestID+":leaderboard:*")
}

// deletePattern walks the keyspace with SCAN rather than KEYS so invalidation
// does not stall the shared Redis under load.
func (c *redisCache) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redisCache.deletePattern scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redisCache.deletePattern del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
