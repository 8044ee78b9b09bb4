package main

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// recommendationCache stores computed recommendation responses per user.
// Each user owns one hash whose fields are the variants (endpoint + limit),
// so invalidating a user drops every variant at once.
type recommendationCache interface {
	Get(ctx context.Context, userID int, field string, dst any) bool
	Set(ctx context.Context, userID int, field string, v any)
	Invalidate(ctx context.Context, userIDs ...int)
}

var recCache recommendationCache = nopCache{}

type nopCache struct{}

func (nopCache) Get(context.Context, int, string, any) bool { return false }
func (nopCache) Set(context.Context, int, string, any)      {}
func (nopCache) Invalidate(context.Context, ...int)         {}

type redisCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func newRedisCache(rdb *redis.Client, ttl time.Duration) *redisCache {
	return &redisCache{rdb: rdb, ttl: ttl, now: time.Now}
}

func recKey(userID int) string {
	return "peerconnect:rec:" + strconv.Itoa(userID)
}

// cacheEntry is one hash field. The key TTL is refreshed by every write, so
// each variant carries its own write time and expires on its own.
type cacheEntry struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

func (c *redisCache) Get(ctx context.Context, userID int, field string, dst any) bool {
	key := recKey(userID)
	data, err := c.rdb.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		logger.Warn("Read recommendation cache", zap.Int("user_id", userID), zap.Error(err))
		return false
	}

	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Value == nil {
		return false
	}
	if c.now().Sub(e.StoredAt) >= c.ttl {
		if err := c.rdb.HDel(ctx, key, field).Err(); err != nil {
			logger.Warn("Drop stale recommendation cache", zap.Int("user_id", userID), zap.Error(err))
		}
		return false
	}
	return json.Unmarshal(e.Value, dst) == nil
}

func (c *redisCache) Set(ctx context.Context, userID int, field string, v any) {
	value, err := json.Marshal(v)
	if err != nil {
		return
	}
	data, err := json.Marshal(cacheEntry{StoredAt: c.now(), Value: value})
	if err != nil {
		return
	}
	key := recKey(userID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("Write recommendation cache", zap.Int("user_id", userID), zap.Error(err))
	}
}

func (c *redisCache) Invalidate(ctx context.Context, userIDs ...int) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = recKey(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("Invalidate recommendation cache", zap.Ints("user_ids", userIDs), zap.Error(err))
	}
}

// newRedisClient parses a redis:// URL and checks the server answers.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
