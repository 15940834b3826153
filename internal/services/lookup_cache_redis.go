package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

const (
	redisLookupPrefix = "lookup:"
	redisSourcePrefix = "lookup:src:"
	redisSourcesKey   = "lookup:sources"
	redisFieldValue   = "value"
	redisFieldSource  = "source"
	redisFieldExpires = "expires_at"
	redisFieldHits    = "hit_count"
	redisFieldCreated = "created_at"
	redisFieldLastHit = "last_hit_at"
)

type redisLookupCache struct {
	rdb *redis.Client
	log *logger.Logger
	now func() time.Time
}

// NewRedisLookupCache stores each entry as a hash with a native expiry. A per-source set
// indexes keys for ClearSource and Stats; members whose hash has expired are pruned lazily.
func NewRedisLookupCache(rdb *redis.Client, baseLog *logger.Logger) LookupCache {
	return &redisLookupCache{
		rdb: rdb,
		log: baseLog.With("cache", "RedisLookupCache"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (c *redisLookupCache) Backend() string { return "redis" }

func redisEntryKey(key string) string { return redisLookupPrefix + key }

func redisSourceKey(source types.CacheSource) string { return redisSourcePrefix + string(source) }

func (c *redisLookupCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, redisEntryKey(key)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	now := c.now()
	if exp, err := strconv.ParseInt(fields[redisFieldExpires], 10, 64); err == nil && exp <= now.UnixMilli() {
		if _, err := c.Delete(ctx, key); err != nil {
			c.log.Warn("expired cache entry not removed", "cache_key", key, "error", err)
		}
		return nil, false, nil
	}
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, redisEntryKey(key), redisFieldHits, 1)
	pipe.HSet(ctx, redisEntryKey(key), redisFieldLastHit, now.UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("cache hit not recorded", "cache_key", key, "error", err)
	}
	return json.RawMessage(fields[redisFieldValue]), true, nil
}

func (c *redisLookupCache) Set(ctx context.Context, key string, source types.CacheSource, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("lookup cache: ttl must be positive")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("lookup cache: encode value: %w", err)
	}
	now := c.now()
	expires := now.Add(ttl)
	ek := redisEntryKey(key)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, ek)
	pipe.HSet(ctx, ek,
		redisFieldValue, string(raw),
		redisFieldSource, string(source),
		redisFieldExpires, expires.UnixMilli(),
		redisFieldHits, 0,
		redisFieldCreated, now.UnixMilli(),
	)
	pipe.PExpireAt(ctx, ek, expires)
	pipe.SAdd(ctx, redisSourceKey(source), key)
	pipe.SAdd(ctx, redisSourcesKey, string(source))
	_, err = pipe.Exec(ctx)
	return err
}

func (c *redisLookupCache) Delete(ctx context.Context, key string) (bool, error) {
	ek := redisEntryKey(key)
	src, err := c.rdb.HGet(ctx, ek, redisFieldSource).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	n, err := c.rdb.Del(ctx, ek).Result()
	if err != nil {
		return false, err
	}
	if src != "" {
		c.rdb.SRem(ctx, redisSourceKey(types.CacheSource(src)), key)
	}
	return n > 0, nil
}

func (c *redisLookupCache) ClearSource(ctx context.Context, source types.CacheSource) (int64, error) {
	members, err := c.rdb.SMembers(ctx, redisSourceKey(source)).Result()
	if err != nil {
		return 0, err
	}
	var deleted int64
	if len(members) > 0 {
		keys := make([]string, 0, len(members))
		for _, m := range members {
			keys = append(keys, redisEntryKey(m))
		}
		deleted, err = c.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return 0, err
		}
	}
	if err := c.rdb.Del(ctx, redisSourceKey(source)).Err(); err != nil {
		return deleted, err
	}
	c.rdb.SRem(ctx, redisSourcesKey, string(source))
	c.log.Info("lookup cache source cleared", "source", source, "deleted", deleted)
	return deleted, nil
}

// CleanupExpired drops index members whose entry Redis has already expired.
func (c *redisLookupCache) CleanupExpired(ctx context.Context) (int64, error) {
	sources, err := c.rdb.SMembers(ctx, redisSourcesKey).Result()
	if err != nil {
		return 0, err
	}
	var pruned int64
	for _, src := range sources {
		members, err := c.rdb.SMembers(ctx, redisSourceKey(types.CacheSource(src))).Result()
		if err != nil {
			return pruned, err
		}
		stale, err := c.missing(ctx, members)
		if err != nil {
			return pruned, err
		}
		if len(stale) == 0 {
			continue
		}
		args := make([]any, 0, len(stale))
		for _, k := range stale {
			args = append(args, k)
		}
		n, err := c.rdb.SRem(ctx, redisSourceKey(types.CacheSource(src)), args...).Result()
		if err != nil {
			return pruned, err
		}
		pruned += n
	}
	return pruned, nil
}

func (c *redisLookupCache) missing(ctx context.Context, members []string) ([]string, error) {
	if len(members) == 0 {
		return nil, nil
	}
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.Exists(ctx, redisEntryKey(m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	var out []string
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			out = append(out, members[i])
		}
	}
	return out, nil
}

func (c *redisLookupCache) Stats(ctx context.Context) (map[types.CacheSource]CacheStats, error) {
	sources, err := c.rdb.SMembers(ctx, redisSourcesKey).Result()
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := map[types.CacheSource]CacheStats{}
	for _, src := range sources {
		source := types.CacheSource(src)
		members, err := c.rdb.SMembers(ctx, redisSourceKey(source)).Result()
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}
		pipe := c.rdb.Pipeline()
		cmds := make([]*redis.SliceCmd, len(members))
		for i, m := range members {
			cmds[i] = pipe.HMGet(ctx, redisEntryKey(m), redisFieldCreated, redisFieldExpires, redisFieldHits)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		st := CacheStats{}
		for _, cmd := range cmds {
			vals := cmd.Val()
			if len(vals) != 3 || vals[1] == nil {
				continue
			}
			st.observe(millis(vals[0]), millis(vals[1]), intField(vals[2]), now)
		}
		if st.Total == 0 {
			continue
		}
		st.finish()
		out[source] = st
	}
	return out, nil
}

func intField(v any) int64 {
	s, _ := v.(string)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func millis(v any) time.Time {
	n := intField(v)
	if n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
