package forumcache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goforj/forumcache/cachecore"
)

// RedisClient captures the subset of redis.Client used by the driver.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisDriver stores entries in redis with native expiry.
type RedisDriver struct {
	client RedisClient
	base   cachecore.BaseConfig
}

// NewRedisDriver creates a redis driver. The client comes from
// cfg.RedisClient or is dialled from cfg.RedisAddr.
// @group Drivers
//
// Example: redis driver
//
//	cfg := forumcache.DefaultConfig()
//	cfg.RedisAddr = "127.0.0.1:6379"
//	d := forumcache.NewRedisDriver(cfg)
//	fmt.Println(d.IsSupported(ctx))
func NewRedisDriver(cfg Config) *RedisDriver {
	cfg = cfg.withDefaults()
	return &RedisDriver{client: newRedisClientFromConfig(cfg), base: cfg.base()}
}

func (d *RedisDriver) ID() cachecore.DriverID { return cachecore.DriverRedis }

func (d *RedisDriver) IsSupported(ctx context.Context) bool {
	if d.client == nil {
		return false
	}
	return d.client.Ping(ctx).Err() == nil
}

func (d *RedisDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if d.client == nil {
		return nil, false, errClientUnavailable
	}
	value, err := d.client.Get(ctx, d.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (d *RedisDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		return d.Delete(ctx, key)
	}
	if d.client == nil {
		return errClientUnavailable
	}
	if ttl <= 0 {
		ttl = d.base.DefaultTTL
	}
	return d.client.Set(ctx, d.cacheKey(key), value, ttl).Err()
}

func (d *RedisDriver) Delete(ctx context.Context, key string) error {
	if d.client == nil {
		return errClientUnavailable
	}
	return d.client.Del(ctx, d.cacheKey(key)).Err()
}

func (d *RedisDriver) Clear(ctx context.Context, match string) error {
	if d.client == nil {
		return errClientUnavailable
	}
	pattern := escapeRedisGlob(d.cacheKey(match)) + "*"
	var cursor uint64
	for {
		keys, next, err := d.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := d.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (d *RedisDriver) InvalidateCache(context.Context) error {
	return touchBaseSentinel(d.base)
}

func (d *RedisDriver) cacheKey(key string) string {
	return namespacedKey(d.base.Namespace, key)
}

var redisGlobEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeRedisGlob(s string) string {
	return redisGlobEscaper.Replace(s)
}
