package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps values in Redis under "<KeyPrefix>:<key>" with a TTL, so
// abandoned buffers eventually expire on their own.
type RedisStore struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`

	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var redisStoreMetrics = []metrics.Metadata{
	{Name: "store_redis_reads", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of values read from Redis"},
	{Name: "store_redis_writes", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of values written to Redis"},
	{Name: "store_redis_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of failed Redis commands"},
}

func (r *RedisStore) Start() error {
	cfg := r.Config.GetStoreConfig()

	r.client = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       []string{cfg.RedisHost},
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDatabase,
		DialTimeout: time.Duration(cfg.Timeout),
	})
	r.prefix = cfg.KeyPrefix
	r.ttl = time.Duration(cfg.TTL)

	for _, metric := range redisStoreMetrics {
		r.Metrics.Register(metric)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeout))
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisHost, err)
	}
	r.Logger.Info().WithString("host", cfg.RedisHost).Logf("Using Redis store")
	return nil
}

func (r *RedisStore) Stop() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *RedisStore) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		r.Metrics.Increment("store_redis_errors")
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	r.Metrics.Increment("store_redis_reads")
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		r.Metrics.Increment("store_redis_errors")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	r.Metrics.Increment("store_redis_writes")
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.Metrics.Increment("store_redis_errors")
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
