package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
)

// Redis keeps one hash per namespace at prefix+namespace.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.StoreConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	r := NewRedisClient(client, cfg.Prefix, cfg.Timeout)

	pingCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis PING %s: %w", cfg.RedisAddr, err)
	}
	return r, nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client, prefix string, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	return &Redis{client: client, prefix: prefix, timeout: timeout}
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) hash(namespace string) string {
	return r.prefix + namespace
}

func (r *Redis) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if err := checkNames(namespace, key); err != nil {
		return nil, false, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.HGet(ctx, r.hash(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis HGET %s %s: %w", r.hash(namespace), key, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := checkNames(namespace, key); err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.HSet(ctx, r.hash(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("redis HSET %s %s: %w", r.hash(namespace), key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	if err := checkNames(namespace, key); err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.HDel(ctx, r.hash(namespace), key).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s %s: %w", r.hash(namespace), key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := checkNames(namespace); err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	keys, err := r.client.HKeys(ctx, r.hash(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HKEYS %s: %w", r.hash(namespace), err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
