package persist

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisBackend stores documents as plain string keys under a prefix. Keys
// never expire.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisBackend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisBackend connects to the server described by opts.
func NewRedisBackend(opts RedisOptions) *RedisBackend {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "synced:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(name string) string {
	return b.prefix + name
}

func (b *RedisBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persist: redis get %s: %w", key, err)
	}
	return data, true, nil
}

func (b *RedisBackend) Write(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if err := b.client.Set(ctx, b.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("persist: redis set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("persist: redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("persist: redis del %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), b.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("persist: redis scan: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
