package cachestore

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// RedisStore is the alternate persistent cache tier (SPEC_FULL.md "an
// alternate persistent cache tier"), and also backs the optional
// cross-process BroadcastChannel registry via its Publish method
// (platform.BroadcastPublisher).
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client (cmd/common.go builds one with
// redis.NewClient).
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) redisKey(namespace, key string) string {
	return r.prefix + ":" + namespace + ":" + key
}

func (r *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.redisKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *RedisStore) Put(ctx context.Context, namespace, key string, data []byte) error {
	return r.client.Set(ctx, r.redisKey(namespace, key), data, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	return r.client.Del(ctx, r.redisKey(namespace, key)).Err()
}

func (r *RedisStore) List(ctx context.Context, namespace string) ([]string, error) {
	pattern := r.prefix + ":" + namespace + ":*"
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}
	prefixLen := len(r.prefix) + len(namespace) + 2
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k[prefixLen:]
	}
	return names, nil
}

// Publish implements platform.BroadcastPublisher: a string BroadcastChannel
// post is published on the Redis pub/sub channel <prefix>:broadcast:<name>;
// a message of any other type is dropped.
func (r *RedisStore) Publish(channel string, message interface{}) {
	payload, ok := message.(string)
	if !ok {
		return
	}
	r.client.Publish(context.Background(), r.prefix+":broadcast:"+channel, payload)
}
