package snapshot

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps blobs under KeyPrefix+key and an index sorted set per
// scope. Members share score 0 so ZRANGE returns them in key order.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisBackend(addr, password string, db int, keyPrefix string) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		keyPrefix: keyPrefix,
	}
}

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) indexKey(key string) string {
	scope := key[:strings.LastIndex(key, "/")+1]
	return r.keyPrefix + "index:" + scope
}

func (r *RedisBackend) Put(ctx context.Context, key string, b []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.keyPrefix+key, b, 0)
		pipe.ZAdd(ctx, r.indexKey(key), redis.Z{Score: 0, Member: key})
		return nil
	})
	return err
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return r.client.ZRange(ctx, r.keyPrefix+"index:"+prefix, 0, -1).Result()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.keyPrefix+key)
		pipe.ZRem(ctx, r.indexKey(key), key)
		return nil
	})
	return err
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
