package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBackend backs the store with a shared Redis instance, the deployment
// shape for multi-replica buyer apps: every replica sees the same correlation
// state and pub/sub notifications cross process boundaries.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Wrap(b.client.Set(ctx, key, value, ttl).Err(), "redis set")
}

func (b *RedisBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	return ok, errors.Wrap(err, "redis setnx")
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return value, true, nil
}

func (b *RedisBackend) AppendToList(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, value)
	// NX keeps the TTL from the first append; later appends never shorten it.
	pipe.ExpireNX(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "redis rpush")
}

func (b *RedisBackend) GetList(ctx context.Context, key string) ([][]byte, error) {
	values, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis lrange")
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (b *RedisBackend) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan")
	}
	return keys, nil
}

func (b *RedisBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.Wrap(b.client.Publish(ctx, channel, payload).Err(), "redis publish")
}

func (b *RedisBackend) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	var once sync.Once
	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
