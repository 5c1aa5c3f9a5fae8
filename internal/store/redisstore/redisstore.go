// Package redisstore implements the store contract on Redis. Every
// operation maps to a single Redis command so the atomicity guarantees are
// Redis's own (INCR, SETNX, hash and set operations).
package redisstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/store"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Store is the Redis-backed implementation of store.Store.
type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies reachability.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Transient("redis unreachable", err).WithDetails("addr", cfg.Addr)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client, used by tests.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == redis.Nil {
		return errors.NotFound("key not found")
	}
	return errors.Transient(op+" failed", err)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	return value, wrap("get", err)
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("set", s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap("setnx", err)
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, wrap("incr", err)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire", s.client.Expire(ctx, key, ttl).Err())
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("del", s.client.Del(ctx, keys...).Err())
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap("sadd", s.client.SAdd(ctx, key, args...).Err())
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap("srem", s.client.SRem(ctx, key, args...).Err())
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	return members, wrap("smembers", err)
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	return ok, wrap("sismember", err)
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	return wrap("hset", s.client.HSet(ctx, key, field, value).Err())
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := s.client.HGet(ctx, key, field).Result()
	return value, wrap("hget", err)
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return wrap("hdel", s.client.HDel(ctx, key, fields...).Err())
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, key).Result()
	return values, wrap("hgetall", err)
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	return n, wrap("hincrby", err)
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	return n, wrap("hlen", err)
}

func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return keys, errors.Transient("scan failed", err)
	}
	return keys, nil
}

func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	return wrap("publish", s.client.Publish(ctx, channel, payload).Err())
}

func (s *Store) Subscribe(ctx context.Context) (store.PubSub, error) {
	// go-redis requires at least one channel at subscribe time; the handle
	// starts on an internal channel nothing publishes to.
	native := s.client.Subscribe(ctx, sentinelChannel)
	p := &pubsub{native: native, out: make(chan store.Message, 256)}
	go p.pump()
	return p, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}

const sentinelChannel = "streamgate-internal-noop"

// pubsub adapts redis.PubSub to the store contract, translating native
// frames into plain messages and dropping control frames.
type pubsub struct {
	native *redis.PubSub
	out    chan store.Message
}

func (p *pubsub) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return wrap("subscribe", p.native.Subscribe(ctx, channels...))
}

func (p *pubsub) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return wrap("unsubscribe", p.native.Unsubscribe(ctx, channels...))
}

func (p *pubsub) Channel() <-chan store.Message {
	return p.out
}

func (p *pubsub) Close() error {
	return p.native.Close()
}

func (p *pubsub) pump() {
	defer close(p.out)
	for msg := range p.native.Channel() {
		if msg.Channel == sentinelChannel {
			continue
		}
		p.out <- store.Message{Channel: msg.Channel, Payload: msg.Payload}
	}
}
