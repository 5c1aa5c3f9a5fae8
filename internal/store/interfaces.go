// Package store defines the key-value, set, hash and pub/sub primitives the
// stream core needs from its backing store. Implementations live in the
// redisstore and memstore subpackages.
package store

import (
	"context"
	"time"
)

// Message is one frame received from a pub/sub subscription.
type Message struct {
	Channel string
	Payload string
}

// PubSub is a live subscription handle over a dynamic set of channels.
type PubSub interface {
	// Subscribe adds channels to the subscription. Idempotent.
	Subscribe(ctx context.Context, channels ...string) error
	// Unsubscribe removes channels from the subscription. Idempotent.
	Unsubscribe(ctx context.Context, channels ...string) error
	// Channel returns the stream of incoming messages. It is closed when
	// the handle is closed.
	Channel() <-chan Message
	// Close unsubscribes from everything and releases the native
	// connection. Safe to call multiple times.
	Close() error
}

// Store is the backing-store contract. Individual operations are atomic;
// sequences of operations are not transactional.
type Store interface {
	// Get returns the string value at key, or a not-found error.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent; reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr atomically increments the integer at key, creating it at 0.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire resets the TTL on key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HLen(ctx context.Context, key string) (int64, error)

	// Scan returns the keys matching a glob-style pattern. Intended for
	// low-frequency maintenance sweeps, not hot paths.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Publish broadcasts payload on channel to current subscribers only.
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe opens a new pub/sub handle with no channels yet.
	Subscribe(ctx context.Context) (PubSub, error)

	// Ping checks reachability.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}
