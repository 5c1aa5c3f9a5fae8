// Package memstore provides an in-process Store implementation used by
// tests and single-node development mode. Semantics mirror the Redis
// implementation: per-key expiry, atomic increments, fan-out pub/sub with
// at-most-once delivery to currently-subscribed handles.
package memstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/store"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu      sync.Mutex
	strings map[string]entry
	sets    map[string]map[string]bool
	hashes  map[string]map[string]string
	subs    map[*pubsub]bool
	closed  bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		strings: make(map[string]entry),
		sets:    make(map[string]map[string]bool),
		hashes:  make(map[string]map[string]string),
		subs:    make(map[*pubsub]bool),
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.strings[key]
	if !ok || e.expired(time.Now()) {
		delete(s.strings, key)
		return "", errors.NotFound("key not found").WithDetails("key", key)
	}
	return e.value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.strings[key] = entry{value: value, expiresAt: expires}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.strings[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.strings[key] = entry{value: value, expiresAt: expires}
	return true, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e, ok := s.strings[key]; ok && !e.expired(time.Now()) {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, errors.Internal("value is not an integer", err).WithDetails("key", key)
		}
		current = n
	}
	current++
	prev := s.strings[key]
	s.strings[key] = entry{value: strconv.FormatInt(current, 10), expiresAt: prev.expiresAt}
	return current, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.strings[key]; ok && !e.expired(time.Now()) {
		e.expiresAt = time.Now().Add(ttl)
		s.strings[key] = e
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.strings, key)
		delete(s.sets, key)
		delete(s.hashes, key)
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]bool)
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = true
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sets[key][member], nil
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	hash[field] = value
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.hashes[key][field]
	if !ok {
		return "", errors.NotFound("hash field not found").WithDetails("key", key).WithDetails("field", field)
	}
	return value, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(hash, f)
	}
	if len(hash) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	var current int64
	if v, ok := hash[field]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.Internal("hash field is not an integer", err).WithDetails("key", key)
		}
		current = n
	}
	current += delta
	hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.hashes[key])), nil
}

func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var keys []string
	for key, e := range s.strings {
		if !e.expired(now) && matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	for key := range s.sets {
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	for key := range s.hashes {
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// matchPattern implements the glob subset Redis SCAN supports that the
// registry actually uses: literal text with '*' wildcards.
func matchPattern(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	s.mu.Lock()
	subs := make([]*pubsub, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(channel, payload)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context) (store.PubSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Transient("store closed", nil)
	}
	sub := &pubsub{
		parent:   s,
		channels: make(map[string]bool),
		ch:       make(chan store.Message, 256),
	}
	s.subs[sub] = true
	return sub, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Transient("store closed", nil)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*pubsub, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (s *Store) dropSub(sub *pubsub) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// pubsub is an in-memory subscription handle. Messages for channels the
// handle is not subscribed to are filtered at delivery time. A full buffer
// drops the message, matching the at-most-once live broadcast contract.
type pubsub struct {
	parent *Store

	mu       sync.Mutex
	channels map[string]bool
	closed   bool
	ch       chan store.Message
}

func (p *pubsub) Subscribe(ctx context.Context, channels ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.Transient("subscription closed", nil)
	}
	for _, c := range channels {
		p.channels[c] = true
	}
	return nil
}

func (p *pubsub) Unsubscribe(ctx context.Context, channels ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range channels {
		delete(p.channels, c)
	}
	return nil
}

func (p *pubsub) Channel() <-chan store.Message {
	return p.ch
}

func (p *pubsub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.channels = make(map[string]bool)
	close(p.ch)
	p.mu.Unlock()

	p.parent.dropSub(p)
	return nil
}

func (p *pubsub) deliver(channel, payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || !p.channels[channel] {
		return
	}
	select {
	case p.ch <- store.Message{Channel: channel, Payload: payload}:
	default:
	}
}
