// Package subscribe provides the per-connection subscription handle over
// the store's native pub/sub transport.
package subscribe

import (
	"context"
	"sort"
	"sync"

	"github.com/nodemesh/streamgate/internal/store"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// Message is one decoded frame from a subscribed stream.
type Message = store.Message

// Subscriber owns one native pub/sub connection and a dynamic set of
// stream names. The connection loop selects on Messages() together with
// its socket reads; the channel closes when the subscriber is closed.
type Subscriber struct {
	pubsub store.PubSub
	logger *logger.Logger

	mu      sync.Mutex
	streams map[string]bool
	closed  bool
}

// New opens a subscriber with no subscriptions yet.
func New(ctx context.Context, st store.Store, lg *logger.Logger) (*Subscriber, error) {
	if lg == nil {
		lg = logger.NewDefault("subscriber")
	}
	pubsub, err := st.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return &Subscriber{pubsub: pubsub, logger: lg, streams: make(map[string]bool)}, nil
}

// Subscribe adds a stream to the subscription set. Idempotent.
func (s *Subscriber) Subscribe(ctx context.Context, streamName string) error {
	s.mu.Lock()
	if s.closed || s.streams[streamName] {
		s.mu.Unlock()
		return nil
	}
	s.streams[streamName] = true
	s.mu.Unlock()

	if err := s.pubsub.Subscribe(ctx, streamName); err != nil {
		s.mu.Lock()
		delete(s.streams, streamName)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe removes a stream from the subscription set. Idempotent.
func (s *Subscriber) Unsubscribe(ctx context.Context, streamName string) error {
	s.mu.Lock()
	if s.closed || !s.streams[streamName] {
		s.mu.Unlock()
		return nil
	}
	delete(s.streams, streamName)
	s.mu.Unlock()

	return s.pubsub.Unsubscribe(ctx, streamName)
}

// Subscribed reports whether the stream is currently in the set.
func (s *Subscriber) Subscribed(streamName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[streamName]
}

// Streams returns the current subscription set in sorted order.
func (s *Subscriber) Streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.streams))
	for name := range s.streams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Messages returns the lazy, infinite sequence of incoming frames. Frames
// for streams that were unsubscribed after the frame was in flight are
// filtered out by the caller's subscription check, not here.
func (s *Subscriber) Messages() <-chan Message {
	return s.pubsub.Channel()
}

// Close unsubscribes from everything and releases the native connection.
// Safe to call multiple times.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.streams = make(map[string]bool)
	s.mu.Unlock()

	if err := s.pubsub.Close(); err != nil {
		s.logger.WithError(err).Warn("close pubsub connection")
		return err
	}
	return nil
}
