// Package streamlog implements the durable per-stream append log with
// bounded retention. Sequence ids come from an atomic per-stream counter in
// the backing store, so appends are safe across processes.
package streamlog

import (
	"context"
	"strconv"
	"time"

	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/store"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// DefaultTTL bounds how long log entries are retained for replay.
const DefaultTTL = 5 * time.Hour

// Entry is one persisted log record.
type Entry struct {
	Stream   string
	Sequence int64
	Payload  string
}

// Log appends wire payloads to per-stream ordered storage and broadcasts
// live messages on the matching pub/sub channel.
type Log struct {
	store store.Store
	log   *logger.Logger
	ttl   time.Duration
}

// New creates a stream log on the given store with DefaultTTL retention.
func New(st store.Store, log *logger.Logger) *Log {
	if log == nil {
		log = logger.NewDefault("streamlog")
	}
	return &Log{store: st, log: log, ttl: DefaultTTL}
}

// SetRetention changes the TTL applied to appends that do not specify one.
// Non-positive values are ignored.
func (l *Log) SetRetention(ttl time.Duration) {
	if ttl > 0 {
		l.ttl = ttl
	}
}

func counterKey(stream string) string {
	return "meta-" + stream + "-id-counter"
}

func entryKey(stream string, seq int64) string {
	return "meta-" + stream + "-msg-id-" + strconv.FormatInt(seq, 10)
}

// Append stores payload under the next sequence id for stream with the
// given TTL and returns the id. A zero ttl means the log's configured
// retention.
func (l *Log) Append(ctx context.Context, stream, payload string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		ttl = l.ttl
	}

	seq, err := l.store.Incr(ctx, counterKey(stream))
	if err != nil {
		return 0, errors.Transient("increment stream counter", err).WithDetails("stream", stream)
	}
	if err := l.store.Set(ctx, entryKey(stream, seq), payload, ttl); err != nil {
		return 0, errors.Transient("store log entry", err).WithDetails("stream", stream)
	}
	return seq, nil
}

// Broadcast publishes a raw wire message on the channel named after the
// stream. Delivery is at-most-once to currently-subscribed listeners.
func (l *Log) Broadcast(ctx context.Context, stream, wire string) error {
	if err := l.store.Publish(ctx, stream, wire); err != nil {
		return errors.Transient("broadcast", err).WithDetails("stream", stream)
	}
	return nil
}

// LastID returns the most recently assigned sequence id for stream, or 0
// when nothing has been published.
func (l *Log) LastID(ctx context.Context, stream string) (int64, error) {
	value, err := l.store.Get(ctx, counterKey(stream))
	if errors.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseSeq(value)
}

// Entry fetches a single log entry by sequence id. Expired or never-written
// entries yield a not-found error.
func (l *Log) Entry(ctx context.Context, stream string, seq int64) (Entry, error) {
	payload, err := l.store.Get(ctx, entryKey(stream, seq))
	if err != nil {
		return Entry{}, err
	}
	return Entry{Stream: stream, Sequence: seq, Payload: payload}, nil
}

// Backlog returns retained entries with sequence id greater than fromSeq,
// in id order, up to the current counter. Gaps from expired entries are
// skipped. Used by clients that detect a missed broadcast.
func (l *Log) Backlog(ctx context.Context, stream string, fromSeq int64) ([]Entry, error) {
	last, err := l.LastID(ctx, stream)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for seq := fromSeq + 1; seq <= last; seq++ {
		entry, err := l.Entry(ctx, stream, seq)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func parseSeq(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Internal("malformed sequence counter", err).WithDetails("value", value)
	}
	return n, nil
}
