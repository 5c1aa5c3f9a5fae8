// Package publish provides the producer-facing API of the stream core.
package publish

import (
	"context"
	"time"

	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/metrics"
	"github.com/nodemesh/streamgate/internal/stream"
	"github.com/nodemesh/streamgate/internal/streamlog"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// Options control a single publish call. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	// Persist appends the payload to the stream log and tags the wire
	// message with its sequence id.
	Persist bool
	// TTL bounds log retention; zero means the log default.
	TTL time.Duration
}

// DefaultOptions returns the standard persist-with-default-TTL options.
func DefaultOptions() Options {
	return Options{Persist: true}
}

// Publisher serializes events to their canonical wire form, appends them to
// the log and broadcasts them. Publish failures are returned to the caller,
// never retried internally.
type Publisher struct {
	log     *streamlog.Log
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// New creates a publisher on the given log. metrics may be nil.
func New(log *streamlog.Log, m *metrics.Metrics, lg *logger.Logger) *Publisher {
	if lg == nil {
		lg = logger.NewDefault("publisher")
	}
	return &Publisher{log: log, logger: lg, metrics: m}
}

// Publish serializes event, persists it per opts and broadcasts the wire
// message on streamName. It returns the original event so callers can
// compose further fan-outs.
func (p *Publisher) Publish(ctx context.Context, streamName string, event stream.Event, opts Options) (stream.Event, error) {
	if !stream.ValidName(streamName) {
		return event, errors.Protocol("invalid stream name").WithDetails("stream", streamName)
	}

	payload, err := event.Serialize()
	if err != nil {
		return event, err
	}
	if err := p.PublishRaw(ctx, streamName, payload, opts); err != nil {
		return event, err
	}
	return event, nil
}

// PublishRaw publishes an already-serialized payload.
func (p *Publisher) PublishRaw(ctx context.Context, streamName, payload string, opts Options) error {
	start := time.Now()

	var wire string
	if opts.Persist {
		seq, err := p.log.Append(ctx, streamName, payload, opts.TTL)
		if err != nil {
			p.countError()
			return err
		}
		wire = stream.EncodePersisted(seq, payload)
	} else {
		wire = stream.EncodeVanilla(payload)
	}

	if err := p.log.Broadcast(ctx, streamName, wire); err != nil {
		p.countError()
		return err
	}

	if p.metrics != nil {
		mode := "vanilla"
		if opts.Persist {
			mode = "persisted"
		}
		p.metrics.Published.WithLabelValues(mode).Inc()
		p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

// PublishToAll fans the event out to every stream the object names. Each
// target is an independent publish; there is no atomicity across streams.
// The first error is returned after all targets were attempted.
func (p *Publisher) PublishToAll(ctx context.Context, obj stream.Streamable, event stream.Event, opts Options) (stream.Event, error) {
	var firstErr error
	for _, name := range obj.StreamNames() {
		if _, err := p.Publish(ctx, name, event, opts); err != nil {
			p.logger.WithError(err).WithField("stream", name).Warn("fan-out publish failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return event, firstErr
}

func (p *Publisher) countError() {
	if p.metrics != nil {
		p.metrics.PublishErrors.Inc()
	}
}
