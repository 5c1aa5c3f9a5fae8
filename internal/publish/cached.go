package publish

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/nodemesh/streamgate/internal/stream"
)

// CachedPublisher suppresses broadcasts whose payload is structurally
// identical to the last one published for the same (objectType, objectId)
// pair. This is an optimization for chatty producers, never a correctness
// guarantee: the cache is process-local and grows for the process lifetime.
type CachedPublisher struct {
	*Publisher

	mu   sync.Mutex
	last map[string]string
}

// NewCached wraps a publisher with the de-duplication cache.
func NewCached(p *Publisher) *CachedPublisher {
	return &CachedPublisher{Publisher: p, last: make(map[string]string)}
}

// Publish behaves like Publisher.Publish but skips the append and broadcast
// entirely when the canonical payload matches the previous publish for the
// event's object key. Events without an object id are never de-duplicated.
func (c *CachedPublisher) Publish(ctx context.Context, streamName string, event stream.Event, opts Options) (stream.Event, error) {
	payload, err := event.Serialize()
	if err != nil {
		return event, err
	}

	key := objectKey(event.ObjectType, event.ObjectID)
	if key != "" && c.seen(key, payload) {
		if c.metrics != nil {
			c.metrics.PublishSkipped.Inc()
		}
		return event, nil
	}

	if err := c.PublishRaw(ctx, streamName, payload, opts); err != nil {
		return event, err
	}
	if key != "" {
		c.remember(key, payload)
	}
	return event, nil
}

// PublishRawCached applies the same suppression to pre-serialized payloads,
// deriving the object key from the payload's objectType/objectId fields.
func (c *CachedPublisher) PublishRawCached(ctx context.Context, streamName, payload string, opts Options) error {
	var key string
	objectType := gjson.Get(payload, "objectType")
	objectID := gjson.Get(payload, "objectId")
	if objectType.Exists() && objectID.Exists() {
		key = objectKey(objectType.String(), objectID.Value())
	}

	if key != "" && c.seen(key, payload) {
		if c.metrics != nil {
			c.metrics.PublishSkipped.Inc()
		}
		return nil
	}
	if err := c.PublishRaw(ctx, streamName, payload, opts); err != nil {
		return err
	}
	if key != "" {
		c.remember(key, payload)
	}
	return nil
}

func (c *CachedPublisher) seen(key, payload string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[key] == payload
}

func (c *CachedPublisher) remember(key, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = payload
}

func objectKey(objectType string, objectID interface{}) string {
	if objectType == "" || objectID == nil {
		return ""
	}
	return fmt.Sprintf("%s/%v", objectType, objectID)
}
