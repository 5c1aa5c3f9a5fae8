// Package stream defines the event model and the wire format shared by the
// publisher, the log and the connection server.
package stream

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/nodemesh/streamgate/internal/errors"
)

// Well-known stream names and limits.
const (
	// GlobalStream is the stream every connection is subscribed to and
	// every principal may subscribe to.
	GlobalStream = "global-events"
	// MaxNameBytes is the upper bound on stream name length.
	MaxNameBytes = 512
)

// Event types understood by consumers. Type is an open string; producers
// may publish custom types.
const (
	TypeCreate         = "create"
	TypeUpdate         = "update"
	TypeDelete         = "delete"
	TypeUpdateOrCreate = "updateOrCreate"
)

// Event is one JSON-serializable record describing a change to a domain
// entity. Events are immutable once published.
type Event struct {
	// ObjectID identifies the affected entity; nil means absent.
	ObjectID interface{}
	// ObjectType tags the entity kind ("user", "thread", ...).
	ObjectType string
	// Type is one of the Type* constants or a custom verb.
	Type string
	// Data is the event payload; nil serializes as the empty object.
	Data interface{}
	// Extra fields are merged into the wire object alongside the
	// standard keys. Standard keys win on collision.
	Extra map[string]interface{}
}

// Streamable is implemented by domain objects that know which streams
// their events fan out to and how they serialize.
type Streamable interface {
	StreamNames() []string
	WireValue() (interface{}, error)
}

// WireValue returns the event's canonical JSON-compatible form: camelCase
// keys, times as ISO8601 UTC, byte blobs as lowercase hex.
func (e Event) WireValue() map[string]interface{} {
	out := make(map[string]interface{}, 4+len(e.Extra))
	for k, v := range e.Extra {
		out[k] = canonical(v)
	}
	if e.ObjectID != nil {
		out["objectId"] = canonical(e.ObjectID)
	}
	out["objectType"] = e.ObjectType
	out["type"] = e.Type
	if e.Data != nil {
		out["data"] = canonical(e.Data)
	} else {
		out["data"] = map[string]interface{}{}
	}
	return out
}

// Serialize returns the canonical JSON wire string for the event.
func (e Event) Serialize() (string, error) {
	raw, err := json.Marshal(e.WireValue())
	if err != nil {
		return "", errors.Internal("serialize event", err).WithDetails("objectType", e.ObjectType)
	}
	return string(raw), nil
}

// canonical rewrites values into their wire representation: time.Time to
// ISO8601 with a Z suffix, byte slices to lowercase hex, containers
// recursively.
func canonical(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format("2006-01-02T15:04:05.000Z")
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format("2006-01-02T15:04:05.000Z")
	case []byte:
		return hex.EncodeToString(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = canonical(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = canonical(inner)
		}
		return out
	default:
		return v
	}
}

// ValidName reports whether name is a usable stream name.
func ValidName(name string) bool {
	return name != "" && len(name) <= MaxNameBytes
}
