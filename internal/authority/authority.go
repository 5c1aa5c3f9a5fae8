// Package authority decides whether a principal may subscribe to a stream.
// Domain modules register handlers for the stream-name patterns they own;
// the core never inspects domain schemas.
package authority

import (
	"strconv"
	"strings"

	"github.com/nodemesh/streamgate/internal/stream"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// Principal is an authenticated user. A nil *Principal is a guest.
type Principal struct {
	ID    int64
	Admin bool
}

// Handler is the capability contract a domain module implements for the
// stream names it owns.
type Handler interface {
	// MatchesStream reports whether this handler owns the stream name.
	MatchesStream(name string) bool
	// GuestCanSubscribe decides for anonymous principals. The string is
	// the denial reason when false.
	GuestCanSubscribe(name string) (bool, string)
	// CanSubscribe decides for authenticated principals.
	CanSubscribe(p *Principal, name string) (bool, string)
}

// Authority evaluates subscription requests against an ordered handler
// list. Handlers are registered once at startup and the list is treated as
// immutable afterwards; first match wins, so registration order is part of
// the observable contract.
type Authority struct {
	handlers []Handler
	logger   *logger.Logger
}

// New creates an authority with the given handlers in evaluation order.
func New(lg *logger.Logger, handlers ...Handler) *Authority {
	if lg == nil {
		lg = logger.NewDefault("authority")
	}
	return &Authority{handlers: handlers, logger: lg}
}

// CanSubscribe decides whether p (nil for guests) may subscribe to
// streamName, returning the denial reason when not.
//
// Decision order: over-length names are denied; the global stream is open
// to everyone; admins may subscribe to anything; a user's own
// "user-<id>-..." streams are theirs; otherwise the first handler matching
// the name decides; no match denies.
func (a *Authority) CanSubscribe(p *Principal, streamName string) (bool, string) {
	if len(streamName) > stream.MaxNameBytes {
		return false, "stream name too long"
	}
	if streamName == stream.GlobalStream {
		return true, ""
	}

	if p == nil {
		return a.guestSubscribe(streamName)
	}
	if p.Admin {
		return true, ""
	}
	if strings.HasPrefix(streamName, "user-"+strconv.FormatInt(p.ID, 10)+"-") {
		return true, ""
	}

	for _, h := range a.handlers {
		if h.MatchesStream(streamName) {
			return h.CanSubscribe(p, streamName)
		}
	}
	return false, "no matching stream"
}

func (a *Authority) guestSubscribe(streamName string) (bool, string) {
	for _, h := range a.handlers {
		if h.MatchesStream(streamName) {
			return h.GuestCanSubscribe(streamName)
		}
	}
	return false, "no matching stream"
}
