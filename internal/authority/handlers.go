package authority

import (
	"strconv"
	"strings"
)

// Membership answers whether a user belongs to a domain entity. Lookups
// must be in-memory or registry-backed; the subscription check sits on the
// connection hot path and cannot afford database round trips.
type Membership interface {
	IsMember(userID, entityID int64) bool
}

// MembershipFunc adapts a function to the Membership interface.
type MembershipFunc func(userID, entityID int64) bool

func (f MembershipFunc) IsMember(userID, entityID int64) bool { return f(userID, entityID) }

// ThreadHandler gates "thread-<id>-events" streams on chat-thread
// membership. Guests are always denied.
type ThreadHandler struct {
	Members Membership
}

func (h ThreadHandler) MatchesStream(name string) bool {
	return strings.HasPrefix(name, "thread-") && strings.HasSuffix(name, "-events")
}

func (h ThreadHandler) GuestCanSubscribe(name string) (bool, string) {
	return false, "thread streams require authentication"
}

func (h ThreadHandler) CanSubscribe(p *Principal, name string) (bool, string) {
	id, ok := threadID(name)
	if !ok {
		return false, "malformed thread stream"
	}
	if h.Members != nil && h.Members.IsMember(p.ID, id) {
		return true, ""
	}
	return false, "not a thread participant"
}

func threadID(name string) (int64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "thread-"), "-events")
	id, err := strconv.ParseInt(trimmed, 10, 64)
	return id, err == nil
}

// ForumHandler gates "forum-<id>" streams. Public forums are readable by
// guests; private forums require membership.
type ForumHandler struct {
	Members Membership
	// Public reports whether the forum is world-readable.
	Public func(forumID int64) bool
}

func (h ForumHandler) MatchesStream(name string) bool {
	if !strings.HasPrefix(name, "forum-") {
		return false
	}
	_, ok := forumID(name)
	return ok
}

func (h ForumHandler) GuestCanSubscribe(name string) (bool, string) {
	id, ok := forumID(name)
	if !ok {
		return false, "malformed forum stream"
	}
	if h.Public != nil && h.Public(id) {
		return true, ""
	}
	return false, "forum is not public"
}

func (h ForumHandler) CanSubscribe(p *Principal, name string) (bool, string) {
	id, ok := forumID(name)
	if !ok {
		return false, "malformed forum stream"
	}
	if h.Public != nil && h.Public(id) {
		return true, ""
	}
	if h.Members != nil && h.Members.IsMember(p.ID, id) {
		return true, ""
	}
	return false, "not a forum member"
}

func forumID(name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(name, "forum-"), 10, 64)
	return id, err == nil
}
