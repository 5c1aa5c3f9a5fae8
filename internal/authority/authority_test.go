package authority

import (
	"strings"
	"testing"

	"github.com/nodemesh/streamgate/internal/stream"
)

func TestAuthority_GlobalStreamAlwaysAllowed(t *testing.T) {
	a := New(nil)

	if ok, _ := a.CanSubscribe(nil, stream.GlobalStream); !ok {
		t.Fatal("guest must be allowed on the global stream")
	}
	if ok, _ := a.CanSubscribe(&Principal{ID: 7}, stream.GlobalStream); !ok {
		t.Fatal("user must be allowed on the global stream")
	}
}

func TestAuthority_OverlongNameDenied(t *testing.T) {
	a := New(nil)
	name := strings.Repeat("x", stream.MaxNameBytes+1)
	if ok, reason := a.CanSubscribe(&Principal{ID: 1, Admin: true}, name); ok || reason == "" {
		t.Fatal("over-length names must be denied even for admins")
	}
}

func TestAuthority_AdminAllowedAnywhere(t *testing.T) {
	a := New(nil)
	if ok, _ := a.CanSubscribe(&Principal{ID: 1, Admin: true}, "thread-55-events"); !ok {
		t.Fatal("admin must be allowed")
	}
}

func TestAuthority_OwnUserStream(t *testing.T) {
	a := New(nil)

	if ok, _ := a.CanSubscribe(&Principal{ID: 42}, "user-42-events"); !ok {
		t.Fatal("user must reach their own stream")
	}
	if ok, _ := a.CanSubscribe(&Principal{ID: 42}, "user-43-events"); ok {
		t.Fatal("user must not reach another user's stream")
	}
	if ok, reason := a.CanSubscribe(nil, "user-42-events"); ok || reason == "" {
		t.Fatal("guest must be denied on user streams with a reason")
	}
}

func TestAuthority_NoMatchingStream(t *testing.T) {
	a := New(nil)
	if ok, reason := a.CanSubscribe(&Principal{ID: 9}, "mystery-stream"); ok || reason != "no matching stream" {
		t.Fatalf("expected no-matching-stream denial, got ok=%v reason=%q", ok, reason)
	}
}

type openHandler struct{ prefix string }

func (h openHandler) MatchesStream(name string) bool          { return strings.HasPrefix(name, h.prefix) }
func (h openHandler) GuestCanSubscribe(string) (bool, string) { return true, "" }
func (h openHandler) CanSubscribe(*Principal, string) (bool, string) {
	return true, ""
}

type closedHandler struct{ prefix string }

func (h closedHandler) MatchesStream(name string) bool { return strings.HasPrefix(name, h.prefix) }
func (h closedHandler) GuestCanSubscribe(string) (bool, string) {
	return false, "closed"
}
func (h closedHandler) CanSubscribe(*Principal, string) (bool, string) {
	return false, "closed"
}

func TestAuthority_FirstMatchWins(t *testing.T) {
	// Both handlers match; registration order decides.
	a := New(nil, closedHandler{prefix: "room-"}, openHandler{prefix: "room-"})
	if ok, reason := a.CanSubscribe(&Principal{ID: 1}, "room-1"); ok || reason != "closed" {
		t.Fatalf("first registered handler must win, got ok=%v reason=%q", ok, reason)
	}

	b := New(nil, openHandler{prefix: "room-"}, closedHandler{prefix: "room-"})
	if ok, _ := b.CanSubscribe(&Principal{ID: 1}, "room-1"); !ok {
		t.Fatal("first registered handler must win")
	}
}

func TestThreadHandler(t *testing.T) {
	h := ThreadHandler{Members: MembershipFunc(func(userID, threadID int64) bool {
		return userID == 42 && threadID == 7
	})}
	a := New(nil, h)

	if ok, _ := a.CanSubscribe(&Principal{ID: 42}, "thread-7-events"); !ok {
		t.Fatal("participant must be allowed")
	}
	if ok, _ := a.CanSubscribe(&Principal{ID: 43}, "thread-7-events"); ok {
		t.Fatal("non-participant must be denied")
	}
	if ok, reason := a.CanSubscribe(nil, "thread-7-events"); ok || reason == "" {
		t.Fatal("guests must be denied on thread streams")
	}
}

func TestForumHandler(t *testing.T) {
	h := ForumHandler{
		Members: MembershipFunc(func(userID, forumID int64) bool { return userID == 5 }),
		Public:  func(forumID int64) bool { return forumID == 1 },
	}
	a := New(nil, h)

	if ok, _ := a.CanSubscribe(nil, "forum-1"); !ok {
		t.Fatal("guest must reach public forum")
	}
	if ok, _ := a.CanSubscribe(nil, "forum-2"); ok {
		t.Fatal("guest must not reach private forum")
	}
	if ok, _ := a.CanSubscribe(&Principal{ID: 5}, "forum-2"); !ok {
		t.Fatal("member must reach private forum")
	}
	if ok, _ := a.CanSubscribe(&Principal{ID: 6}, "forum-2"); ok {
		t.Fatal("non-member must be denied")
	}
}
