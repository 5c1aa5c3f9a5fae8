package streamlog

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/store/memstore"
)

func TestLog_AppendAssignsSequentialIDs(t *testing.T) {
	l := New(memstore.New(), nil)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		seq, err := l.Append(ctx, "forum-7", `{"n":1}`, 0)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if seq != want {
			t.Fatalf("expected seq %d, got %d", want, seq)
		}
	}

	last, err := l.LastID(ctx, "forum-7")
	if err != nil {
		t.Fatalf("last id: %v", err)
	}
	if last != 5 {
		t.Fatalf("expected last id 5, got %d", last)
	}
}

func TestLog_SeparateStreamsSeparateCounters(t *testing.T) {
	l := New(memstore.New(), nil)
	ctx := context.Background()

	if seq, _ := l.Append(ctx, "forum-1", "a", 0); seq != 1 {
		t.Fatalf("expected 1, got %d", seq)
	}
	if seq, _ := l.Append(ctx, "forum-2", "b", 0); seq != 1 {
		t.Fatalf("expected independent counter at 1, got %d", seq)
	}
}

func TestLog_ConfiguredRetention(t *testing.T) {
	l := New(memstore.New(), nil)
	l.SetRetention(10 * time.Millisecond)
	ctx := context.Background()

	if _, err := l.Append(ctx, "forum-1", "a", 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Entry(ctx, "forum-1", 1); err != nil {
		t.Fatalf("entry before expiry: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := l.Entry(ctx, "forum-1", 1); !errors.IsNotFound(err) {
		t.Fatalf("expected entry to expire, got %v", err)
	}
}

func TestLog_EntryAndBacklog(t *testing.T) {
	l := New(memstore.New(), nil)
	ctx := context.Background()

	for _, payload := range []string{"one", "two", "three"} {
		if _, err := l.Append(ctx, "user-42-events", payload, time.Hour); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entry, err := l.Entry(ctx, "user-42-events", 2)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Payload != "two" {
		t.Fatalf("unexpected payload: %q", entry.Payload)
	}

	backlog, err := l.Backlog(ctx, "user-42-events", 1)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(backlog) != 2 || backlog[0].Payload != "two" || backlog[1].Payload != "three" {
		t.Fatalf("unexpected backlog: %#v", backlog)
	}

	if _, err := l.Entry(ctx, "user-42-events", 99); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLog_BroadcastReachesSubscribers(t *testing.T) {
	st := memstore.New()
	l := New(st, nil)
	ctx := context.Background()

	sub, err := st.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if err := sub.Subscribe(ctx, "global-events"); err != nil {
		t.Fatalf("subscribe channel: %v", err)
	}

	if err := l.Broadcast(ctx, "global-events", "v {}"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "global-events" || msg.Payload != "v {}" {
			t.Fatalf("unexpected message: %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

// Sequence ids must be strictly increasing per stream no matter how many
// concurrent publishers race the counter.
func TestLog_MonotonicIDsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)
	properties.Property("concurrent appends assign unique increasing ids", prop.ForAll(
		func(publishers int, perPublisher int) bool {
			l := New(memstore.New(), nil)
			ctx := context.Background()

			var mu sync.Mutex
			var ids []int64
			var wg sync.WaitGroup
			for p := 0; p < publishers; p++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perPublisher; i++ {
						seq, err := l.Append(ctx, "contested", "{}", 0)
						if err != nil {
							return
						}
						mu.Lock()
						ids = append(ids, seq)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if len(ids) != publishers*perPublisher {
				return false
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for i, id := range ids {
				if id != int64(i+1) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 20),
	))
	properties.TestingRun(t)
}
