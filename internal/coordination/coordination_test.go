package coordination

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nodemesh/streamgate/internal/store/memstore"
)

func TestMutex_ExactlyOneWinner(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	a := NewMutex(st, "gc", time.Minute)
	b := NewMutex(st, "gc", time.Minute)

	okA, err := a.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	okB, err := b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if okA == okB {
		t.Fatalf("exactly one must win, got a=%v b=%v", okA, okB)
	}
}

func TestMutex_ReentrantForSameOwner(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	m := NewMutex(st, "gc", time.Minute)
	for i := 0; i < 2; i++ {
		ok, err := m.TryAcquire(ctx)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
}

func TestMutex_ExpiryFreesLock(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	a := NewMutex(st, "gc", 30*time.Millisecond)
	b := NewMutex(st, "gc", 30*time.Millisecond)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("a must acquire")
	}
	if ok, _ := b.TryAcquire(ctx); ok {
		t.Fatal("b must not acquire while a holds")
	}

	// Without renewal the TTL lapses and b eventually wins.
	deadline := time.Now().Add(time.Second)
	for {
		if ok, _ := b.TryAcquire(ctx); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("b never acquired after TTL expiry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMutex_ReleaseFreesLock(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	a := NewMutex(st, "gc", time.Minute)
	b := NewMutex(st, "gc", time.Minute)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("a must acquire")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.TryAcquire(ctx); !ok {
		t.Fatal("b must acquire after release")
	}
}

func TestKeeper_RenewsHeldLocks(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	m := NewMutex(st, "gc", 80*time.Millisecond)
	if ok, _ := m.TryAcquire(ctx); !ok {
		t.Fatal("acquire")
	}

	k := NewKeeper(nil)
	k.interval = 20 * time.Millisecond
	k.Track(m)
	if err := k.Start(ctx); err != nil {
		t.Fatalf("start keeper: %v", err)
	}
	defer k.Stop(context.Background())

	time.Sleep(200 * time.Millisecond)

	// Lock outlived its TTL thanks to renewal.
	other := NewMutex(st, "gc", 80*time.Millisecond)
	if ok, _ := other.TryAcquire(ctx); ok {
		t.Fatal("renewed lock must still be held")
	}
}

func TestScheduledJob_RespectsNextRun(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	job := NewScheduledJob(st, "sweep", time.Hour)
	ok, err := job.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if err := job.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Schedule now points one interval ahead; a second acquire must fail
	// even though the mutex is free.
	again := NewScheduledJob(st, "sweep", time.Hour)
	if ok, _ := again.TryAcquire(ctx); ok {
		t.Fatal("acquire before next-run time must fail")
	}
}

func TestScheduledJob_SkipsMissedTicks(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	base := time.Now()
	job := NewScheduledJob(st, "sweep", time.Minute)
	job.now = func() time.Time { return base }

	if ok, _ := job.TryAcquire(ctx); !ok {
		t.Fatal("acquire")
	}
	if err := job.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Jump 10 intervals ahead: one run happens, then the schedule lands
	// on the next future tick instead of queueing nine catch-up runs.
	job.now = func() time.Time { return base.Add(10*time.Minute + time.Second) }
	if ok, _ := job.TryAcquire(ctx); !ok {
		t.Fatal("acquire after gap")
	}
	if err := job.Release(ctx); err != nil {
		t.Fatalf("release after gap: %v", err)
	}

	next, err := job.nextRun(ctx)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if !next.After(job.now()) {
		t.Fatalf("next run %v must be in the future of %v", next, job.now())
	}
	if next.Sub(job.now()) > time.Minute {
		t.Fatalf("next run %v must be within one interval", next)
	}
}

func TestScheduledJob_Data(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	job := NewScheduledJob(st, "sweep", time.Minute)
	if data, err := job.Data(ctx); err != nil || data != "" {
		t.Fatalf("expected empty data, got %q err=%v", data, err)
	}
	if err := job.SetData(ctx, "cursor=42"); err != nil {
		t.Fatalf("set data: %v", err)
	}
	if data, _ := job.Data(ctx); data != "cursor=42" {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestWorkerPool_RunsTasksAndBounds(t *testing.T) {
	pool := NewWorkerPool("test-pool", 2, 4, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop(context.Background())

	var ran int32
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		ok := pool.Submit(func(ctx context.Context) {
			if atomic.AddInt32(&ran, 1) == 4 {
				close(done)
			}
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("tasks did not run, completed=%d", atomic.LoadInt32(&ran))
	}
}

func TestWorkerPool_RejectsWhenStopped(t *testing.T) {
	pool := NewWorkerPool("test-pool", 1, 1, nil)
	if pool.Submit(func(ctx context.Context) {}) {
		t.Fatal("submit before start must be rejected")
	}
}

func TestWorkerPool_SurvivesPanics(t *testing.T) {
	pool := NewWorkerPool("test-pool", 1, 2, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop(context.Background())

	pool.Submit(func(ctx context.Context) { panic("boom") })

	done := make(chan struct{})
	ok := pool.Submit(func(ctx context.Context) { close(done) })
	if !ok {
		t.Fatal("submit after panic rejected")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}
