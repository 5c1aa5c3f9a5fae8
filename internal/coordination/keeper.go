package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/nodemesh/streamgate/internal/system"
	"github.com/nodemesh/streamgate/pkg/logger"
)

var _ system.Service = (*Keeper)(nil)

// Keeper renews all locally-held mutexes on one shared cadence so
// long-held locks survive without every holder running its own timer. The
// held set is the process's only shared mutable lock state and is guarded
// by a single mutex.
type Keeper struct {
	logger   *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	held    map[*Mutex]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewKeeper creates a renewal keeper. The interval should be well under
// the shortest lock TTL; a third of DefaultLockTTL by default.
func NewKeeper(lg *logger.Logger) *Keeper {
	if lg == nil {
		lg = logger.NewDefault("lock-keeper")
	}
	return &Keeper{
		logger:   lg,
		interval: DefaultLockTTL / 3,
		held:     make(map[*Mutex]bool),
	}
}

// Track adds a mutex to the renewal set. Call after a successful acquire.
func (k *Keeper) Track(m *Mutex) {
	k.mu.Lock()
	k.held[m] = true
	k.mu.Unlock()
}

// Untrack removes a mutex from the renewal set. Call before release.
func (k *Keeper) Untrack(m *Mutex) {
	k.mu.Lock()
	delete(k.held, m)
	k.mu.Unlock()
}

func (k *Keeper) Name() string { return "lock-keeper" }

func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.running = true
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				k.renewAll(runCtx)
			}
		}
	}()

	k.logger.Info("lock keeper started")
	return nil
}

func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	cancel := k.cancel
	k.running = false
	k.cancel = nil
	k.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		k.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	k.logger.Info("lock keeper stopped")
	return nil
}

func (k *Keeper) renewAll(ctx context.Context) {
	k.mu.Lock()
	held := make([]*Mutex, 0, len(k.held))
	for m := range k.held {
		held = append(held, m)
	}
	k.mu.Unlock()

	for _, m := range held {
		if err := m.Renew(ctx); err != nil {
			k.logger.WithError(err).WithField("lock", m.Name()).Warn("lock renewal failed")
		}
	}
}
