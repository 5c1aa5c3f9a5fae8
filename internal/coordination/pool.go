package coordination

import (
	"context"
	"sync"

	"github.com/nodemesh/streamgate/internal/system"
	"github.com/nodemesh/streamgate/pkg/logger"
)

var _ system.Service = (*WorkerPool)(nil)

// WorkerPool runs submitted tasks on a fixed number of goroutines behind a
// bounded queue. Submit fails fast when the queue is full so callers on
// the accept path never block.
type WorkerPool struct {
	name    string
	logger  *logger.Logger
	workers int
	tasks   chan func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewWorkerPool creates a pool with the given worker count and pending
// queue capacity.
func NewWorkerPool(name string, workers, capacity int, lg *logger.Logger) *WorkerPool {
	if lg == nil {
		lg = logger.NewDefault(name)
	}
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = workers
	}
	return &WorkerPool{
		name:    name,
		logger:  lg,
		workers: workers,
		tasks:   make(chan func(ctx context.Context), capacity),
	}
}

// Submit queues a task, reporting false when the queue is full or the pool
// is stopped.
func (p *WorkerPool) Submit(task func(ctx context.Context)) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return false
	}

	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) Name() string { return p.name }

func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case task := <-p.tasks:
					p.run(runCtx, task)
				}
			}
		}()
	}

	p.logger.WithField("workers", p.workers).Info("worker pool started")
	return nil
}

func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Info("worker pool stopped")
	return nil
}

// run isolates task panics so one bad task cannot kill a worker.
func (p *WorkerPool) run(ctx context.Context, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("worker task panicked")
		}
	}()
	task(ctx)
}
