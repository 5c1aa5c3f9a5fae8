package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nodemesh/streamgate/internal/coordination"
	"github.com/nodemesh/streamgate/internal/store"
	"github.com/nodemesh/streamgate/internal/system"
	"github.com/nodemesh/streamgate/pkg/logger"
)

var _ system.Service = (*Collector)(nil)

// Collector periodically garbage-collects the registry. The sweep is
// guarded by a distributed scheduled job so only one process instance runs
// it per interval, no matter how many servers share the store.
type Collector struct {
	registry *Registry
	job      *coordination.ScheduledJob
	keeper   *coordination.Keeper
	logger   *logger.Logger
	interval time.Duration
	timeout  time.Duration
	cron     *cron.Cron
}

// NewCollector creates a GC runner over the given registry. interval <= 0
// selects five minutes.
func NewCollector(st store.Store, registry *Registry, interval time.Duration, lg *logger.Logger) *Collector {
	if lg == nil {
		lg = logger.NewDefault("presence-gc")
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Collector{
		registry: registry,
		job:      coordination.NewScheduledJob(st, "presence-gc", interval),
		logger:   lg,
		interval: interval,
		timeout:  time.Minute,
	}
}

// WithKeeper registers the sweep lock with a renewal keeper so a sweep
// that outlasts the lock TTL keeps exclusivity. Call before Start.
func (c *Collector) WithKeeper(k *coordination.Keeper) *Collector {
	c.keeper = k
	return c
}

func (c *Collector) Name() string { return "presence-gc" }

func (c *Collector) Start(ctx context.Context) error {
	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.interval)
	if _, err := c.cron.AddFunc(spec, c.sweep); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.WithField("interval", c.interval.String()).Info("presence gc started")
	return nil
}

func (c *Collector) Stop(ctx context.Context) error {
	if c.cron == nil {
		return nil
	}
	stopCtx := c.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info("presence gc stopped")
	return nil
}

func (c *Collector) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ok, err := c.job.TryAcquire(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("presence gc lock acquire failed")
		return
	}
	if !ok {
		return
	}
	if c.keeper != nil {
		c.keeper.Track(c.job.Mutex())
		defer c.keeper.Untrack(c.job.Mutex())
	}
	defer func() {
		if err := c.job.Release(ctx); err != nil {
			c.logger.WithError(err).Warn("presence gc lock release failed")
		}
	}()

	if err := c.registry.GarbageCollect(ctx); err != nil {
		c.logger.WithError(err).Warn("presence gc sweep failed")
	}
}
