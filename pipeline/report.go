package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/packetline/adapter"
)

// Snapshot returns the current pipeline state without publishing it.
func (c *Coordinator) Snapshot() adapter.Snapshot {
	return c.snapshot(c.seq.Load())
}

func (c *Coordinator) snapshot(seq int64) adapter.Snapshot {
	snap := adapter.NewSnapshot(uuid.NewString(), seq, time.Now())
	snap.Pools = c.pools.Snapshot().Stages
	snap.Breaker = c.breaker.Snapshot()
	snap.DeadLetters = c.dlq.Stats()
	snap.Counters = c.collector.Snapshot()
	return snap
}

// Report takes a snapshot and queues its delivery on the notification pool.
// Deliveries run on a single worker, so notifiers see reports in Seq order.
// Returns the snapshot even without a notifier; fails with
// pool.ErrPoolStopped after Shutdown.
func (c *Coordinator) Report() (adapter.Snapshot, error) {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	snap := c.snapshot(c.seq.Add(1))
	if c.notifier == nil {
		return snap, nil
	}

	err := c.pools.Notification().Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NotifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, snap); err != nil {
			c.collector.IncNotificationFailure()
			return err
		}
		c.collector.IncNotificationSent()
		return nil
	})
	return snap, err
}

// Run reports every ReportInterval and retries dead letters every
// RetryInterval until ctx is done. A zero interval disables that loop.
// Returns nil when ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if c.cfg.ReportInterval > 0 {
		g.Go(func() error {
			return every(ctx, c.cfg.ReportInterval, func() {
				if _, err := c.Report(); err != nil {
					c.logger.Warn("report not queued", map[string]any{"error": err.Error()})
				}
			})
		})
	}
	if c.cfg.RetryInterval > 0 {
		g.Go(func() error {
			return every(ctx, c.cfg.RetryInterval, func() {
				c.RetryDeadLetters(ctx)
			})
		})
	}

	<-ctx.Done()
	return g.Wait()
}

func every(ctx context.Context, d time.Duration, fn func()) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
