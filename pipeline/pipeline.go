// Package pipeline composes the stage pools, the parser breaker and the
// dead-letter queue into the packet pipeline.
//
// Packets flow capture -> parsing -> storage, each stage on its own pool.
// Detection and decoding run inside the parser breaker. Anything that fails
// in parsing or storage is dead-lettered with its packet, so a retry
// re-runs the whole parse and store path. Snapshots are published through
// the single-worker notification pool, in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/packetline/adapter"
	"github.com/pithecene-io/packetline/breaker"
	"github.com/pithecene-io/packetline/dlq"
	"github.com/pithecene-io/packetline/iox"
	"github.com/pithecene-io/packetline/log"
	"github.com/pithecene-io/packetline/metrics"
	"github.com/pithecene-io/packetline/pool"
	"github.com/pithecene-io/packetline/protocol"
	"github.com/pithecene-io/packetline/sink"
	"github.com/pithecene-io/packetline/types"
)

// Dead-letter stage names.
const (
	StageParsing = string(pool.StageParsing)
	StageStorage = string(pool.StageStorage)
)

// ErrNoSink is returned by New without a storage sink.
var ErrNoSink = errors.New("pipeline: sink is required")

// Deps are the collaborators of a Coordinator.
type Deps struct {
	// Sink receives parsed records (required). It is wrapped with
	// sink.Instrumented so writes are counted on Collector.
	Sink sink.Sink
	// Notifier receives snapshots (optional).
	Notifier adapter.Notifier
	// Logger defaults to log.Nop().
	Logger *log.Logger
	// Collector defaults to a fresh collector.
	Collector *metrics.Collector
}

// Coordinator is the pipeline composition root. Safe for concurrent use.
type Coordinator struct {
	cfg       Config
	pools     *pool.StagePools
	breaker   *breaker.Breaker
	dlq       *dlq.Queue[types.Packet]
	sink      sink.Sink
	notifier  adapter.Notifier
	logger    *log.Logger
	collector *metrics.Collector

	// reportMu keeps Seq assignment and queueing in one step.
	reportMu  sync.Mutex
	seq       atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and starts the stage pools.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if deps.Sink == nil {
		return nil, ErrNoSink
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	collector := deps.Collector
	if collector == nil {
		collector = metrics.NewCollector("", "")
	}

	c := &Coordinator{
		cfg:       cfg,
		sink:      sink.NewInstrumented(deps.Sink, collector),
		notifier:  deps.Notifier,
		logger:    logger,
		collector: collector,
	}
	c.breaker = breaker.New(BreakerName,
		breaker.WithThreshold(cfg.Breaker.Threshold),
		breaker.WithResetTimeout(cfg.Breaker.ResetTimeout),
		breaker.WithLogger(logger),
	)
	c.dlq = dlq.New[types.Packet](
		dlq.WithCapacity(cfg.DLQ.Capacity),
		dlq.WithMaxRetries(cfg.DLQ.MaxRetries),
		dlq.WithReportThreshold(cfg.DLQ.ReportThreshold),
		dlq.WithAlertSize(cfg.DLQ.AlertSize),
		dlq.WithLogger(logger.With(map[string]any{"queue": "dead_letter"})),
	)
	c.pools = pool.NewStagePools(cfg.Pools, pool.WithLogger(logger))
	return c, nil
}

// Ingest hands pkt to the parsing stage.
// Returns pool.ErrPoolStopped once draining has begun.
func (c *Coordinator) Ingest(pkt types.Packet) error {
	err := c.pools.Parsing().Go(func() error {
		return c.parse(pkt)
	})
	if err != nil {
		c.collector.IncIngestRejected()
		return err
	}
	c.collector.IncPacketIngested()
	return nil
}

// parse runs detection and decoding, then hands the record to storage.
func (c *Coordinator) parse(pkt types.Packet) error {
	rec, ok, err := c.classify(context.Background(), pkt)
	if err != nil {
		c.deadLetter(pkt, err, StageParsing)
		return fmt.Errorf("pipeline: parse %s: %w", pkt.ID, err)
	}
	if !ok {
		return nil
	}

	if err := c.pools.Storage().Go(func() error {
		return c.store(pkt, rec)
	}); err != nil {
		c.deadLetter(pkt, err, StageStorage)
		return fmt.Errorf("pipeline: hand off %s: %w", pkt.ID, err)
	}
	return nil
}

// classify detects and decodes pkt inside the parser breaker.
// ok is false for payloads without a decoder, which are counted and skipped.
func (c *Coordinator) classify(ctx context.Context, pkt types.Packet) (rec types.Record, ok bool, err error) {
	err = c.breaker.Execute(ctx, func(context.Context) error {
		tag, frame, err := protocol.DetectAndDecode(pkt.Data, pkt.Port)
		c.collector.IncDetected(tag.String())
		if err != nil {
			return err
		}
		if frame == nil {
			return nil
		}
		rec, ok = types.NewRecord(pkt, tag, frame), true
		return nil
	})

	switch {
	case errors.Is(err, breaker.ErrOpen):
		c.collector.IncBreakerRejected()
	case err != nil:
		c.collector.IncParseFailure()
	case !ok:
		c.collector.IncSkipped()
	}
	return rec, ok, err
}

func (c *Coordinator) store(pkt types.Packet, rec types.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StorageTimeout)
	defer cancel()

	if err := c.sink.Write(ctx, []types.Record{rec}); err != nil {
		c.deadLetter(pkt, err, StageStorage)
		return fmt.Errorf("pipeline: store %s: %w", pkt.ID, err)
	}
	return nil
}

func (c *Coordinator) deadLetter(pkt types.Packet, err error, stage string) {
	c.dlq.Store(pkt, err, stage)
	c.collector.IncDeadLettered(stage)
}

// RetryDeadLetters runs one retry pass over the dead-letter queue,
// re-running parse and store synchronously for every held packet.
// Stores from the stage pools wait until the pass ends.
func (c *Coordinator) RetryDeadLetters(ctx context.Context) dlq.RetryReport {
	report := c.dlq.Retry(ctx, func(ctx context.Context, pkt types.Packet) error {
		rec, ok, err := c.classify(ctx, pkt)
		if err != nil || !ok {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
		defer cancel()
		return c.sink.Write(writeCtx, []types.Record{rec})
	})
	c.collector.AbsorbRetry(report.Recovered, report.Discarded)

	if report.Attempted > 0 || report.Skipped > 0 {
		c.logger.Info("dead letter retry pass", map[string]any{
			"attempted": report.Attempted,
			"recovered": report.Recovered,
			"requeued":  report.Requeued,
			"discarded": report.Discarded,
			"skipped":   report.Skipped,
		})
	}
	return report
}

// AnalyzeFailures aggregates the held dead letters by stage and error.
func (c *Coordinator) AnalyzeFailures() dlq.Analysis {
	return c.dlq.Analyze()
}

// DeadLetters exposes the dead-letter queue for inspection.
func (c *Coordinator) DeadLetters() *dlq.Queue[types.Packet] {
	return c.dlq
}

// Breaker exposes the parser breaker.
func (c *Coordinator) Breaker() *breaker.Breaker {
	return c.breaker
}

// Collector returns the counters collector.
func (c *Coordinator) Collector() *metrics.Collector {
	return c.collector
}

// PoolStats implements metrics.Source.
func (c *Coordinator) PoolStats() pool.StagesSnapshot {
	return c.pools.Snapshot()
}

// BreakerStats implements metrics.Source.
func (c *Coordinator) BreakerStats() breaker.Snapshot {
	return c.breaker.Snapshot()
}

// DeadLetterStats implements metrics.Source.
func (c *Coordinator) DeadLetterStats() dlq.Stats {
	return c.dlq.Stats()
}

// StoredSummary summarizes the records held by the sink.
// Call it before Shutdown closes the sink.
func (c *Coordinator) StoredSummary(ctx context.Context) (sink.Summary, error) {
	q, ok := c.sink.(sink.Querier)
	if !ok {
		return sink.Summary{}, fmt.Errorf("pipeline: sink %T cannot be queried", c.sink)
	}
	return q.Summarize(ctx)
}

// Drain stops intake and waits for the capture, parsing and storage pools
// to finish every queued task, in that order. The notification pool stays
// up so a final Report is still delivered. Safe to call more than once.
func (c *Coordinator) Drain(ctx context.Context) error {
	for _, stage := range []pool.Stage{pool.StageCapture, pool.StageParsing, pool.StageStorage} {
		if err := c.pools.Pool(stage).ShutdownContext(ctx); err != nil {
			return fmt.Errorf("pipeline: drain %s: %w", stage, err)
		}
	}
	return nil
}

// Shutdown drains every pool in pipeline order, then closes the sink and
// the notifier. Safe to call more than once; later calls return the first
// result once the close has happened.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.pools.ShutdownContext(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	c.closeOnce.Do(func() {
		c.closeErr = iox.CloseAll(c.sink, c.notifier)
		c.logger.Info("pipeline stopped", map[string]any{
			"dead_letters": c.dlq.Len(),
		})
	})
	return c.closeErr
}

// Verify Coordinator implements metrics.Source.
var _ metrics.Source = (*Coordinator)(nil)
