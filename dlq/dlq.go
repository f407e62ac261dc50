// Package dlq provides a bounded dead-letter queue with bounded retry.
//
// The queue keeps at most Capacity items and evicts the oldest when full.
// Each item is retried at most MaxRetries times across Retry passes, then
// discarded permanently. Evictions and discards are logged and counted,
// never returned as errors.
package dlq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pithecene-io/packetline/log"
)

// Defaults.
const (
	DefaultCapacity        = 1000
	DefaultMaxRetries      = 3
	DefaultReportThreshold = 10
	DefaultAlertSize       = 100
)

// Item is one dead-lettered unit of work.
type Item[T any] struct {
	Payload  T         `json:"payload" yaml:"payload"`
	Err      string    `json:"error" yaml:"error"`
	FailedAt time.Time `json:"failed_at" yaml:"failed_at"`
	Stage    string    `json:"stage" yaml:"stage"`
	// Retries counts failed retry attempts, never above MaxRetries.
	Retries int `json:"retries" yaml:"retries"`
}

type config struct {
	capacity        int
	maxRetries      int
	reportThreshold int
	alertSize       int
	logger          *log.Logger
	now             func() time.Time
}

// Option configures a Queue.
type Option func(*config)

// WithCapacity sets the maximum number of items held. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithMaxRetries sets how many failed retries discard an item. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithReportThreshold sets the per-stage count above which Analyze reports a stage.
func WithReportThreshold(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.reportThreshold = n
		}
	}
}

// WithAlertSize sets the queue size above which a high failure rate is logged.
func WithAlertSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.alertSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Queue is a bounded dead-letter queue. Safe for concurrent use.
type Queue[T any] struct {
	cfg config

	mu    sync.Mutex
	ring  []Item[T]
	head  int
	size  int
	stats Stats
}

// Stats are cumulative queue counters.
type Stats struct {
	Size      int    `json:"size" yaml:"size"`
	Capacity  int    `json:"capacity" yaml:"capacity"`
	Stored    uint64 `json:"stored" yaml:"stored"`
	Evicted   uint64 `json:"evicted" yaml:"evicted"`
	Retried   uint64 `json:"retried" yaml:"retried"`
	Recovered uint64 `json:"recovered" yaml:"recovered"`
	Discarded uint64 `json:"discarded" yaml:"discarded"`
}

// New creates an empty queue.
func New[T any](opts ...Option) *Queue[T] {
	cfg := config{
		capacity:        DefaultCapacity,
		maxRetries:      DefaultMaxRetries,
		reportThreshold: DefaultReportThreshold,
		alertSize:       DefaultAlertSize,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With(map[string]any{"queue": "dlq"})
	return &Queue[T]{
		cfg:  cfg,
		ring: make([]Item[T], cfg.capacity),
	}
}

// Store dead-letters payload that failed in stage with err.
func (q *Queue[T]) Store(payload T, err error, stage string) {
	item := Item[T]{
		Payload:  payload,
		FailedAt: q.cfg.now(),
		Stage:    stage,
	}
	if err != nil {
		item.Err = err.Error()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.Stored++
	q.push(item)

	if q.size > q.cfg.alertSize {
		q.cfg.logger.Warn("high failure rate", map[string]any{
			"size":  q.size,
			"stage": stage,
		})
	}
}

// push appends under q.mu, evicting the oldest item when full.
func (q *Queue[T]) push(item Item[T]) {
	if q.size == q.cfg.capacity {
		evicted := q.ring[q.head]
		q.ring[q.head] = Item[T]{}
		q.head = (q.head + 1) % q.cfg.capacity
		q.size--
		q.stats.Evicted++
		q.cfg.logger.Info("dead letter evicted", map[string]any{
			"stage":     evicted.Stage,
			"error":     evicted.Err,
			"failed_at": evicted.FailedAt,
		})
	}
	q.ring[(q.head+q.size)%q.cfg.capacity] = item
	q.size++
}

// drain removes every item under q.mu, oldest first.
func (q *Queue[T]) drain() []Item[T] {
	out := q.snapshot()
	clear(q.ring)
	q.head, q.size = 0, 0
	return out
}

func (q *Queue[T]) snapshot() []Item[T] {
	out := make([]Item[T], q.size)
	for i := range q.size {
		out[i] = q.ring[(q.head+i)%q.cfg.capacity]
	}
	return out
}

// RetryFunc reprocesses one payload. It must not call methods on the queue.
type RetryFunc[T any] func(ctx context.Context, payload T) error

// RetryReport summarizes one Retry pass.
type RetryReport struct {
	Attempted int `json:"attempted" yaml:"attempted"`
	Recovered int `json:"recovered" yaml:"recovered"`
	Requeued  int `json:"requeued" yaml:"requeued"`
	Discarded int `json:"discarded" yaml:"discarded"`
	// Skipped items were put back untouched because ctx ended the pass.
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Retry reprocesses every held item once with fn.
//
// The whole pass is one exclusive section: Store and other Retry calls wait
// until it ends. A successful item is discarded. A failed item has its retry
// count incremented and is re-enqueued while the count is below MaxRetries,
// otherwise it is discarded permanently. When ctx ends the pass early the
// remaining items are put back with their retry counts unchanged.
func (q *Queue[T]) Retry(ctx context.Context, fn RetryFunc[T]) RetryReport {
	q.mu.Lock()
	defer q.mu.Unlock()

	var report RetryReport
	items := q.drain()
	for i, item := range items {
		if ctx.Err() != nil {
			for _, rest := range items[i:] {
				q.push(rest)
			}
			report.Skipped = len(items) - i
			break
		}

		report.Attempted++
		q.stats.Retried++
		err := safeRetry(ctx, fn, item.Payload)
		if err == nil {
			report.Recovered++
			q.stats.Recovered++
			continue
		}

		item.Retries++
		item.Err = err.Error()
		item.FailedAt = q.cfg.now()
		if item.Retries < q.cfg.maxRetries {
			q.push(item)
			report.Requeued++
			continue
		}

		report.Discarded++
		q.stats.Discarded++
		q.cfg.logger.Warn("dead letter discarded", map[string]any{
			"stage":   item.Stage,
			"error":   item.Err,
			"retries": item.Retries,
		})
	}
	return report
}

func safeRetry[T any](ctx context.Context, fn RetryFunc[T], payload T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dlq: retry panicked: %v", r)
		}
	}()
	return fn(ctx, payload)
}

// StageCount is the number of held items for one stage.
type StageCount struct {
	Stage string `json:"stage" yaml:"stage"`
	Count int    `json:"count" yaml:"count"`
}

// Analysis is a failure pattern report over the held items.
type Analysis struct {
	Total   int            `json:"total" yaml:"total"`
	ByStage map[string]int `json:"by_stage" yaml:"by_stage"`
	ByError map[string]int `json:"by_error" yaml:"by_error"`
	// HotStages lists stages holding more than the report threshold,
	// by count descending then name.
	HotStages []StageCount `json:"hot_stages" yaml:"hot_stages"`
}

// Analyze groups the held items by stage and error text.
func (q *Queue[T]) Analyze() Analysis {
	q.mu.Lock()
	items := q.snapshot()
	threshold := q.cfg.reportThreshold
	q.mu.Unlock()

	a := Analysis{
		Total:   len(items),
		ByStage: make(map[string]int),
		ByError: make(map[string]int),
	}
	for _, it := range items {
		a.ByStage[it.Stage]++
		a.ByError[it.Err]++
	}
	for stage, n := range a.ByStage {
		if n > threshold {
			a.HotStages = append(a.HotStages, StageCount{Stage: stage, Count: n})
		}
	}
	sort.Slice(a.HotStages, func(i, j int) bool {
		if a.HotStages[i].Count != a.HotStages[j].Count {
			return a.HotStages[i].Count > a.HotStages[j].Count
		}
		return a.HotStages[i].Stage < a.HotStages[j].Stage
	})

	for _, hs := range a.HotStages {
		q.cfg.logger.Warn("failure pattern detected", map[string]any{
			"stage": hs.Stage,
			"count": hs.Count,
		})
	}
	return a
}

// Len returns the number of held items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Items returns a copy of the held items, oldest first.
func (q *Queue[T]) Items() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot()
}

// Clear drops every held item and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	q.drain()
	return n
}

// Stats returns the cumulative counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.stats
	st.Size = q.size
	st.Capacity = q.cfg.capacity
	return st
}
