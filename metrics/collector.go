// Package metrics provides pipeline counters and their Prometheus exposition.
//
// The Collector accumulates event counters recorded by the pipeline stages.
// Gauges that already live in the pool, breaker and dead-letter queue are
// not duplicated here; the Exporter reads them from a Source at scrape time.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Capture
	PacketsIngested int64 `json:"packets_ingested" yaml:"packets_ingested"`
	IngestRejected  int64 `json:"ingest_rejected" yaml:"ingest_rejected"`
	StreamErrors    int64 `json:"stream_errors" yaml:"stream_errors"`

	// Parsing
	PacketsDetected map[string]int64 `json:"packets_detected" yaml:"packets_detected"`
	PacketsSkipped  int64            `json:"packets_skipped" yaml:"packets_skipped"`
	ParseFailures   int64            `json:"parse_failures" yaml:"parse_failures"`
	BreakerRejected int64            `json:"breaker_rejected" yaml:"breaker_rejected"`

	// Storage
	RecordsStored       int64 `json:"records_stored" yaml:"records_stored"`
	StorageWriteFailure int64 `json:"storage_write_failure" yaml:"storage_write_failure"`

	// Dead letters
	DeadLettered   map[string]int64 `json:"dead_lettered" yaml:"dead_lettered"`
	RetryPasses    int64            `json:"retry_passes" yaml:"retry_passes"`
	RetryRecovered int64            `json:"retry_recovered" yaml:"retry_recovered"`
	RetryDiscarded int64            `json:"retry_discarded" yaml:"retry_discarded"`

	// Notification
	NotificationsSent    int64 `json:"notifications_sent" yaml:"notifications_sent"`
	NotificationFailures int64 `json:"notification_failures" yaml:"notification_failures"`

	// Dimensions (informational, set at construction)
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`
	Notifier       string `json:"notifier" yaml:"notifier"`
}

// Collector accumulates pipeline counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	packetsIngested int64
	ingestRejected  int64
	streamErrors    int64

	packetsDetected map[string]int64
	packetsSkipped  int64
	parseFailures   int64
	breakerRejected int64

	recordsStored       int64
	storageWriteFailure int64

	deadLettered   map[string]int64
	retryPasses    int64
	retryRecovered int64
	retryDiscarded int64

	notificationsSent    int64
	notificationFailures int64

	storageBackend string
	notifier       string
}

// NewCollector creates a Collector with dimension labels.
// notifier may be empty when no notification adapter is configured.
func NewCollector(storageBackend, notifier string) *Collector {
	return &Collector{
		packetsDetected: make(map[string]int64),
		deadLettered:    make(map[string]int64),
		storageBackend:  storageBackend,
		notifier:        notifier,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Capture ---

// IncPacketIngested records a packet accepted by the parsing stage.
func (c *Collector) IncPacketIngested() {
	if c == nil {
		return
	}
	c.add(&c.packetsIngested, 1)
}

// IncIngestRejected records a packet refused because the pipeline stopped.
func (c *Collector) IncIngestRejected() {
	if c == nil {
		return
	}
	c.add(&c.ingestRejected, 1)
}

// IncStreamError records a non-fatal capture stream decode error.
func (c *Collector) IncStreamError() {
	if c == nil {
		return
	}
	c.add(&c.streamErrors, 1)
}

// --- Parsing ---

// IncDetected records a classification result.
func (c *Collector) IncDetected(protocol string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packetsDetected[protocol]++
	c.mu.Unlock()
}

// IncSkipped records a packet with no decoder (Standard or Unknown).
func (c *Collector) IncSkipped() {
	if c == nil {
		return
	}
	c.add(&c.packetsSkipped, 1)
}

// IncParseFailure records a decode failure.
func (c *Collector) IncParseFailure() {
	if c == nil {
		return
	}
	c.add(&c.parseFailures, 1)
}

// IncBreakerRejected records a call refused by an open breaker.
func (c *Collector) IncBreakerRejected() {
	if c == nil {
		return
	}
	c.add(&c.breakerRejected, 1)
}

// --- Storage ---

// AddRecordsStored records n records accepted by the sink.
func (c *Collector) AddRecordsStored(n int) {
	if c == nil {
		return
	}
	c.add(&c.recordsStored, int64(n))
}

// IncStorageWriteFailure records a failed sink write.
func (c *Collector) IncStorageWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.storageWriteFailure, 1)
}

// --- Dead letters ---

// IncDeadLettered records an item dead-lettered by stage.
func (c *Collector) IncDeadLettered(stage string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deadLettered[stage]++
	c.mu.Unlock()
}

// AbsorbRetry records the outcome of one retry pass.
func (c *Collector) AbsorbRetry(recovered, discarded int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.retryPasses++
	c.retryRecovered += int64(recovered)
	c.retryDiscarded += int64(discarded)
	c.mu.Unlock()
}

// --- Notification ---

// IncNotificationSent records a delivered snapshot.
func (c *Collector) IncNotificationSent() {
	if c == nil {
		return
	}
	c.add(&c.notificationsSent, 1)
}

// IncNotificationFailure records a failed snapshot delivery.
func (c *Collector) IncNotificationFailure() {
	if c == nil {
		return
	}
	c.add(&c.notificationFailures, 1)
}

// Snapshot returns an immutable copy of all counters.
// Returns a zero Snapshot for a nil Collector.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{
			PacketsDetected: map[string]int64{},
			DeadLettered:    map[string]int64{},
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	detected := make(map[string]int64, len(c.packetsDetected))
	for k, v := range c.packetsDetected {
		detected[k] = v
	}
	dead := make(map[string]int64, len(c.deadLettered))
	for k, v := range c.deadLettered {
		dead[k] = v
	}

	return Snapshot{
		PacketsIngested:      c.packetsIngested,
		IngestRejected:       c.ingestRejected,
		StreamErrors:         c.streamErrors,
		PacketsDetected:      detected,
		PacketsSkipped:       c.packetsSkipped,
		ParseFailures:        c.parseFailures,
		BreakerRejected:      c.breakerRejected,
		RecordsStored:        c.recordsStored,
		StorageWriteFailure:  c.storageWriteFailure,
		DeadLettered:         dead,
		RetryPasses:          c.retryPasses,
		RetryRecovered:       c.retryRecovered,
		RetryDiscarded:       c.retryDiscarded,
		NotificationsSent:    c.notificationsSent,
		NotificationFailures: c.notificationFailures,
		StorageBackend:       c.storageBackend,
		Notifier:             c.notifier,
	}
}
