package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pithecene-io/packetline/breaker"
	"github.com/pithecene-io/packetline/dlq"
	"github.com/pithecene-io/packetline/pool"
)

const namespace = "packetline"

// Source supplies the live pipeline gauges at scrape time.
type Source interface {
	PoolStats() pool.StagesSnapshot
	BreakerStats() breaker.Snapshot
	DeadLetterStats() dlq.Stats
}

// Exporter exposes a Collector and a Source as Prometheus metrics.
// It implements prometheus.Collector and reads everything at scrape time.
type Exporter struct {
	collector *Collector
	source    Source

	packetsIngested *prometheus.Desc
	ingestRejected  *prometheus.Desc
	streamErrors    *prometheus.Desc
	packetsDetected *prometheus.Desc
	packetsSkipped  *prometheus.Desc
	parseFailures   *prometheus.Desc
	breakerRejected *prometheus.Desc
	recordsStored   *prometheus.Desc
	storageFailures *prometheus.Desc
	deadLettered    *prometheus.Desc
	retryDiscarded  *prometheus.Desc
	notifications   *prometheus.Desc

	poolQueueDepth  *prometheus.Desc
	poolActive      *prometheus.Desc
	poolWorkers     *prometheus.Desc
	poolExecuted    *prometheus.Desc
	poolUtilization *prometheus.Desc

	breakerState    *prometheus.Desc
	breakerFailures *prometheus.Desc

	dlqSize    *prometheus.Desc
	dlqEvicted *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter creates an Exporter. source may be nil, in which case only
// the Collector counters are exported.
func NewExporter(c *Collector, source Source) *Exporter {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Exporter{
		collector: c,
		source:    source,

		packetsIngested: desc("packets_ingested_total", "Packets accepted by the parsing stage."),
		ingestRejected:  desc("ingest_rejected_total", "Packets refused after shutdown began."),
		streamErrors:    desc("stream_errors_total", "Non-fatal capture stream decode errors."),
		packetsDetected: desc("packets_detected_total", "Packets by detected protocol.", "protocol"),
		packetsSkipped:  desc("packets_skipped_total", "Packets without a decoder."),
		parseFailures:   desc("parse_failures_total", "Decode failures."),
		breakerRejected: desc("breaker_rejected_total", "Calls refused by the parser breaker."),
		recordsStored:   desc("records_stored_total", "Records accepted by the storage sink."),
		storageFailures: desc("storage_write_failures_total", "Failed storage writes."),
		deadLettered:    desc("dead_lettered_total", "Items dead-lettered by stage.", "stage"),
		retryDiscarded:  desc("dlq_discarded_total", "Dead letters discarded after exhausting retries."),
		notifications:   desc("notifications_total", "Snapshot deliveries by result.", "result"),

		poolQueueDepth:  desc("pool_queue_depth", "Tasks waiting for a worker.", "pool"),
		poolActive:      desc("pool_active_workers", "Workers currently running a task.", "pool"),
		poolWorkers:     desc("pool_workers", "Fixed worker count.", "pool"),
		poolExecuted:    desc("pool_tasks_executed_total", "Tasks that finished running.", "pool"),
		poolUtilization: desc("pool_utilization_ratio", "Busy workers over total workers.", "pool"),

		breakerState:    desc("breaker_state", "Breaker state (0 closed, 1 open, 2 half_open).", "breaker"),
		breakerFailures: desc("breaker_failures", "Failures recorded since the breaker last closed.", "breaker"),

		dlqSize:    desc("dlq_size", "Items held in the dead-letter queue."),
		dlqEvicted: desc("dlq_evicted_total", "Dead letters evicted at capacity."),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.packetsIngested, e.ingestRejected, e.streamErrors, e.packetsDetected,
		e.packetsSkipped, e.parseFailures, e.breakerRejected, e.recordsStored,
		e.storageFailures, e.deadLettered, e.retryDiscarded, e.notifications,
		e.poolQueueDepth, e.poolActive, e.poolWorkers, e.poolExecuted,
		e.poolUtilization, e.breakerState, e.breakerFailures, e.dlqSize, e.dlqEvicted,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(e.packetsIngested, snap.PacketsIngested)
	counter(e.ingestRejected, snap.IngestRejected)
	counter(e.streamErrors, snap.StreamErrors)
	for proto, n := range snap.PacketsDetected {
		counter(e.packetsDetected, n, proto)
	}
	counter(e.packetsSkipped, snap.PacketsSkipped)
	counter(e.parseFailures, snap.ParseFailures)
	counter(e.breakerRejected, snap.BreakerRejected)
	counter(e.recordsStored, snap.RecordsStored)
	counter(e.storageFailures, snap.StorageWriteFailure)
	for stage, n := range snap.DeadLettered {
		counter(e.deadLettered, n, stage)
	}
	counter(e.retryDiscarded, snap.RetryDiscarded)
	counter(e.notifications, snap.NotificationsSent, "success")
	counter(e.notifications, snap.NotificationFailures, "failure")

	if e.source == nil {
		return
	}

	for _, st := range e.source.PoolStats().Stages {
		gauge(e.poolQueueDepth, float64(st.QueueDepth), st.Name)
		gauge(e.poolActive, float64(st.Active), st.Name)
		gauge(e.poolWorkers, float64(st.Workers), st.Name)
		counter(e.poolExecuted, int64(st.Executed), st.Name)
		gauge(e.poolUtilization, st.Utilization, st.Name)
	}

	bs := e.source.BreakerStats()
	gauge(e.breakerState, float64(bs.State), bs.Name)
	gauge(e.breakerFailures, float64(bs.Failures), bs.Name)

	ds := e.source.DeadLetterStats()
	gauge(e.dlqSize, float64(ds.Size))
	counter(e.dlqEvicted, int64(ds.Evicted))
}

// NewRegistry creates a registry holding the exporter plus the standard
// process and Go runtime collectors.
func NewRegistry(e *Exporter) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		e,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
