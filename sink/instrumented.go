package sink

import (
	"context"

	"github.com/pithecene-io/packetline/metrics"
	"github.com/pithecene-io/packetline/types"
)

// Instrumented wraps a Sink and records write outcomes on a collector.
// A successful Write adds len(records) to records_stored; a failed one
// increments storage_write_failures.
type Instrumented struct {
	inner     Sink
	collector *metrics.Collector
}

// NewInstrumented wraps inner with metrics instrumentation.
func NewInstrumented(inner Sink, collector *metrics.Collector) *Instrumented {
	return &Instrumented{inner: inner, collector: collector}
}

// Write delegates to the inner sink and records success or failure.
func (s *Instrumented) Write(ctx context.Context, records []types.Record) error {
	err := s.inner.Write(ctx, records)
	if err != nil {
		s.collector.IncStorageWriteFailure()
	} else {
		s.collector.AddRecordsStored(len(records))
	}
	return err
}

// Close delegates to the inner sink.
func (s *Instrumented) Close() error {
	return s.inner.Close()
}

// Unwrap returns the wrapped sink.
func (s *Instrumented) Unwrap() Sink {
	return s.inner
}

// Verify Instrumented implements Sink.
var _ Sink = (*Instrumented)(nil)
