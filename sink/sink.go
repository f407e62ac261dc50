// Package sink provides the storage adapters parsed records are written to.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/packetline/types"
)

// Sink persists batches of parsed records.
// Implementations must be safe for concurrent use by the storage pool.
type Sink interface {
	// Write persists records in order. A failed write persists nothing
	// the caller can rely on and may be retried with the same batch.
	Write(ctx context.Context, records []types.Record) error

	// Close releases sink resources.
	Close() error
}

// DeriveDay computes the partition day from a capture time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Stub is an in-memory sink that keeps every batch it accepts.
type Stub struct {
	mu      sync.Mutex
	batches [][]types.Record
	err     error
	closed  bool
}

// NewStub creates an empty in-memory sink.
func NewStub() *Stub {
	return &Stub{}
}

// Write implements Sink.
func (s *Stub) Write(_ context.Context, records []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	batch := make([]types.Record, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

// Fail makes subsequent writes return err. A nil err restores success.
func (s *Stub) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Records returns every accepted record in write order.
func (s *Stub) Records() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Record
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// Writes returns the number of accepted batches.
func (s *Stub) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Close implements Sink.
func (s *Stub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Stub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Verify Stub implements Sink.
var _ Sink = (*Stub)(nil)
