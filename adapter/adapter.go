// Package adapter defines the notification boundary.
//
// Notifiers publish periodic pipeline snapshots to downstream systems
// (dashboards, alerting, chat ops). The pipeline owns notifier lifecycle;
// users provide configuration only.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/packetline/breaker"
	"github.com/pithecene-io/packetline/dlq"
	"github.com/pithecene-io/packetline/metrics"
	"github.com/pithecene-io/packetline/pool"
	"github.com/pithecene-io/packetline/types"
)

// EventTypeReport is the event type of every published snapshot.
const EventTypeReport = "pipeline_report"

// Snapshot is the aggregate pipeline state published on each report tick.
type Snapshot struct {
	ContractVersion string           `json:"contract_version" yaml:"contract_version"`
	EventType       string           `json:"event_type" yaml:"event_type"` // always "pipeline_report"
	ReportID        string           `json:"report_id" yaml:"report_id"`
	Seq             int64            `json:"seq" yaml:"seq"`
	Timestamp       string           `json:"timestamp" yaml:"timestamp"` // RFC 3339
	Pools           []pool.Stats     `json:"pools" yaml:"pools"`
	Breaker         breaker.Snapshot `json:"breaker" yaml:"breaker"`
	DeadLetters     dlq.Stats        `json:"dead_letters" yaml:"dead_letters"`
	Counters        metrics.Snapshot `json:"counters" yaml:"counters"`
}

// NewSnapshot stamps an empty snapshot with the contract version, event
// type and time.
func NewSnapshot(id string, seq int64, at time.Time) Snapshot {
	return Snapshot{
		ContractVersion: types.Version,
		EventType:       EventTypeReport,
		ReportID:        id,
		Seq:             seq,
		Timestamp:       at.UTC().Format(time.RFC3339Nano),
	}
}

// Pool returns the stats of the named stage pool.
func (s Snapshot) Pool(name string) (pool.Stats, bool) {
	for _, p := range s.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return pool.Stats{}, false
}

// Notifier publishes snapshots to a downstream system.
type Notifier interface {
	// Notify sends one snapshot.
	// Must respect context cancellation and deadlines.
	Notify(ctx context.Context, snap Snapshot) error

	// Close releases notifier resources.
	Close() error
}

// Func adapts a function to Notifier. Close is a no-op.
type Func func(ctx context.Context, snap Snapshot) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, snap Snapshot) error {
	return f(ctx, snap)
}

// Close implements Notifier.
func (f Func) Close() error {
	return nil
}

// Verify Func implements Notifier.
var _ Notifier = Func(nil)

// Multi fans a snapshot out to every notifier in order. Every notifier is
// called even when an earlier one fails; the errors are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Notifier.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Verify Multi implements Notifier.
var _ Notifier = Multi(nil)
