package sink

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/packetline/types"
)

// DefaultDataset is the Lode dataset ID used when none is configured.
const DefaultDataset = "packetline"

// Partition keys, outermost first. Every stored row carries both.
const (
	PartitionDay      = "day"
	PartitionProtocol = "proto"
)

// Lode writes records as Hive-partitioned JSONL through a Lode dataset.
// Layout: <dataset>/day=YYYY-MM-DD/proto=<slug>/...
type Lode struct {
	name    string
	dataset lode.Dataset

	mu sync.Mutex // serializes snapshot commits
}

// NewLode creates a Lode sink over factory.
// Use lode.NewMemoryFactory() for testing.
func NewLode(dataset string, factory lode.StoreFactory) (*Lode, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := newDataset(dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return &Lode{name: dataset, dataset: ds}, nil
}

// NewLodeFS creates a Lode sink rooted at a filesystem directory,
// creating the directory if needed.
func NewLodeFS(dataset, root string) (*Lode, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, WrapInitError(err, root)
	}
	return NewLode(dataset, lode.NewFSFactory(root))
}

// NewReadDataset opens dataset for reading with the same codec and layout
// as the write path.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return newDataset(dataset, factory)
}

func newDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(PartitionDay, PartitionProtocol),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Write implements Sink. Each non-empty batch commits one snapshot.
func (s *Lode) Write(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRow(r))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return WrapWriteError(err, s.name)
	}
	return nil
}

// Close implements Sink. Lode datasets hold no open handles.
func (s *Lode) Close() error {
	return nil
}

// String names the dataset for logs.
func (s *Lode) String() string {
	return fmt.Sprintf("lode:%s", s.name)
}

// toRow flattens r and adds the partition keys.
func toRow(r types.Record) map[string]any {
	row := r.Fields()
	row[PartitionDay] = DeriveDay(r.CapturedAt)
	row[PartitionProtocol] = r.Protocol.Slug()
	return row
}

// Verify Lode implements Sink.
var _ Sink = (*Lode)(nil)
