package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/justapithecus/lode/lode"
)

// Summary aggregates stored records per protocol.
type Summary struct {
	Backend    string         `json:"backend" yaml:"backend"`
	Total      int            `json:"total" yaml:"total"`
	ByProtocol map[string]int `json:"by_protocol" yaml:"by_protocol"`
	// Snapshots is the number of Lode snapshots read (Lode backends only).
	Snapshots int `json:"snapshots,omitempty" yaml:"snapshots,omitempty"`
}

// Header implements render.Table.
func (s Summary) Header() []string {
	return []string{"PROTOCOL", "RECORDS"}
}

// Rows implements render.Table. Protocols are sorted by name; the last
// row is the total.
func (s Summary) Rows() [][]string {
	names := make([]string, 0, len(s.ByProtocol))
	for name := range s.ByProtocol {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprint(s.ByProtocol[name])})
	}
	return append(rows, []string{"total", fmt.Sprint(s.Total)})
}

// Querier is implemented by sinks that can summarize what they stored.
type Querier interface {
	Summarize(ctx context.Context) (Summary, error)
}

// Summarize implements Querier by reading every snapshot of the dataset.
func (s *Lode) Summarize(ctx context.Context) (Summary, error) {
	sum, err := SummarizeDataset(ctx, s.dataset)
	sum.Backend = s.String()
	return sum, err
}

// SummarizeDataset counts the records of every snapshot in ds by their
// protocol column. An empty dataset yields a zero summary.
func SummarizeDataset(ctx context.Context, ds lode.Dataset) (Summary, error) {
	sum := Summary{ByProtocol: make(map[string]int)}

	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return sum, WrapQueryError(err, "snapshots")
	}
	for _, snap := range snapshots {
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return sum, WrapQueryError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		sum.Snapshots++
		for _, item := range data {
			row, ok := item.(map[string]any)
			if !ok {
				continue
			}
			proto, _ := row["protocol"].(string)
			sum.ByProtocol[proto]++
			sum.Total++
		}
	}
	return sum, nil
}

// Summarize implements Querier.
func (s *SQLite) Summarize(ctx context.Context) (Summary, error) {
	counts, err := s.CountByProtocol(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Backend: "sqlite:" + s.path, ByProtocol: counts}
	for _, n := range counts {
		sum.Total += n
	}
	return sum, nil
}

// Summarize implements Querier over the records written so far.
func (s *Stub) Summarize(context.Context) (Summary, error) {
	sum := Summary{Backend: "stub", ByProtocol: make(map[string]int)}
	for _, r := range s.Records() {
		sum.ByProtocol[r.Protocol.String()]++
		sum.Total++
	}
	return sum, nil
}

// Summarize implements Querier by asking the wrapped sink.
func (s *Instrumented) Summarize(ctx context.Context) (Summary, error) {
	q, ok := s.inner.(Querier)
	if !ok {
		return Summary{}, fmt.Errorf("sink: %T cannot be queried", s.inner)
	}
	return q.Summarize(ctx)
}

var (
	_ Querier = (*Lode)(nil)
	_ Querier = (*SQLite)(nil)
	_ Querier = (*Stub)(nil)
)
