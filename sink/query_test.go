package sink

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/packetline/metrics"
)

func TestLode_Summarize(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	s, err := NewLode("", factory)
	if err != nil {
		t.Fatalf("NewLode failed: %v", err)
	}
	for range 2 {
		if err := s.Write(t.Context(), testRecords()); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	sum, err := s.Summarize(t.Context())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if sum.Total != 4 || sum.Snapshots != 2 {
		t.Errorf("Total, Snapshots = %d, %d, want 4, 2", sum.Total, sum.Snapshots)
	}
	want := map[string]int{"WebSocket": 2, "HTTP/2": 2}
	if !reflect.DeepEqual(sum.ByProtocol, want) {
		t.Errorf("ByProtocol = %v, want %v", sum.ByProtocol, want)
	}
	if sum.Backend != "lode:"+DefaultDataset {
		t.Errorf("Backend = %q", sum.Backend)
	}
}

func TestSummarizeDataset_Empty(t *testing.T) {
	ds, err := NewReadDataset("", sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}
	sum, err := SummarizeDataset(t.Context(), ds)
	if err != nil {
		t.Fatalf("SummarizeDataset failed: %v", err)
	}
	if sum.Total != 0 || len(sum.ByProtocol) != 0 {
		t.Errorf("summary = %+v, want empty", sum)
	}
}

func TestSQLite_Summarize(t *testing.T) {
	s, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()
	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sum, err := s.Summarize(t.Context())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if sum.Total != 2 || sum.ByProtocol["WebSocket"] != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestInstrumented_SummarizeDelegates(t *testing.T) {
	stub := NewStub()
	s := NewInstrumented(stub, metrics.NewCollector("stub", ""))
	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sum, err := s.Summarize(t.Context())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if sum.Total != 2 || sum.Backend != "stub" {
		t.Errorf("summary = %+v", sum)
	}
}

type writeOnly struct{ Sink }

func TestInstrumented_SummarizeUnsupported(t *testing.T) {
	s := NewInstrumented(writeOnly{NewStub()}, nil)
	if _, err := s.Summarize(t.Context()); err == nil {
		t.Error("Summarize() on a write-only sink = nil, want error")
	}
}

func TestSummary_Rows(t *testing.T) {
	sum := Summary{Total: 3, ByProtocol: map[string]int{"QUIC": 1, "HTTP/2": 2}}
	want := [][]string{{"HTTP/2", "2"}, {"QUIC", "1"}, {"total", "3"}}
	if got := sum.Rows(); !reflect.DeepEqual(got, want) {
		t.Errorf("Rows() = %v, want %v", got, want)
	}
}
