package sink

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/packetline/metrics"
	"github.com/pithecene-io/packetline/protocol"
	"github.com/pithecene-io/packetline/types"
)

var capturedAt = time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

func testRecords() []types.Record {
	ws := types.Packet{ID: "pkt-ws", Data: []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'}, Port: 80, Timestamp: capturedAt}
	h2 := types.Packet{ID: "pkt-h2", Data: make([]byte, 9), Port: 443, Timestamp: capturedAt}
	return []types.Record{
		types.NewRecord(ws, protocol.TagWebSocket, protocol.ParseWebSocket(ws.Data)),
		types.NewRecord(h2, protocol.TagHTTP2, protocol.ParseHTTP2Frame(h2.Data)),
	}
}

func TestDeriveDay(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	local := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	if got := DeriveDay(local); got != "2026-03-02" {
		t.Errorf("DeriveDay() = %q, want %q", got, "2026-03-02")
	}
}

func TestStub_WriteAndFail(t *testing.T) {
	s := NewStub()
	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	boom := errors.New("boom")
	s.Fail(boom)
	if err := s.Write(t.Context(), testRecords()); !errors.Is(err, boom) {
		t.Errorf("Write() = %v, want %v", err, boom)
	}
	s.Fail(nil)

	if s.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", s.Writes())
	}
	recs := s.Records()
	if len(recs) != 2 || recs[0].PacketID != "pkt-ws" || recs[1].PacketID != "pkt-h2" {
		t.Errorf("Records() = %+v, want ws then h2", recs)
	}

	_ = s.Close()
	if !s.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestStub_ConcurrentWrites(t *testing.T) {
	s := NewStub()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Write(context.Background(), testRecords()[:1])
		}()
	}
	wg.Wait()
	if got := len(s.Records()); got != 20 {
		t.Errorf("len(Records()) = %d, want 20", got)
	}
}

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func TestLode_WriteReadRoundTrip(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())

	s, err := NewLode("", factory)
	if err != nil {
		t.Fatalf("NewLode failed: %v", err)
	}
	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ds, err := NewReadDataset(DefaultDataset, factory)
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}
	latest, err := ds.Latest(t.Context())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	data, err := ds.Read(t.Context(), latest.ID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("Read returned %d items, want 2", len(data))
	}

	byID := make(map[string]map[string]any)
	for _, item := range data {
		row, ok := item.(map[string]any)
		if !ok {
			t.Fatalf("record type = %T, want map[string]any", item)
		}
		id, _ := row["packet_id"].(string)
		byID[id] = row
	}

	ws := byID["pkt-ws"]
	if ws == nil {
		t.Fatal("missing pkt-ws row")
	}
	if ws[PartitionDay] != "2026-03-01" {
		t.Errorf("day = %v, want 2026-03-01", ws[PartitionDay])
	}
	if ws[PartitionProtocol] != "websocket" {
		t.Errorf("proto = %v, want websocket", ws[PartitionProtocol])
	}
	if ws["frame_type"] != "text" {
		t.Errorf("frame_type = %v, want text", ws["frame_type"])
	}
	if byID["pkt-h2"][PartitionProtocol] != "http2" {
		t.Errorf("proto = %v, want http2", byID["pkt-h2"][PartitionProtocol])
	}

	paths := make([]string, 0, len(latest.Manifest.Files))
	for _, f := range latest.Manifest.Files {
		paths = append(paths, f.Path)
	}
	if !anyContains(paths, "proto=websocket") || !anyContains(paths, "day=2026-03-01") {
		t.Errorf("manifest paths %v missing hive partitions", paths)
	}
}

func anyContains(paths []string, segment string) bool {
	for _, p := range paths {
		for i := 0; i+len(segment) <= len(p); i++ {
			if p[i:i+len(segment)] == segment {
				return true
			}
		}
	}
	return false
}

func TestLode_EmptyBatchIsNoop(t *testing.T) {
	store := &failingStore{putErr: errors.New("should not be called")}
	s, err := NewLode("packets", sharedFactory(store))
	if err != nil {
		t.Fatalf("NewLode failed: %v", err)
	}
	if err := s.Write(t.Context(), nil); err != nil {
		t.Errorf("Write(nil) = %v, want nil", err)
	}
	if store.putCalls != 0 {
		t.Errorf("putCalls = %d, want 0", store.putCalls)
	}
}

func TestLode_FSWrite(t *testing.T) {
	s, err := NewLodeFS("packets", t.TempDir()+"/nested/root")
	if err != nil {
		t.Fatalf("NewLodeFS failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

// failingStore is a lode.Store whose writes fail with putErr.
type failingStore struct {
	putErr   error
	putCalls int
}

func (s *failingStore) Put(_ context.Context, _ string, _ io.Reader) error {
	s.putCalls++
	return s.putErr
}

func (s *failingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func (s *failingStore) Exists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *failingStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (s *failingStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (s *failingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

func TestLode_WriteFailureIsClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"disk full", errors.New("write /data/frames.jsonl: no space left on device"), ErrDiskFull},
		{"permission", errors.New("write /data/frames.jsonl: permission denied"), ErrPermissionDenied},
		{"throttled", errors.New("SlowDown: please reduce your request rate"), ErrThrottled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewLode("packets", sharedFactory(&failingStore{putErr: tt.err}))
			if err != nil {
				t.Fatalf("NewLode failed: %v", err)
			}
			err = s.Write(t.Context(), testRecords())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Write() = %v, want %v", err, tt.want)
			}
			var storageErr *StorageError
			if !errors.As(err, &storageErr) {
				t.Fatalf("expected *StorageError, got %T", err)
			}
			if storageErr.Op != "write" || storageErr.Path != "packets" {
				t.Errorf("Op, Path = %q, %q, want write, packets", storageErr.Op, storageErr.Path)
			}
		})
	}
}

func TestInstrumented_CountsOutcomes(t *testing.T) {
	inner := NewStub()
	c := metrics.NewCollector("stub", "")
	s := NewInstrumented(inner, c)

	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	inner.Fail(errors.New("unavailable"))
	if err := s.Write(t.Context(), testRecords()); err == nil {
		t.Fatal("Write() = nil, want inner error")
	}

	snap := c.Snapshot()
	if snap.RecordsStored != 2 {
		t.Errorf("RecordsStored = %d, want 2", snap.RecordsStored)
	}
	if snap.StorageWriteFailure != 1 {
		t.Errorf("StorageWriteFailure = %d, want 1", snap.StorageWriteFailure)
	}

	_ = s.Close()
	if !inner.Closed() {
		t.Error("Close did not reach inner sink")
	}
	if s.Unwrap() != Sink(inner) {
		t.Error("Unwrap() did not return inner sink")
	}
}

func TestInstrumented_NilCollector(t *testing.T) {
	s := NewInstrumented(NewStub(), nil)
	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Errorf("Write() = %v, want nil", err)
	}
}

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{}, "*sink.Stub"},
		{Config{Backend: BackendStub}, "*sink.Stub"},
		{Config{Backend: BackendMemory}, "*sink.Lode"},
		{Config{Backend: BackendFS, Path: dir + "/fs"}, "*sink.Lode"},
		{Config{Backend: BackendSQLite, Path: dir + "/frames.db"}, "*sink.SQLite"},
	}
	for _, tt := range tests {
		s, err := Open(t.Context(), tt.cfg)
		if err != nil {
			t.Fatalf("Open(%q) failed: %v", tt.cfg.Backend, err)
		}
		if got := typeName(s); got != tt.want {
			t.Errorf("Open(%q) = %s, want %s", tt.cfg.Backend, got, tt.want)
		}
		_ = s.Close()
	}
}

func typeName(s Sink) string {
	switch s.(type) {
	case *Stub:
		return "*sink.Stub"
	case *Lode:
		return "*sink.Lode"
	case *SQLite:
		return "*sink.SQLite"
	default:
		return "unknown"
	}
}

func TestOpen_Errors(t *testing.T) {
	for _, cfg := range []Config{
		{Backend: "tape"},
		{Backend: BackendFS},
		{Backend: BackendSQLite},
		{Backend: BackendS3},
	} {
		s, err := Open(t.Context(), cfg)
		if err == nil {
			t.Errorf("Open(%+v) = nil error, want failure", cfg)
		}
		if s != nil {
			t.Errorf("Open(%+v) returned non-nil sink on error", cfg)
		}
	}
}

func TestBackend_Valid(t *testing.T) {
	for _, b := range Backends() {
		if !b.Valid() {
			t.Errorf("%q.Valid() = false", b)
		}
	}
	if Backend("tape").Valid() {
		t.Error(`"tape".Valid() = true`)
	}
}
