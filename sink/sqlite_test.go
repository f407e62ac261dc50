package sink

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/packetline/protocol"
	"github.com/pithecene-io/packetline/types"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQLite_WALModeEnabled(t *testing.T) {
	s := openTestSQLite(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
	}

	var timeout int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestSQLite_WriteAndCount(t *testing.T) {
	s := openTestSQLite(t)

	if err := s.Write(t.Context(), testRecords()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(t.Context(), testRecords()[:1]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	n, err := s.Count(t.Context())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}

	counts, err := s.CountByProtocol(t.Context())
	if err != nil {
		t.Fatalf("CountByProtocol failed: %v", err)
	}
	if counts["WebSocket"] != 2 || counts["HTTP/2"] != 1 {
		t.Errorf("CountByProtocol() = %v, want WebSocket:2 HTTP/2:1", counts)
	}
}

func TestSQLite_StoresFrameColumns(t *testing.T) {
	s := openTestSQLite(t)
	if err := s.Write(t.Context(), testRecords()[:1]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var (
		frameType  string
		length     int64
		fin        bool
		payloadHex string
		streamID   *int64
	)
	err := s.db.QueryRow(
		"SELECT frame_type, length, fin, payload_hex, stream_id FROM frames WHERE packet_id = ?", "pkt-ws",
	).Scan(&frameType, &length, &fin, &payloadHex, &streamID)
	if err != nil {
		t.Fatalf("query frame: %v", err)
	}
	if frameType != "text" || length != 5 || !fin {
		t.Errorf("frame_type, length, fin = %q, %d, %v, want text, 5, true", frameType, length, fin)
	}
	if payloadHex != "48656c6c6f" {
		t.Errorf("payload_hex = %q, want %q", payloadHex, "48656c6c6f")
	}
	if streamID != nil {
		t.Errorf("stream_id = %v, want NULL for a WebSocket row", *streamID)
	}
}

func TestSQLite_StoresUndecodedRecord(t *testing.T) {
	s := openTestSQLite(t)
	pkt := types.Packet{ID: "raw", Data: []byte("GET /"), Port: 8080, Timestamp: capturedAt}
	if err := s.Write(t.Context(), []types.Record{types.NewRecord(pkt, protocol.TagStandard, nil)}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	var frameType *string
	if err := s.db.QueryRow("SELECT frame_type FROM frames WHERE packet_id = 'raw'").Scan(&frameType); err != nil {
		t.Fatalf("query: %v", err)
	}
	if frameType != nil {
		t.Errorf("frame_type = %q, want NULL", *frameType)
	}
}

func TestSQLite_WriteAfterCloseIsStorageError(t *testing.T) {
	s, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "frames.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = s.Close()

	err = s.Write(t.Context(), testRecords())
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Write() after Close = %v, want *StorageError", err)
	}
	if storageErr.Op != "write" {
		t.Errorf("Op = %q, want write", storageErr.Op)
	}
}

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	_, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "missing", "frames.db"))
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("OpenSQLite() = %v, want *StorageError", err)
	}
	if storageErr.Op != "init" {
		t.Errorf("Op = %q, want init", storageErr.Op)
	}
}
