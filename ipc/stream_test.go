package ipc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pithecene-io/packetline/types"
)

func writeStream(t testing.TB, pkts ...types.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, "test")
	for _, p := range pkts {
		if err := w.WritePacket(p); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	return buf.Bytes()
}

func TestStream_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []types.Packet{
		{ID: "a", Data: []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'}, Port: 80, Timestamp: ts},
		{ID: "b", Data: []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"), Port: 443, Timestamp: ts.Add(time.Second)},
	}

	r := NewReader(bytes.NewReader(writeStream(t, in...)))

	h, err := r.Header()
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if h.Version != types.StreamVersion {
		t.Errorf("Version = %q, want %q", h.Version, types.StreamVersion)
	}
	if h.Source != "test" {
		t.Errorf("Source = %q, want %q", h.Source, "test")
	}

	for _, want := range in {
		got, err := r.Next(t.Context())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got.ID != want.ID || got.Port != want.Port || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("Next() = %+v, want %+v", got, want)
		}
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
		}
	}
	if _, err := r.Next(t.Context()); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
}

func TestStream_EmptyStreamMissingHeader(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil)).Next(t.Context())

	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorVersion {
		t.Fatalf("Next() = %v, want FrameErrorVersion", err)
	}
	if !frameErr.IsFatal() {
		t.Error("missing header should be fatal")
	}
}

func TestStream_HeaderOnly(t *testing.T) {
	r := NewReader(bytes.NewReader(writeStream(t)))
	if _, err := r.Next(t.Context()); err != io.EOF {
		t.Errorf("Next() = %v, want io.EOF", err)
	}
}

func TestStream_RejectsIncompatibleVersion(t *testing.T) {
	stream := mustFrame(t, StreamHeader{Type: HeaderType, Version: "99.0.0"})
	_, err := NewReader(bytes.NewReader(stream)).Header()
	if !IsFatalFrameError(err) {
		t.Errorf("Header() = %v, want fatal version error", err)
	}
}

func TestStream_RejectsPacketBeforeHeader(t *testing.T) {
	stream := mustFrame(t, packetFrame{Type: PacketType, ID: "x"})
	_, err := NewReader(bytes.NewReader(stream)).Header()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorVersion {
		t.Errorf("Header() = %v, want FrameErrorVersion", err)
	}
}

func TestStream_DecodeErrorIsRecoverable(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(writeStream(t))
	garbage, _ := EncodeFrame([]byte{0xFF, 0xFF, 0xFF})
	buf.Write(garbage)
	buf.Write(mustFrame(t, packetFrame{Type: PacketType, ID: "after", Port: 80}))

	r := NewReader(&buf)
	_, err := r.Next(t.Context())
	if err == nil || IsFatalFrameError(err) {
		t.Fatalf("Next() = %v, want non-fatal decode error", err)
	}

	pkt, err := r.Next(t.Context())
	if err != nil {
		t.Fatalf("Next() after decode error = %v", err)
	}
	if pkt.ID != "after" {
		t.Errorf("ID = %q, want %q", pkt.ID, "after")
	}
}

func TestStream_SkipsUnknownFrameTypes(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(writeStream(t))
	buf.Write(mustFrame(t, map[string]any{"type": "stats", "dropped": 3}))
	buf.Write(mustFrame(t, packetFrame{Type: PacketType, ID: "p"}))

	pkt, err := NewReader(&buf).Next(t.Context())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if pkt.ID != "p" {
		t.Errorf("ID = %q, want %q", pkt.ID, "p")
	}
}

func TestStream_RatePacing(t *testing.T) {
	pkts := make([]types.Packet, 3)
	for i := range pkts {
		pkts[i] = types.Packet{ID: string(rune('a' + i)), Port: 80}
	}
	r := NewReader(bytes.NewReader(writeStream(t, pkts...)), WithRate(50, 1))

	start := time.Now()
	for range pkts {
		if _, err := r.Next(t.Context()); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	// Burst 1 at 50/s: the second and third packets wait ~20ms each.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 30ms with pacing", elapsed)
	}
}

func TestStream_RatePacingHonorsContext(t *testing.T) {
	pkts := []types.Packet{{ID: "a"}, {ID: "b"}}
	r := NewReader(bytes.NewReader(writeStream(t, pkts...)), WithRate(0.001, 1))

	if _, err := r.Next(t.Context()); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Next(ctx); err == nil {
		t.Error("Next() = nil, want context error while paced")
	}
}

func BenchmarkReader_Next(b *testing.B) {
	pkts := make([]types.Packet, 1000)
	for i := range pkts {
		pkts[i] = types.NewPacket(bytes.Repeat([]byte{0x81}, 256), 443)
	}
	stream := writeStream(b, pkts...)

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		r := NewReader(bytes.NewReader(stream))
		for {
			if _, err := r.Next(context.Background()); err != nil {
				if err == io.EOF {
					break
				}
				b.Fatal(err)
			}
		}
	}
}
