package ipc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/packetline/types"
)

// Reader yields packets from a capture stream.
// Not safe for concurrent use.
type Reader struct {
	dec     *FrameDecoder
	limiter *rate.Limiter

	header     StreamHeader
	headerRead bool
	packets    int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithRate paces Next to at most perSecond packets with the given burst.
// A non-positive perSecond disables pacing.
func WithRate(perSecond float64, burst int) ReaderOption {
	return func(r *Reader) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewReader creates a stream reader over r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	sr := &Reader{dec: NewFrameDecoder(r)}
	for _, opt := range opts {
		opt(sr)
	}
	return sr
}

// Header reads and validates the stream header if it has not been read yet.
func (r *Reader) Header() (StreamHeader, error) {
	if r.headerRead {
		return r.header, nil
	}

	payload, err := r.dec.ReadFrame()
	if err != nil {
		if err == io.EOF {
			return StreamHeader{}, &FrameError{Kind: FrameErrorVersion, Msg: "empty stream: missing header"}
		}
		return StreamHeader{}, err
	}

	var h StreamHeader
	if err := msgpack.Unmarshal(payload, &h); err != nil {
		return StreamHeader{}, &FrameError{Kind: FrameErrorVersion, Msg: "failed to decode stream header", Err: err}
	}
	if h.Type != HeaderType {
		return StreamHeader{}, &FrameError{
			Kind: FrameErrorVersion,
			Msg:  fmt.Sprintf("first frame has type %q, want %q", h.Type, HeaderType),
		}
	}
	if major(h.Version) != major(types.StreamVersion) {
		return StreamHeader{}, &FrameError{
			Kind: FrameErrorVersion,
			Msg:  fmt.Sprintf("stream version %s incompatible with %s", h.Version, types.StreamVersion),
		}
	}

	r.header = h
	r.headerRead = true
	return h, nil
}

// Next returns the next packet.
//
// Returns io.EOF at a clean end of stream. A *FrameError with
// FrameErrorDecode loses only the current frame and Next may be called
// again; any other error is fatal. Unknown frame types are skipped.
func (r *Reader) Next(ctx context.Context) (types.Packet, error) {
	if _, err := r.Header(); err != nil {
		return types.Packet{}, err
	}

	for {
		payload, err := r.dec.ReadFrame()
		if err != nil {
			return types.Packet{}, err
		}

		typ, err := probeType(payload)
		if err != nil {
			return types.Packet{}, err
		}
		if typ != PacketType {
			continue
		}

		var f packetFrame
		if err := msgpack.Unmarshal(payload, &f); err != nil {
			return types.Packet{}, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode packet", Err: err}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return types.Packet{}, err
			}
		}

		r.packets++
		return types.Packet{
			ID:        f.ID,
			Data:      f.Data,
			Port:      f.Port,
			Timestamp: f.Ts,
		}, nil
	}
}

// Count returns the number of packets returned so far.
func (r *Reader) Count() int {
	return r.packets
}

func major(version string) string {
	v, _, _ := strings.Cut(version, ".")
	return v
}

// Writer produces a capture stream.
// Not safe for concurrent use.
type Writer struct {
	w           io.Writer
	source      string
	now         func() time.Time
	wroteHeader bool
	packets     int
}

// NewWriter creates a stream writer. source names the capture origin
// recorded in the header.
func NewWriter(w io.Writer, source string) *Writer {
	return &Writer{w: w, source: source, now: time.Now}
}

// WriteHeader writes the stream header. WritePacket calls it implicitly.
func (w *Writer) WriteHeader() error {
	if w.wroteHeader {
		return nil
	}
	if err := w.writeValue(StreamHeader{
		Type:      HeaderType,
		Version:   types.StreamVersion,
		Source:    w.source,
		CreatedAt: w.now().UTC(),
	}); err != nil {
		return fmt.Errorf("ipc: write header: %w", err)
	}
	w.wroteHeader = true
	return nil
}

// WritePacket appends pkt to the stream.
func (w *Writer) WritePacket(pkt types.Packet) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := w.writeValue(packetFrame{
		Type: PacketType,
		ID:   pkt.ID,
		Data: pkt.Data,
		Port: pkt.Port,
		Ts:   pkt.Timestamp,
	}); err != nil {
		return fmt.Errorf("ipc: write packet %s: %w", pkt.ID, err)
	}
	w.packets++
	return nil
}

// Count returns the number of packets written.
func (w *Writer) Count() int {
	return w.packets
}

func (w *Writer) writeValue(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.w.Write(frame)
	return err
}
