package protocol

import "golang.org/x/net/http2"

// http2HeaderSize is the fixed HTTP/2 frame header size (RFC 9113 §4.1).
const http2HeaderSize = 9

// streamIDMask clears the reserved high bit of the stream identifier.
const streamIDMask = 0x7fffffff

// HTTP2Frame is a single decoded HTTP/2 frame.
type HTTP2Frame struct {
	// Length is the 24-bit declared payload length.
	Length uint32 `json:"length" yaml:"length"`
	// Type is the frame type (0-10 are assigned).
	Type uint8 `json:"type" yaml:"type"`
	// Flags holds the type-specific flag bits.
	Flags uint8 `json:"flags" yaml:"flags"`
	// StreamID is the 31-bit stream identifier.
	StreamID uint32 `json:"stream_id" yaml:"stream_id"`
	// Payload holds at most Length bytes; fewer when the buffer was truncated.
	Payload []byte `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ParseHTTP2Frame decodes the frame at the start of buf.
// Returns the zero frame when buf is shorter than the 9-byte header.
func ParseHTTP2Frame(buf []byte) HTTP2Frame {
	var f HTTP2Frame
	if len(buf) < http2HeaderSize {
		return f
	}

	f.Length = uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	f.Type = buf[3]
	f.Flags = buf[4]
	f.StreamID = (uint32(buf[5])<<24 | uint32(buf[6])<<16 | uint32(buf[7])<<8 | uint32(buf[8])) & streamIDMask

	if f.Length > 0 && len(buf) > http2HeaderSize {
		n := min(int(f.Length), len(buf)-http2HeaderSize)
		f.Payload = copyBytes(buf[http2HeaderSize : http2HeaderSize+n])
	}
	return f
}

// TypeName returns the registered name of the frame type, e.g. "SETTINGS".
func (f HTTP2Frame) TypeName() string {
	return http2.FrameType(f.Type).String()
}

// Truncated reports whether fewer payload bytes were available than declared.
func (f HTTP2Frame) Truncated() bool {
	return uint32(len(f.Payload)) < f.Length
}

// Kind implements Frame.
func (f HTTP2Frame) Kind() Tag { return TagHTTP2 }

// PayloadBytes implements Frame.
func (f HTTP2Frame) PayloadBytes() []byte { return f.Payload }

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
