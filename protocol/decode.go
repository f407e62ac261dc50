package protocol

import (
	"errors"
	"fmt"
)

// Decode errors.
var (
	// ErrTruncated is returned when buf is shorter than the minimum header
	// of the requested format.
	ErrTruncated = errors.New("protocol: buffer truncated")
	// ErrUnsupported is returned for tags without a decoder.
	ErrUnsupported = errors.New("protocol: no decoder for tag")
)

// Frame is a decoded protocol unit.
type Frame interface {
	// Kind is the protocol family of the frame. gRPC traffic decodes to
	// HTTP/2 frames and reports TagHTTP2.
	Kind() Tag
	// PayloadBytes returns the frame payload (owned by the frame).
	PayloadBytes() []byte
}

var (
	_ Frame = HTTP2Frame{}
	_ Frame = QUICPacket{}
	_ Frame = WebSocketFrame{}
)

// Decode dispatches buf to the decoder for tag.
//
// Unlike the Parse functions, Decode reports short input as ErrTruncated
// instead of returning a zero frame. A WebSocket buffer whose declared
// extended length or mask key bytes are missing is also truncated.
func Decode(tag Tag, buf []byte) (Frame, error) {
	switch tag {
	case TagHTTP2, TagGRPC:
		if len(buf) < http2HeaderSize {
			return nil, truncated(tag, len(buf), http2HeaderSize)
		}
		return ParseHTTP2Frame(buf), nil

	case TagQUIC:
		need := quicShortHeaderSize
		if len(buf) > 0 && buf[0]&quicLongHeaderBit != 0 {
			need = quicLongHeaderSize
		}
		if len(buf) < need {
			return nil, truncated(tag, len(buf), need)
		}
		return ParseQUIC(buf), nil

	case TagWebSocket:
		if len(buf) < wsMinHeaderSize {
			return nil, truncated(tag, len(buf), wsMinHeaderSize)
		}
		if need := wsRequiredHeader(buf); len(buf) < need {
			return nil, truncated(tag, len(buf), need)
		}
		return ParseWebSocket(buf), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, tag)
	}
}

// DetectAndDecode classifies buf and decodes it when the tag is decodable.
// The frame is nil for tags without a decoder.
func DetectAndDecode(buf []byte, port uint16) (Tag, Frame, error) {
	tag := Detect(buf, port)
	if !tag.Decodable() {
		return tag, nil, nil
	}
	frame, err := Decode(tag, buf)
	return tag, frame, err
}

func truncated(tag Tag, have, need int) error {
	return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncated, tag, need, have)
}
