package protocol

import (
	"encoding/binary"
	"fmt"
)

// WebSocket header layout (RFC 6455 §5.2).
const (
	wsMinHeaderSize = 2
	wsFinBit        = 0x80
	wsOpcodeMask    = 0x0f
	wsMaskBit       = 0x80
	wsLengthMask    = 0x7f
	wsLength16      = 126
	wsLength64      = 127
	wsMaskKeySize   = 4
)

// WebSocket opcodes.
const (
	OpContinuation uint8 = 0x0
	OpText         uint8 = 0x1
	OpBinary       uint8 = 0x2
	OpClose        uint8 = 0x8
	OpPing         uint8 = 0x9
	OpPong         uint8 = 0xa
)

var opcodeNames = map[uint8]string{
	OpContinuation: "continuation",
	OpText:         "text",
	OpBinary:       "binary",
	OpClose:        "close",
	OpPing:         "ping",
	OpPong:         "pong",
}

// IsValidOpcode reports whether op is a defined WebSocket opcode.
func IsValidOpcode(op uint8) bool {
	_, ok := opcodeNames[op]
	return ok
}

// WebSocketFrame is a decoded WebSocket frame header plus payload.
type WebSocketFrame struct {
	Fin    bool  `json:"fin" yaml:"fin"`
	Opcode uint8 `json:"opcode" yaml:"opcode"`
	Masked bool  `json:"masked" yaml:"masked"`
	// PayloadLength is the declared length. When the extended length bytes
	// are missing it holds the raw 7-bit marker (126 or 127).
	PayloadLength uint64 `json:"payload_length" yaml:"payload_length"`
	// HeaderLength is the number of header bytes consumed, 2 to 14.
	HeaderLength int `json:"header_length" yaml:"header_length"`
	// Payload is copied verbatim. Masked payloads are not unmasked.
	Payload []byte `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ParseWebSocket decodes the frame at the start of buf.
// Returns the zero frame when buf is shorter than 2 bytes.
func ParseWebSocket(buf []byte) WebSocketFrame {
	var f WebSocketFrame
	if len(buf) < wsMinHeaderSize {
		return f
	}

	f.Fin = buf[0]&wsFinBit != 0
	f.Opcode = buf[0] & wsOpcodeMask
	f.Masked = buf[1]&wsMaskBit != 0

	marker := buf[1] & wsLengthMask
	header := wsMinHeaderSize
	switch {
	case marker == wsLength16 && len(buf) >= 4:
		f.PayloadLength = uint64(binary.BigEndian.Uint16(buf[2:4]))
		header = 4
	case marker == wsLength64 && len(buf) >= 10:
		f.PayloadLength = binary.BigEndian.Uint64(buf[2:10])
		header = 10
	default:
		f.PayloadLength = uint64(marker)
	}

	if f.Masked {
		header += wsMaskKeySize
	}
	f.HeaderLength = header

	if len(buf) > header && f.PayloadLength > 0 {
		n := min(f.PayloadLength, uint64(len(buf)-header))
		f.Payload = copyBytes(buf[header : header+int(n)])
	}
	return f
}

// OpcodeName names the opcode, e.g. "text".
func (f WebSocketFrame) OpcodeName() string {
	if name, ok := opcodeNames[f.Opcode]; ok {
		return name
	}
	return fmt.Sprintf("reserved(0x%x)", f.Opcode)
}

// IsControl reports whether the frame is a control frame (close, ping, pong).
func (f WebSocketFrame) IsControl() bool {
	return f.Opcode&0x8 != 0
}

// Kind implements Frame.
func (f WebSocketFrame) Kind() Tag { return TagWebSocket }

// PayloadBytes implements Frame.
func (f WebSocketFrame) PayloadBytes() []byte { return f.Payload }

// wsRequiredHeader returns the header size buf declares, including extended
// length and mask key bytes. buf must hold at least 2 bytes.
func wsRequiredHeader(buf []byte) int {
	header := wsMinHeaderSize
	switch buf[1] & wsLengthMask {
	case wsLength16:
		header = 4
	case wsLength64:
		header = 10
	}
	if buf[1]&wsMaskBit != 0 {
		header += wsMaskKeySize
	}
	return header
}
