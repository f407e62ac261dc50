package protocol

import (
	"bytes"
	"encoding/binary"
)

// Detection constants.
const (
	// minDetectSize is the smallest buffer Detect will classify.
	minDetectSize = 4
	// minPrefaceSize is the buffer size required before the preface rule applies.
	minPrefaceSize = 24
	// maxDetectFrameLength is the largest frame length accepted as HTTP/2
	// (the SETTINGS_MAX_FRAME_SIZE initial value).
	maxDetectFrameLength = 16384
	// maxFrameType is the largest HTTP/2 frame type treated as valid.
	maxFrameType = 10
	// grpcScanWindow bounds the search for the gRPC content type.
	grpcScanWindow = 100
	// minGRPCSize is the exclusive lower bound on buffer size for gRPC detection.
	minGRPCSize = 20
)

// prefaceMagic is the first 14 bytes of the HTTP/2 client connection preface.
var prefaceMagic = []byte("PRI * HTTP/2.0")

var grpcContentType = []byte("application/grpc")

// Detect classifies buf observed on port.
//
// Rules are evaluated in order and the first match wins:
//  1. Unknown when buf is shorter than 4 bytes.
//  2. HTTP/2 on port 80/443 when buf holds at least 24 bytes and starts
//     with the connection preface magic.
//  3. HTTP/2 on port 80/443 when the first 9 bytes are a plausible frame
//     header (length <= 16384, type <= 10).
//  4. QUIC on port 80/443: long header with a non-zero version, or short
//     header with the fixed bit set.
//  5. WebSocket on port 80/443 when the low nibble of byte 0 is a defined
//     opcode.
//  6. gRPC on port 80/443 when buf is longer than 20 bytes and the first
//     100 bytes contain "application/grpc".
//  7. Standard otherwise.
//
// The heuristics overlap and can misfire on arbitrary binary data (any buffer
// whose first byte has the low nibble 1 looks like a WebSocket text frame).
// The order is part of the contract; callers rely on it for reproducible
// classification.
func Detect(buf []byte, port uint16) Tag {
	if len(buf) < minDetectSize {
		return TagUnknown
	}
	if !isWebPort(port) {
		return TagStandard
	}

	if len(buf) >= minPrefaceSize && bytes.HasPrefix(buf, prefaceMagic) {
		return TagHTTP2
	}
	if looksLikeHTTP2Frame(buf) {
		return TagHTTP2
	}

	if looksLikeQUIC(buf) {
		return TagQUIC
	}

	if looksLikeWebSocket(buf) {
		return TagWebSocket
	}

	if len(buf) > minGRPCSize {
		window := buf[:min(len(buf), grpcScanWindow)]
		if bytes.Contains(window, grpcContentType) {
			return TagGRPC
		}
	}

	return TagStandard
}

func isWebPort(port uint16) bool {
	return port == 80 || port == 443
}

func looksLikeHTTP2Frame(buf []byte) bool {
	if len(buf) < http2HeaderSize {
		return false
	}
	length := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	return length <= maxDetectFrameLength && buf[3] <= maxFrameType
}

func looksLikeQUIC(buf []byte) bool {
	if len(buf) < 1 {
		return false
	}
	first := buf[0]
	if first&quicLongHeaderBit != 0 {
		if len(buf) < quicLongHeaderSize {
			return false
		}
		// Version 0 is reserved for version negotiation.
		return binary.BigEndian.Uint32(buf[1:5]) != 0
	}
	return first&quicFixedBit != 0
}

func looksLikeWebSocket(buf []byte) bool {
	if len(buf) < wsMinHeaderSize {
		return false
	}
	return IsValidOpcode(buf[0] & wsOpcodeMask)
}
