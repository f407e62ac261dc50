// Package protocol classifies raw payload buffers and decodes HTTP/2, QUIC and
// WebSocket framing.
//
// Everything in this package is stateless and safe for concurrent use.
// Decoders never panic on short or hostile input: a buffer shorter than a
// format's minimum header yields the zero frame. Decoded frames own a copy of
// their payload and never alias the source buffer.
package protocol

import "fmt"

// Tag is the protocol classification of a buffer.
type Tag int

// Tag values, in no particular order. Detection order lives in Detect.
const (
	TagUnknown Tag = iota
	TagHTTP2
	TagQUIC
	TagWebSocket
	TagGRPC
	TagStandard
)

var tagNames = map[Tag]string{
	TagUnknown:   "Unknown",
	TagHTTP2:     "HTTP/2",
	TagQUIC:      "QUIC",
	TagWebSocket: "WebSocket",
	TagGRPC:      "gRPC",
	TagStandard:  "Standard",
}

var tagSlugs = map[Tag]string{
	TagUnknown:   "unknown",
	TagHTTP2:     "http2",
	TagQUIC:      "quic",
	TagWebSocket: "websocket",
	TagGRPC:      "grpc",
	TagStandard:  "standard",
}

// String returns the display name of the tag.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Slug returns a lowercase identifier safe for paths and metric labels.
func (t Tag) Slug() string {
	if slug, ok := tagSlugs[t]; ok {
		return slug
	}
	return fmt.Sprintf("tag%d", int(t))
}

// MarshalText renders the tag by name so JSON and YAML output stay readable.
func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Decodable reports whether the tag has a frame decoder.
func (t Tag) Decodable() bool {
	switch t {
	case TagHTTP2, TagGRPC, TagQUIC, TagWebSocket:
		return true
	default:
		return false
	}
}

// Tags returns every tag in declaration order.
func Tags() []Tag {
	return []Tag{TagUnknown, TagHTTP2, TagQUIC, TagWebSocket, TagGRPC, TagStandard}
}
