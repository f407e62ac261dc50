package protocol

import "encoding/binary"

// QUIC header layout (RFC 9000 §17).
const (
	quicLongHeaderBit  = 0x80
	quicFixedBit       = 0x40
	quicPacketTypeMask = 0x30
	// quicLongHeaderSize covers the first byte plus the 4-byte version.
	quicLongHeaderSize  = 5
	quicShortHeaderSize = 1
)

// Long header packet types.
const (
	QUICInitial   uint8 = 0
	QUICZeroRTT   uint8 = 1
	QUICHandshake uint8 = 2
	QUICRetry     uint8 = 3
)

// QUICPacket is the decoded leading header of a QUIC packet.
// Connection IDs and packet numbers are not decoded.
type QUICPacket struct {
	// Version is zero for short headers and version negotiation.
	Version uint32 `json:"version" yaml:"version"`
	// LongHeader is set when the top bit of the first byte is set.
	LongHeader bool `json:"long_header" yaml:"long_header"`
	// PacketType is the 2-bit long header type; zero for short headers.
	PacketType uint8 `json:"packet_type" yaml:"packet_type"`
	// Payload is everything after the decoded header bytes.
	Payload []byte `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ParseQUIC decodes the leading header of buf.
// Returns the zero packet when buf is empty.
func ParseQUIC(buf []byte) QUICPacket {
	var p QUICPacket
	if len(buf) < quicShortHeaderSize {
		return p
	}

	first := buf[0]
	p.LongHeader = first&quicLongHeaderBit != 0

	start := quicShortHeaderSize
	if p.LongHeader {
		start = quicLongHeaderSize
		if len(buf) >= quicLongHeaderSize {
			p.Version = binary.BigEndian.Uint32(buf[1:5])
			p.PacketType = (first & quicPacketTypeMask) >> 4
		}
	}

	if len(buf) > start {
		p.Payload = copyBytes(buf[start:])
	}
	return p
}

// PacketTypeName names the long header packet type.
// Short header packets report "1-RTT".
func (p QUICPacket) PacketTypeName() string {
	if !p.LongHeader {
		return "1-RTT"
	}
	switch p.PacketType {
	case QUICInitial:
		return "Initial"
	case QUICZeroRTT:
		return "0-RTT"
	case QUICHandshake:
		return "Handshake"
	default:
		return "Retry"
	}
}

// IsVersionNegotiation reports whether this is a version negotiation packet.
func (p QUICPacket) IsVersionNegotiation() bool {
	return p.LongHeader && p.Version == 0
}

// Kind implements Frame.
func (p QUICPacket) Kind() Tag { return TagQUIC }

// PayloadBytes implements Frame.
func (p QUICPacket) PayloadBytes() []byte { return p.Payload }
