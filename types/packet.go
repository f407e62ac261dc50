// Package types defines the values exchanged between the capture, pipeline
// and storage layers.
package types //nolint:revive // types is a valid package name

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/packetline/protocol"
)

// Packet is one captured payload as handed over by the capture layer.
type Packet struct {
	// ID uniquely identifies the packet across retries.
	ID string `msgpack:"id" json:"id"`
	// Data is the raw payload. The pipeline never mutates it.
	Data []byte `msgpack:"data" json:"data"`
	// Port is the transport port the payload was observed on.
	Port uint16 `msgpack:"port" json:"port"`
	// Timestamp is the capture time.
	Timestamp time.Time `msgpack:"ts" json:"ts"`
}

// NewPacket creates a packet with a fresh ID captured now.
func NewPacket(data []byte, port uint16) Packet {
	return Packet{
		ID:        uuid.New().String(),
		Data:      data,
		Port:      port,
		Timestamp: time.Now().UTC(),
	}
}

// Record is the storage tuple produced by the parsing stage.
type Record struct {
	PacketID   string         `json:"packet_id"`
	Port       uint16         `json:"port"`
	CapturedAt time.Time      `json:"captured_at"`
	Protocol   protocol.Tag   `json:"protocol"`
	Frame      protocol.Frame `json:"frame,omitempty"`
	// Size is the raw payload size in bytes.
	Size int `json:"size"`
}

// NewRecord builds the record for pkt classified as tag and decoded as frame.
func NewRecord(pkt Packet, tag protocol.Tag, frame protocol.Frame) Record {
	return Record{
		PacketID:   pkt.ID,
		Port:       pkt.Port,
		CapturedAt: pkt.Timestamp,
		Protocol:   tag,
		Frame:      frame,
		Size:       len(pkt.Data),
	}
}

// Fields flattens the record into a row of scalar columns.
// Frame specific columns are present only for the decoded frame kind.
func (r Record) Fields() map[string]any {
	row := map[string]any{
		"packet_id":   r.PacketID,
		"port":        int(r.Port),
		"captured_at": r.CapturedAt.UTC().Format(time.RFC3339Nano),
		"protocol":    r.Protocol.String(),
		"size":        r.Size,
	}

	switch f := r.Frame.(type) {
	case protocol.HTTP2Frame:
		row["frame_type"] = f.TypeName()
		row["length"] = int64(f.Length)
		row["flags"] = int(f.Flags)
		row["stream_id"] = int64(f.StreamID)
		row["payload_hex"] = hex.EncodeToString(f.Payload)
	case protocol.QUICPacket:
		row["frame_type"] = f.PacketTypeName()
		row["version"] = int64(f.Version)
		row["long_header"] = f.LongHeader
		row["payload_hex"] = hex.EncodeToString(f.Payload)
	case protocol.WebSocketFrame:
		row["frame_type"] = f.OpcodeName()
		row["fin"] = f.Fin
		row["masked"] = f.Masked
		// uint64 lengths above MaxInt64 are clamped for JSON/SQL portability.
		row["length"] = clampInt64(f.PayloadLength)
		row["payload_hex"] = hex.EncodeToString(f.Payload)
	}
	return row
}

func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
