package protocol

import (
	"encoding/binary"
	"fmt"
)

// Segment payload structure sizes.
const (
	SegmentHeaderSize = 4 // 2 frameID + 1 segmentID + 1 totalSegments
	MTUPayloadSize    = 2 // big-endian uint16 control payload
)

// Segment is one fragment of a logical audio frame, parsed from the payload
// of a Data message.
// Layout: [FrameID:2 BE][SegmentID:1][TotalSegments:1][Data:N]
type Segment struct {
	FrameID       uint16
	SegmentID     uint8
	TotalSegments uint8
	Data          []byte
}

// ParseSegment parses a Data message payload into its segment fields.
// The segment data is copied so the caller may reuse the payload slice.
func ParseSegment(payload []byte) (*Segment, error) {
	if len(payload) < SegmentHeaderSize {
		return nil, fmt.Errorf("%w: payload too short, need %d bytes, got %d",
			ErrInvalidSegment, SegmentHeaderSize, len(payload))
	}

	seg := &Segment{
		FrameID:       binary.BigEndian.Uint16(payload[0:2]),
		SegmentID:     payload[2],
		TotalSegments: payload[3],
	}
	if seg.TotalSegments == 0 {
		return nil, fmt.Errorf("%w: total segments is zero", ErrInvalidSegment)
	}
	if seg.SegmentID >= seg.TotalSegments {
		return nil, fmt.Errorf("%w: segment %d out of range for %d total",
			ErrInvalidSegment, seg.SegmentID, seg.TotalSegments)
	}

	seg.Data = make([]byte, len(payload)-SegmentHeaderSize)
	copy(seg.Data, payload[SegmentHeaderSize:])

	return seg, nil
}

// EncodeSegment builds a Data message payload from segment fields. It is the
// inverse of ParseSegment and exists mainly for the transmit path and tests.
func EncodeSegment(frameID uint16, segmentID, totalSegments uint8, data []byte) ([]byte, error) {
	if totalSegments == 0 {
		return nil, fmt.Errorf("%w: total segments is zero", ErrInvalidSegment)
	}
	if segmentID >= totalSegments {
		return nil, fmt.Errorf("%w: segment %d out of range for %d total",
			ErrInvalidSegment, segmentID, totalSegments)
	}

	out := make([]byte, SegmentHeaderSize+len(data))
	binary.BigEndian.PutUint16(out[0:2], frameID)
	out[2] = segmentID
	out[3] = totalSegments
	copy(out[SegmentHeaderSize:], data)

	return out, nil
}

// ParseMTU interprets a two-byte Control payload as the peer's negotiated
// maximum transmission unit. Control payloads of any other length are not
// MTU announcements and are passed through uninterpreted.
func ParseMTU(payload []byte) (uint16, bool) {
	if len(payload) != MTUPayloadSize {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload), true
}

// EncodeMTU builds the two-byte Control payload announcing the local read
// buffer size.
func EncodeMTU(mtu uint16) []byte {
	out := make([]byte, MTUPayloadSize)
	binary.BigEndian.PutUint16(out, mtu)
	return out
}

// String returns a human-readable representation of the segment.
func (s *Segment) String() string {
	return fmt.Sprintf("Segment{Frame:%d, Segment:%d/%d, DataLen:%d}",
		s.FrameID, s.SegmentID, s.TotalSegments, len(s.Data))
}
