package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Message type codes. The peer firmware documentation and its enum disagree
// on the assignment of Control and Data; this table follows the prose
// documentation (Control=0x01, Data=0x02) extended with the Info code that
// only the enum defines. Encoder and decoder both use this table.
const (
	TypeControl uint8 = 0x01
	TypeData    uint8 = 0x02
	TypeError   uint8 = 0x03
	TypeAck     uint8 = 0x04
	TypeInfo    uint8 = 0x05
)

// Message structure sizes.
const (
	HeaderSize     = 3 // 1 type byte + 2 length bytes
	ChecksumSize   = 1
	MinMessageSize = HeaderSize + ChecksumSize // zero-length payload
	MaxPayloadSize = 65535
)

// Typed decode errors. Callers match with errors.Is; Decode wraps them with
// positional detail.
var (
	ErrTruncated        = errors.New("message truncated")
	ErrUnknownType      = errors.New("unknown message type")
	ErrLengthMismatch   = errors.New("message length mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrInvalidSegment   = errors.New("invalid segment")
)

// Message is one decoded wire message. Immutable once constructed.
type Message struct {
	Type    uint8
	Payload []byte
}

// IsValidType reports whether code is a recognized message type.
func IsValidType(code uint8) bool {
	return code >= TypeControl && code <= TypeInfo
}

// xorFold computes the single-byte XOR parity over data.
//
// An XOR fold detects any single-bit flip but is blind to corruption
// patterns that cancel, e.g. the same bit position flipped in two different
// bytes. That weakness is part of the wire format, not something this layer
// tries to compensate for.
func xorFold(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// Encode serializes a message as type, big-endian length, payload and a
// trailing XOR checksum over everything before it.
func Encode(msgType uint8, payload []byte) ([]byte, error) {
	if !IsValidType(msgType) {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, msgType)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	out := make([]byte, MinMessageSize+len(payload))
	out[0] = msgType
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[HeaderSize:], payload)
	out[len(out)-1] = xorFold(out[:len(out)-1])

	return out, nil
}

// Decode parses exactly one serialized message. The input must contain the
// whole message and nothing else; framing a byte stream into candidate
// slices is the deframer's job.
func Decode(data []byte) (*Message, error) {
	if len(data) < MinMessageSize {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrTruncated, MinMessageSize, len(data))
	}

	msgType := data[0]
	if !IsValidType(msgType) {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, msgType)
	}

	length := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) != length+MinMessageSize {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, message is %d bytes",
			ErrLengthMismatch, length, len(data))
	}

	body := data[:len(data)-1]
	if got, want := data[len(data)-1], xorFold(body); got != want {
		return nil, fmt.Errorf("%w: got 0x%02x, computed 0x%02x",
			ErrChecksumMismatch, got, want)
	}

	payload := make([]byte, length)
	copy(payload, data[HeaderSize:HeaderSize+length])

	return &Message{Type: msgType, Payload: payload}, nil
}

// String returns a human-readable representation of the message.
func (m *Message) String() string {
	return fmt.Sprintf("Message{Type:%s, PayloadLen:%d}", TypeName(m.Type), len(m.Payload))
}

// ErrorKind maps a decode error to a stable label for counters and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrInvalidSegment):
		return "invalid_segment"
	default:
		return "other"
	}
}

// TypeName converts a message type code to a human-readable name.
func TypeName(code uint8) string {
	switch code {
	case TypeControl:
		return "Control"
	case TypeData:
		return "Data"
	case TypeError:
		return "Error"
	case TypeAck:
		return "Ack"
	case TypeInfo:
		return "Info"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", code)
	}
}
