package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// HeaderSize is the fixed length of a SOME/IP header in bytes.
const HeaderSize = 16

// ProtocolVersion is the only protocol version this implementation emits or accepts.
const ProtocolVersion uint8 = 1

// MessageType is the SOME/IP message type byte (offset 14).
type MessageType uint8

const (
	MessageTypeRequest            MessageType = 0x00
	MessageTypeRequestNoReturn    MessageType = 0x01
	MessageTypeNotification       MessageType = 0x02
	MessageTypeResponse           MessageType = 0x80
	MessageTypeError              MessageType = 0x81
	MessageTypeTPRequest          MessageType = 0x20
	MessageTypeTPRequestNoReturn  MessageType = 0x21
	MessageTypeTPNotification     MessageType = 0x22
	MessageTypeTPResponse         MessageType = 0xa0
	MessageTypeTPError            MessageType = 0xa1
)

// ReturnCode is the SOME/IP return code byte (offset 15).
type ReturnCode uint8

const (
	ReturnCodeOK                  ReturnCode = 0x00
	ReturnCodeNotOK               ReturnCode = 0x01
	ReturnCodeUnknownService      ReturnCode = 0x02
	ReturnCodeUnknownMethod       ReturnCode = 0x03
	ReturnCodeNotReady            ReturnCode = 0x04
	ReturnCodeNotReachable        ReturnCode = 0x05
	ReturnCodeTimeout             ReturnCode = 0x06
	ReturnCodeWrongProtocolVer    ReturnCode = 0x07
	ReturnCodeWrongInterfaceVer   ReturnCode = 0x08
	ReturnCodeMalformedMessage    ReturnCode = 0x09
	ReturnCodeWrongMessageType    ReturnCode = 0x0a
)

// eventBit marks a MethodID field (offset 2) as an EventID (bit 15 set).
const eventBit = uint16(0x8000)

// Header is the 16-byte SOME/IP header.
type Header struct {
	ServiceID      uint16
	MethodOrEvent  uint16 // bit 15 set when this carries an EventID
	Length         uint32 // bytes after the Length field itself
	ClientID       uint16
	SessionID      uint16
	ProtocolVer    uint8
	InterfaceVer   uint8
	MessageType    MessageType
	ReturnCode     ReturnCode
}

// IsEvent reports whether MethodOrEvent carries an EventID rather than a MethodID.
func (h Header) IsEvent() bool {
	return h.MethodOrEvent&eventBit != 0
}

// EventID extracts the EventID, clearing the event marker bit.
func (h Header) EventID() uint16 {
	return h.MethodOrEvent &^ eventBit
}

// MethodID extracts the MethodID; only meaningful when !IsEvent().
func (h Header) MethodID() uint16 {
	return h.MethodOrEvent
}

// Encode serializes the header followed by payload into a wire frame.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], h.ServiceID)
	binary.BigEndian.PutUint16(buf[2:4], h.MethodOrEvent)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload))+8)
	binary.BigEndian.PutUint16(buf[8:10], h.ClientID)
	binary.BigEndian.PutUint16(buf[10:12], h.SessionID)
	buf[12] = h.ProtocolVer
	buf[13] = h.InterfaceVer
	buf[14] = byte(h.MessageType)
	buf[15] = byte(h.ReturnCode)
	copy(buf[16:], payload)
	return buf
}

// Decode parses a wire frame into a Header and its payload slice (a view
// into buf, not a copy). buf must be exactly GetMessageSize(buf) bytes.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("wire: frame too short: %d bytes", len(buf))
	}

	length := binary.BigEndian.Uint32(buf[4:8])
	if length < 8 {
		return Header{}, nil, fmt.Errorf("wire: length field %d smaller than header remainder", length)
	}

	want := HeaderSize + int(length) - 8
	if len(buf) != want {
		return Header{}, nil, fmt.Errorf("wire: frame size %d does not match length field (want %d)", len(buf), want)
	}

	h := Header{
		ServiceID:     binary.BigEndian.Uint16(buf[0:2]),
		MethodOrEvent: binary.BigEndian.Uint16(buf[2:4]),
		Length:        length,
		ClientID:      binary.BigEndian.Uint16(buf[8:10]),
		SessionID:     binary.BigEndian.Uint16(buf[10:12]),
		ProtocolVer:   buf[12],
		InterfaceVer:  buf[13],
		MessageType:   MessageType(buf[14]),
		ReturnCode:    ReturnCode(buf[15]),
	}
	return h, buf[16:], nil
}

// GetMessageSize returns the total frame size (8 + length: the 16-byte
// header plus length - 8 payload bytes) implied by buf's header, or 0 if
// buf does not yet contain enough bytes to know, or the length field is
// inconsistent with what has arrived so far.
func GetMessageSize(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	if uint64(length) > uint64(len(buf))-8 || length < 8 {
		return 0
	}
	return HeaderSize + int(length) - 8
}

// NewTraceID generates a correlation id for a single Send call, for
// structured logging only; it never appears on the wire. The SOME/IP
// header has no field for it, so callers carry it alongside the frame.
func NewTraceID() string {
	return uuid.New().String()
}

// GetPayloadSize returns the payload length (length - 8) under the same
// preconditions as GetMessageSize, or 0 if they are not met.
func GetPayloadSize(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	if uint64(length) > uint64(len(buf))-8 || length < 8 {
		return 0
	}
	return int(length) - 8
}
