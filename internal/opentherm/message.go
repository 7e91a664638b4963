package opentherm

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// MsgType is the 3-bit OpenTherm message type.
type MsgType uint8

// Master-to-slave message types.
const (
	ReadData    MsgType = 0
	WriteData   MsgType = 1
	InvalidData MsgType = 2
	Reserved    MsgType = 3
)

// Slave-to-master message types.
const (
	ReadAck       MsgType = 4
	WriteAck      MsgType = 5
	DataInvalid   MsgType = 6
	UnknownDataID MsgType = 7
)

// Frame constraints.
const (
	// FrameSize is the encoded frame length in bytes.
	FrameSize = 4

	// MaxItemID is the highest data id the gateway accepts on decode.
	MaxItemID = 127

	parityBit  = 1 << 31
	typeShift  = 28
	typeMask   = 0x7
	idShift    = 16
	valueMask  = 0xFFFF
	idByteMask = 0xFF
)

var msgTypeNames = [...]string{
	ReadData:      "READ-DATA",
	WriteData:     "WRITE-DATA",
	InvalidData:   "INVALID-DATA",
	Reserved:      "RESERVED",
	ReadAck:       "READ-ACK",
	WriteAck:      "WRITE-ACK",
	DataInvalid:   "DATA-INVALID",
	UnknownDataID: "UNKNOWN-DATAID",
}

// String returns the protocol name of the message type.
func (t MsgType) String() string {
	if int(t) < len(msgTypeNames) {
		return msgTypeNames[t]
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

// FromSlave reports whether the type is sent by the boiler.
func (t MsgType) FromSlave() bool {
	return t >= ReadAck && t <= UnknownDataID
}

// IsRequest reports whether the type is a master request that expects an answer.
func (t MsgType) IsRequest() bool {
	return t == ReadData || t == WriteData
}

// Ack returns the positive acknowledgement type for a request type.
// Non-request types return themselves.
func (t MsgType) Ack() MsgType {
	switch t {
	case ReadData:
		return ReadAck
	case WriteData:
		return WriteAck
	default:
		return t
	}
}

// Answers reports whether a response of type r is a valid answer to a
// request of type t. DATA-INVALID and UNKNOWN-DATAID answer both reads and writes.
func (t MsgType) Answers(r MsgType) bool {
	if !t.IsRequest() {
		return false
	}
	return r == t.Ack() || r == DataInvalid || r == UnknownDataID
}

// Message is one OpenTherm frame.
//
// Message is a value type; two messages with equal fields encode to the
// same bytes.
type Message struct {
	// Type is the message type.
	Type MsgType

	// ID is the data item id.
	ID uint8

	// Value is the 16-bit data value.
	Value uint16
}

// NewRead builds a READ-DATA request for an item. The value is zero.
func NewRead(id uint8) Message {
	return Message{Type: ReadData, ID: id}
}

// NewWrite builds a WRITE-DATA request for an item.
func NewWrite(id uint8, value uint16) Message {
	return Message{Type: WriteData, ID: id, Value: value}
}

// HighByte returns the most significant data byte.
func (m Message) HighByte() uint8 { return uint8(m.Value >> 8) }

// LowByte returns the least significant data byte.
func (m Message) LowByte() uint8 { return uint8(m.Value) }

// Uint32 returns the frame as a 32-bit word including the parity bit.
func (m Message) Uint32() uint32 {
	word := uint32(m.Type&typeMask)<<typeShift | uint32(m.ID)<<idShift | uint32(m.Value)
	if bits.OnesCount32(word)%2 == 1 {
		word |= parityBit
	}
	return word
}

// Raw returns the 4-byte payload of the frame.
func (m Message) Raw() [FrameSize]byte {
	var raw [FrameSize]byte
	binary.BigEndian.PutUint32(raw[:], m.Uint32())
	return raw
}

// String returns a compact human readable representation.
func (m Message) String() string {
	return fmt.Sprintf("%s id=%d value=0x%04X", m.Type, m.ID, m.Value)
}

// Encode converts a message to its 4-byte wire form.
//
// Encoding is deterministic: the spare bits are always zero and the parity
// bit is computed so that the frame has an even number of set bits.
//
// Parameters:
//   - m: Message to encode
//
// Returns:
//   - []byte: Big-endian frame bytes
func Encode(m Message) []byte {
	raw := m.Raw()
	return raw[:]
}

// Decode parses a 4-byte wire frame.
//
// The frame is rejected when its length is not 4, when its parity is odd,
// or when the data id is outside the supported range. Spare bits are ignored.
//
// Parameters:
//   - data: Raw frame bytes
//
// Returns:
//   - Message: Decoded message
//   - error: ErrMalformed (wrapped) on any validation failure
func Decode(data []byte) (Message, error) {
	if len(data) != FrameSize {
		return Message{}, fmt.Errorf("%w: length %d, want %d", ErrMalformed, len(data), FrameSize)
	}
	return DecodeUint32(binary.BigEndian.Uint32(data))
}

// DecodeUint32 parses a frame held in a 32-bit word.
func DecodeUint32(word uint32) (Message, error) {
	if bits.OnesCount32(word)%2 != 0 {
		return Message{}, fmt.Errorf("%w: parity error in 0x%08X", ErrMalformed, word)
	}

	id := uint8((word >> idShift) & idByteMask)
	if id > MaxItemID {
		return Message{}, fmt.Errorf("%w: data id %d out of range", ErrMalformed, id)
	}

	return Message{
		Type:  MsgType((word >> typeShift) & typeMask),
		ID:    id,
		Value: uint16(word & valueMask),
	}, nil
}
