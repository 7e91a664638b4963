package opentherm

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []byte
	}{
		{
			name: "read-ack boiler water temperature 50.0 (odd payload sets parity)",
			msg:  Message{Type: ReadAck, ID: 25, Value: 0x3200},
			want: []byte{0xC0, 0x19, 0x32, 0x00},
		},
		{
			name: "write-data control setpoint 45.0 (even payload, no parity)",
			msg:  Message{Type: WriteData, ID: 1, Value: 0x2D00},
			want: []byte{0x10, 0x01, 0x2D, 0x00},
		},
		{
			name: "read-data status with CH enable",
			msg:  Message{Type: ReadData, ID: 0, Value: 0x0100},
			want: []byte{0x80, 0x00, 0x01, 0x00},
		},
		{
			name: "unknown-dataid",
			msg:  Message{Type: UnknownDataID, ID: 33, Value: 0},
			want: []byte{0xF0, 0x21, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.msg)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	m := NewWrite(56, 0x3C00)
	first := Encode(m)
	for i := 0; i < 10; i++ {
		if got := Encode(m); !bytes.Equal(got, first) {
			t.Fatalf("Encode() run %d = % X, want % X", i, got, first)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    Message
		wantErr bool
	}{
		{
			name: "read-ack with parity",
			data: []byte{0xC0, 0x19, 0x32, 0x00},
			want: Message{Type: ReadAck, ID: 25, Value: 0x3200},
		},
		{
			name: "spare bits are ignored",
			// 0x13 sets two spare bits, keeping the parity even
			data: []byte{0x13, 0x01, 0x2D, 0x00},
			want: Message{Type: WriteData, ID: 1, Value: 0x2D00},
		},
		{
			name:    "parity error",
			data:    []byte{0x40, 0x19, 0x32, 0x00},
			wantErr: true,
		},
		{
			name:    "data id out of range",
			data:    []byte{0x80, 0xC8, 0x00, 0x00},
			wantErr: true,
		},
		{
			name:    "too short",
			data:    []byte{0xC0, 0x19, 0x32},
			wantErr: true,
		},
		{
			name:    "too long",
			data:    []byte{0xC0, 0x19, 0x32, 0x00, 0x00},
			wantErr: true,
		},
		{
			name:    "empty",
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("Decode() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	values := []uint16{0x0000, 0x0001, 0x00FF, 0x1580, 0x7FFF, 0x8000, 0xFF00, 0xFFFF}

	for typ := ReadData; typ <= UnknownDataID; typ++ {
		for id := 0; id <= MaxItemID; id++ {
			for _, v := range values {
				m := Message{Type: typ, ID: uint8(id), Value: v}
				got, err := Decode(Encode(m))
				if err != nil {
					t.Fatalf("Decode(Encode(%v)) error: %v", m, err)
				}
				if got != m {
					t.Fatalf("Decode(Encode(%v)) = %v", m, got)
				}
			}
		}
	}
}

func TestMsgTypeAnswers(t *testing.T) {
	tests := []struct {
		req  MsgType
		resp MsgType
		want bool
	}{
		{ReadData, ReadAck, true},
		{ReadData, WriteAck, false},
		{WriteData, WriteAck, true},
		{WriteData, ReadAck, false},
		{ReadData, DataInvalid, true},
		{WriteData, UnknownDataID, true},
		{ReadAck, ReadAck, false},
		{InvalidData, DataInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.req.String()+"/"+tt.resp.String(), func(t *testing.T) {
			if got := tt.req.Answers(tt.resp); got != tt.want {
				t.Errorf("Answers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMsgTypeString(t *testing.T) {
	if got := ReadAck.String(); got != "READ-ACK" {
		t.Errorf("ReadAck.String() = %q", got)
	}
	if got := MsgType(9).String(); got != "MsgType(9)" {
		t.Errorf("MsgType(9).String() = %q", got)
	}
}
