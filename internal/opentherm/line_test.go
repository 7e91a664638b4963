package opentherm

import (
	"errors"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Line
		wantErr bool
	}{
		{
			name: "boiler read-ack",
			line: "BC0193200",
			want: Line{Source: SourceBoiler, Message: Message{Type: ReadAck, ID: 25, Value: 0x3200}},
		},
		{
			name: "thermostat write with CRLF",
			line: "T10012D00\r\n",
			want: Line{Source: SourceThermostat, Message: Message{Type: WriteData, ID: 1, Value: 0x2D00}},
		},
		{
			name: "gateway request",
			line: "R80190000",
			want: Line{Source: SourceRequest, Message: Message{Type: ReadData, ID: 25}},
		},
		{name: "unknown source", line: "XC0193200", wantErr: true},
		{name: "too short", line: "BC019320", wantErr: true},
		{name: "too long", line: "BC01932000", wantErr: true},
		{name: "bad hex", line: "BZZZZZZZZ", wantErr: true},
		{name: "parity error", line: "B40193200", wantErr: true},
		{name: "empty", line: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("ParseLine(%q) error = %v, want ErrMalformed", tt.line, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLine(%q) unexpected error: %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestLineString(t *testing.T) {
	l := Line{Source: SourceBoiler, Message: Message{Type: ReadAck, ID: 25, Value: 0x3200}}
	if got := l.String(); got != "BC0193200" {
		t.Errorf("String() = %q, want %q", got, "BC0193200")
	}

	parsed, err := ParseLine(l.String())
	if err != nil {
		t.Fatalf("ParseLine(String()) error: %v", err)
	}
	if parsed != l {
		t.Errorf("ParseLine(String()) = %+v, want %+v", parsed, l)
	}
}

func TestFormatRequest(t *testing.T) {
	got := string(FormatRequest(NewRead(25)))
	if got != "R80190000\r\n" {
		t.Errorf("FormatRequest() = %q, want %q", got, "R80190000\r\n")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want LineKind
	}{
		{"BC0193200", KindFrame},
		{"T10012D00\r", KindFrame},
		{"CS: 45.00", KindReply},
		{"PR: A=OpenTherm Gateway 4.2.5", KindReply},
		{"OE", KindReply},
		{"NG", KindReply},
		{"OpenTherm Gateway 4.2.5", KindOther},
		{"", KindOther},
		{"Z12345678", KindOther},
	}

	for _, tt := range tests {
		if got := Classify(tt.line); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
