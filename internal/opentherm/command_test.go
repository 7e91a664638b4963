package opentherm

import (
	"errors"
	"testing"
)

func TestCommandBytes(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{name: "temperature", cmd: TemperatureCommand(CmdControlSetpoint, 45), want: "CS=45.00\r\n"},
		{name: "negative temperature", cmd: TemperatureCommand(CmdOutsideTemperature, -3.25), want: "OT=-3.25\r\n"},
		{name: "hot water push", cmd: NewCommand(CmdHotWater, "P"), want: "HW=P\r\n"},
		{name: "report", cmd: NewCommand(CmdPrintReport, "A"), want: "PR=A\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.cmd.Bytes()); got != tt.want {
				t.Errorf("Bytes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{name: "valid", cmd: NewCommand("CS", "45.00")},
		{name: "lowercase code", cmd: NewCommand("cs", "45.00"), wantErr: ErrUnknownCommand},
		{name: "long code", cmd: NewCommand("CSX", "1"), wantErr: ErrUnknownCommand},
		{name: "empty param", cmd: NewCommand("CS", ""), wantErr: ErrSyntax},
		{name: "embedded newline", cmd: NewCommand("CS", "1\r\nGW=R"), wantErr: ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		want      Reply
		wantErr   error
		retryable bool
	}{
		{
			name: "confirmation",
			line: "CS: 45.00",
			want: Reply{Code: "CS", Value: "45.00"},
		},
		{
			name: "report",
			line: "PR: A=OpenTherm Gateway 4.2.5\r\n",
			want: Reply{Code: "PR", Value: "A=OpenTherm Gateway 4.2.5"},
		},
		{
			name: "bare error",
			line: "BV",
			want: Reply{Code: "BV", Err: ErrBadValue},
		},
		{
			name:      "overrun is retryable",
			line:      "OE",
			want:      Reply{Code: "OE", Err: ErrOverrun},
			retryable: true,
		},
		{
			name: "error with colon",
			line: "NG: XX",
			want: Reply{Code: "NG", Value: "XX", Err: ErrUnknownCommand},
		},
		{name: "bare non-error code", line: "CS", wantErr: ErrNotReply},
		{name: "not a reply", line: "hello", wantErr: ErrNotReply},
		{name: "too short", line: "C", wantErr: ErrNotReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply(tt.line)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseReply(%q) error = %v, want %v", tt.line, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReply(%q) unexpected error: %v", tt.line, err)
			}
			if got.Code != tt.want.Code || got.Value != tt.want.Value || !errors.Is(got.Err, tt.want.Err) {
				t.Errorf("ParseReply(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
			if got.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got.Retryable(), tt.retryable)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr error
	}{
		{name: "push", in: "HW=P", want: NewCommand(CmdHotWater, "P")},
		{name: "terminated", in: "PR=A\r\n", want: NewCommand(CmdPrintReport, "A")},
		{name: "lowercase code", in: "gw=R", want: NewCommand(CmdGatewayMode, "R")},
		{name: "no separator", in: "GWR", wantErr: ErrSyntax},
		{name: "empty param", in: "CS=", wantErr: ErrSyntax},
		{name: "bad code", in: "C=1", wantErr: ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseCommand(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
