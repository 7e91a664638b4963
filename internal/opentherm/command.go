package opentherm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OTGW command codes used by the gateway core.
const (
	CmdControlSetpoint    = "CS" // CH1 control setpoint override (id 1)
	CmdControlSetpoint2   = "C2" // CH2 control setpoint override (id 8)
	CmdCentralHeating     = "CH" // CH1 enable
	CmdCentralHeating2    = "H2" // CH2 enable
	CmdTemperatureConst   = "TC" // constant room setpoint override (id 9)
	CmdHotWater           = "HW" // DHW enable: 1, 0 or P (push)
	CmdHotWaterSetpoint   = "SW" // DHW setpoint (id 56)
	CmdMaxCHSetpoint      = "SH" // max CH water setpoint (id 57)
	CmdMaxModulation      = "MM" // max relative modulation (id 14)
	CmdOutsideTemperature = "OT" // outside temperature override (id 27)
	CmdSetClock           = "SC" // day and time (id 20)
	CmdRemoteRequest      = "RR" // remote request (id 4)
	CmdPrioMessage        = "PM" // prioritised message
	CmdPrintReport        = "PR" // print report
	CmdGatewayMode        = "GW" // gateway mode / reset
)

// Remote request codes for RR (high byte of data id 4).
const (
	RemoteRequestLockoutReset       = 1
	RemoteRequestServiceReset       = 10
	RemoteRequestWaterFilling       = 2
	RemoteRequestCHWaterFillingDone = 4
)

// gatewayErrors maps OTGW error replies to their sentinel errors.
var gatewayErrors = map[string]error{
	"NG": ErrUnknownCommand,
	"SE": ErrSyntax,
	"BV": ErrBadValue,
	"OR": ErrOutOfRange,
	"NS": ErrNoSpace,
	"NF": ErrNotFound,
	"OE": ErrOverrun,
}

// Command is one OTGW serial command such as "CS=45.00".
type Command struct {
	Code  string
	Param string
}

// NewCommand builds a command from a code and parameter.
func NewCommand(code, param string) Command {
	return Command{Code: code, Param: param}
}

// TemperatureCommand builds a command carrying a temperature with two decimals.
func TemperatureCommand(code string, celsius float64) Command {
	return Command{Code: code, Param: strconv.FormatFloat(celsius, 'f', 2, 64)}
}

// String returns the command without terminator.
func (c Command) String() string {
	return c.Code + "=" + c.Param
}

// Bytes returns the command as written to the serial port.
func (c Command) Bytes() []byte {
	return []byte(c.String() + "\r\n")
}

// Validate checks the command shape before it is queued.
func (c Command) Validate() error {
	if len(c.Code) != 2 || strings.ToUpper(c.Code) != c.Code {
		return fmt.Errorf("%w: command code %q", ErrUnknownCommand, c.Code)
	}
	if c.Param == "" || strings.ContainsAny(c.Param, "\r\n=") {
		return fmt.Errorf("%w: command parameter %q", ErrSyntax, c.Param)
	}
	return nil
}

// ParseCommand parses command text such as "HW=P" and validates it.
// Surrounding whitespace and a line terminator are ignored.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	code, param, ok := strings.Cut(s, "=")
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	cmd := Command{Code: strings.ToUpper(code), Param: param}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Reply is the gateway answer to a command.
type Reply struct {
	// Code is the two letter code the reply refers to. For error replies
	// this is the error code itself (e.g. "BV").
	Code string

	// Value is the text after the colon, trimmed.
	Value string

	// Err is set for error replies.
	Err error
}

// Retryable reports whether the reply asks the sender to try again.
func (r Reply) Retryable() bool {
	return errors.Is(r.Err, ErrOverrun)
}

// ParseReply decodes a gateway reply line.
//
// Accepted forms are "CS: 45.00" for confirmations and "BV", or "BV: ...",
// for errors.
//
// Parameters:
//   - s: Raw line text
//
// Returns:
//   - Reply: Decoded reply (Err set for gateway error codes)
//   - error: ErrNotReply when the line is not a reply at all
func ParseReply(s string) (Reply, error) {
	s = strings.TrimRight(s, "\r\n")
	if len(s) < 2 {
		return Reply{}, ErrNotReply
	}

	code := s[:2]
	var value string
	switch {
	case len(s) == 2:
	case len(s) >= 3 && s[2] == ':':
		value = strings.TrimSpace(s[3:])
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrNotReply, s)
	}

	if err, ok := gatewayErrors[code]; ok {
		return Reply{Code: code, Value: value, Err: err}, nil
	}
	if len(s) == 2 {
		return Reply{}, fmt.Errorf("%w: %q", ErrNotReply, s)
	}
	return Reply{Code: code, Value: value}, nil
}
