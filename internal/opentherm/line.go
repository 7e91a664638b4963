package opentherm

import (
	"fmt"
	"strconv"
	"strings"
)

// Source identifies who put a frame on the OpenTherm bus, as reported by the
// OTGW in the first character of each line.
type Source byte

// OTGW line sources.
const (
	// SourceBoiler marks a frame received from the boiler (slave).
	SourceBoiler Source = 'B'
	// SourceThermostat marks a frame received from the thermostat (master).
	SourceThermostat Source = 'T'
	// SourceRequest marks a request the gateway sent to the boiler in place of the thermostat.
	SourceRequest Source = 'R'
	// SourceAnswer marks an answer the gateway returned to the thermostat in place of the boiler.
	SourceAnswer Source = 'A'
)

// LineLength is the length of an OTGW frame line without terminator.
const LineLength = 9

// String returns the single character form.
func (s Source) String() string { return string(rune(s)) }

// Valid reports whether s is one of the four known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceBoiler, SourceThermostat, SourceRequest, SourceAnswer:
		return true
	default:
		return false
	}
}

// Line is one decoded OTGW frame line.
type Line struct {
	Source  Source
	Message Message
}

// String formats the line the way the OTGW prints it, e.g. "B40190000".
func (l Line) String() string {
	return fmt.Sprintf("%c%08X", byte(l.Source), l.Message.Uint32())
}

// ParseLine decodes an OTGW frame line.
//
// Trailing CR/LF are ignored. The line must be exactly one source character
// followed by eight hex digits, and the frame must pass Decode validation.
//
// Parameters:
//   - s: Raw line text
//
// Returns:
//   - Line: Decoded line
//   - error: ErrMalformed (wrapped) when the line is not a valid frame
func ParseLine(s string) (Line, error) {
	s = strings.TrimRight(s, "\r\n")
	if len(s) != LineLength {
		return Line{}, fmt.Errorf("%w: line %q is not %d characters", ErrMalformed, s, LineLength)
	}

	src := Source(s[0])
	if !src.Valid() {
		return Line{}, fmt.Errorf("%w: unknown source %q", ErrMalformed, s[0])
	}

	word, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return Line{}, fmt.Errorf("%w: bad hex %q", ErrMalformed, s[1:])
	}

	msg, err := DecodeUint32(uint32(word))
	if err != nil {
		return Line{}, err
	}

	return Line{Source: src, Message: msg}, nil
}

// FormatRequest returns the outbound request line for a message, CRLF terminated.
func FormatRequest(m Message) []byte {
	return []byte(Line{Source: SourceRequest, Message: m}.String() + "\r\n")
}

// LineKind classifies raw text received from the gateway.
type LineKind uint8

// Line kinds.
const (
	// KindOther is anything that is neither a frame nor a reply (banners, PR output, noise).
	KindOther LineKind = iota
	// KindFrame is a 9-character frame line.
	KindFrame
	// KindReply is a command reply or gateway error code.
	KindReply
)

// Classify determines what kind of line s is without fully decoding it.
func Classify(s string) LineKind {
	s = strings.TrimRight(s, "\r\n")
	if len(s) >= 3 && s[2] == ':' {
		return KindReply
	}
	if _, ok := gatewayErrors[s]; ok {
		return KindReply
	}
	if len(s) == LineLength && Source(s[0]).Valid() {
		return KindFrame
	}
	return KindOther
}
