package opentherm

import "errors"

// Domain errors for the opentherm package.
var (
	// ErrMalformed is returned when a frame or line cannot be decoded.
	// Malformed input is dropped by callers; it never updates state.
	ErrMalformed = errors.New("opentherm: malformed frame")

	// ErrUnknownItem is returned when an item name or id is not in the catalog.
	ErrUnknownItem = errors.New("opentherm: unknown data item")

	// ErrNotWritable is returned when a write targets a read-only item.
	ErrNotWritable = errors.New("opentherm: data item is not writable")

	// ErrValueRange is returned when a value cannot be represented in the
	// item's wire shape.
	ErrValueRange = errors.New("opentherm: value out of range for shape")

	// ErrNotReply is returned by ParseReply for lines that are not gateway
	// command replies.
	ErrNotReply = errors.New("opentherm: not a command reply")
)

// Gateway error replies. The OTGW answers a rejected command with a two
// letter code instead of echoing the command.
var (
	// ErrUnknownCommand (NG) means the command code is unknown.
	ErrUnknownCommand = errors.New("otgw: unknown command code")

	// ErrSyntax (SE) means the command contained an unexpected character or was incomplete.
	ErrSyntax = errors.New("otgw: syntax error in command")

	// ErrBadValue (BV) means the command contained a data value that is not allowed.
	ErrBadValue = errors.New("otgw: bad value")

	// ErrOutOfRange (OR) means a number was outside the allowed range.
	ErrOutOfRange = errors.New("otgw: value out of range")

	// ErrNoSpace (NS) means an alternative data id could not be added because the table is full.
	ErrNoSpace = errors.New("otgw: alternative table full")

	// ErrNotFound (NF) means the alternative data id to remove does not exist.
	ErrNotFound = errors.New("otgw: alternative data id not found")

	// ErrOverrun (OE) means the gateway was busy and dropped characters.
	// This is the only retryable gateway error.
	ErrOverrun = errors.New("otgw: receive overrun, gateway busy")
)
