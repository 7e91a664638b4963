package arbiter

import "errors"

// Domain errors for the arbiter package.
var (
	// ErrUnknownSource is returned when a source id has not been registered.
	ErrUnknownSource = errors.New("arbiter: unknown source")

	// ErrDuplicateSource is returned when registering an id twice.
	ErrDuplicateSource = errors.New("arbiter: source already registered")

	// ErrInvalidSource is returned for an empty source id.
	ErrInvalidSource = errors.New("arbiter: invalid source id")

	// ErrInvalidValue is returned when writing NaN or infinity.
	ErrInvalidValue = errors.New("arbiter: invalid setpoint value")
)
