package serial

import "errors"

var (
	// ErrNotConnected is returned by Write while the port is closed.
	ErrNotConnected = errors.New("serial: port not connected")

	// ErrOpenFailed wraps failures opening or configuring the device.
	ErrOpenFailed = errors.New("serial: open failed")

	// ErrWriteFailed wraps write errors from the device.
	ErrWriteFailed = errors.New("serial: write failed")
)
