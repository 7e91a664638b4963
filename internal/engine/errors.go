package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrStopped is returned by operations after Run has returned.
	ErrStopped = errors.New("engine: stopped")

	// ErrUnsupported is returned for requests the configured dialect cannot
	// express, such as read requests through the gateway command set.
	ErrUnsupported = errors.New("engine: not supported by wire dialect")

	// ErrArbitrated is returned for direct writes to a setpoint that is
	// owned by an arbiter. Such values are written through a setpoint source.
	ErrArbitrated = errors.New("engine: setpoint is controlled by its arbiter")

	// ErrUnknownTarget is returned for setpoint targets without an arbiter.
	ErrUnknownTarget = errors.New("engine: unknown setpoint target")

	// ErrDuplicateCircuit is returned when a circuit name is already registered.
	ErrDuplicateCircuit = errors.New("engine: circuit already registered")

	// ErrUnknownCircuit is returned when a circuit name is not registered.
	ErrUnknownCircuit = errors.New("engine: unknown circuit")

	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("engine: invalid config")

	// ErrInvalidValue is returned for NaN, infinite or unknown input values.
	ErrInvalidValue = errors.New("engine: invalid value")
)
