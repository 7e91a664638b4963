package otgw

import (
	"context"
	"errors"

	"github.com/nerrad567/otgw-core/internal/arbiter"
	"github.com/nerrad567/otgw-core/internal/engine"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// Domain errors for the bridge package.
var (
	// ErrMissingEngine is returned by New without an engine.
	ErrMissingEngine = errors.New("otgw bridge: engine is required")

	// ErrMissingMQTT is returned by New without an MQTT client.
	ErrMissingMQTT = errors.New("otgw bridge: MQTT client is required")

	// ErrMissingGatewayID is returned by New without a gateway id.
	ErrMissingGatewayID = errors.New("otgw bridge: gateway id is required")

	// ErrInvalidPayload is returned for command payloads that cannot be decoded.
	ErrInvalidPayload = errors.New("otgw bridge: invalid payload")
)

// errorCode maps an engine or transaction error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return ErrCodeInvalidPayload
	case errors.Is(err, opentherm.ErrUnknownItem),
		errors.Is(err, engine.ErrUnknownTarget),
		errors.Is(err, engine.ErrUnknownCircuit),
		errors.Is(err, arbiter.ErrUnknownSource):
		return ErrCodeNotConfigured
	case errors.Is(err, opentherm.ErrNotWritable):
		return ErrCodeNotWritable
	case errors.Is(err, engine.ErrArbitrated):
		return ErrCodeArbitrated
	case errors.Is(err, opentherm.ErrValueRange),
		errors.Is(err, engine.ErrInvalidValue),
		errors.Is(err, arbiter.ErrInvalidValue):
		return ErrCodeInvalidValue
	case errors.Is(err, engine.ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, sequencer.ErrQueueFull):
		return ErrCodeQueueFull
	case errors.Is(err, sequencer.ErrSuperseded):
		return ErrCodeSuperseded
	case errors.Is(err, sequencer.ErrCommunicationFailure):
		return ErrCodeCommunication
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, sequencer.ErrCancelled),
		errors.Is(err, context.Canceled):
		return ErrCodeEngineStopped
	case errors.Is(err, opentherm.ErrUnknownCommand),
		errors.Is(err, opentherm.ErrSyntax),
		errors.Is(err, opentherm.ErrBadValue),
		errors.Is(err, opentherm.ErrOutOfRange),
		errors.Is(err, opentherm.ErrNoSpace),
		errors.Is(err, opentherm.ErrNotFound),
		errors.Is(err, opentherm.ErrOverrun):
		return ErrCodeRejected
	default:
		return ErrCodeInternal
	}
}
