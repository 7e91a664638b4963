package otgw

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/otgw-core/internal/climate"
	"github.com/nerrad567/otgw-core/internal/registry"
)

// MQTT payloads exchanged between the gateway core and its consumers.

// StateMessage is the retained state of one data item.
// Topic: otgw/state/{gateway}/{item}
type StateMessage struct {
	// Item is the catalog item name.
	Item string `json:"item"`

	// ID is the OpenTherm data id.
	ID uint8 `json:"item_id"`

	// Value is the decoded value: number, bool or "HH:MM/D" text.
	Value any `json:"value"`

	// Unit is the unit of measurement, if any.
	Unit string `json:"unit,omitempty"`

	// Valid is false once the boiler rejected the id or the gateway stopped answering.
	Valid bool `json:"valid"`

	// Timestamp is when the value last changed (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// NewStateMessage builds the state payload of a reading.
func NewStateMessage(r registry.Reading) StateMessage {
	ts := r.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return StateMessage{
		Item:      r.Item.Name,
		ID:        r.Item.ID,
		Value:     r.Value.Any(),
		Unit:      r.Item.Unit,
		Valid:     r.Valid,
		Timestamp: ts.UTC(),
	}
}

// CommandMessage requests a write to an item, a raw gateway command or a
// setpoint source update.
//
// Plain payloads are accepted too: "45.5" for item and setpoint topics and
// "HW=P" for the gateway command topic.
type CommandMessage struct {
	// ID correlates the command with its acknowledgements. A uuid is
	// assigned when empty.
	ID string `json:"id,omitempty"`

	// Value is the value to write.
	Value *float64 `json:"value,omitempty"`

	// Command is the raw gateway command for the gateway command topic.
	Command string `json:"command,omitempty"`

	// Action selects the setpoint operation: "write" (default),
	// "invalidate" or "withdraw".
	Action string `json:"action,omitempty"`

	// Target overrides the setpoint target data id of a source.
	Target uint8 `json:"target,omitempty"`

	// Priority overrides the queue priority of item writes.
	Priority *int `json:"priority,omitempty"`

	// Source names the originator for logs.
	Source string `json:"source,omitempty"`
}

// Setpoint actions.
const (
	ActionWrite      = "write"
	ActionInvalidate = "invalidate"
	ActionWithdraw   = "withdraw"
)

// ParseCommandMessage decodes a command payload in JSON or plain form.
func ParseCommandMessage(payload []byte) (CommandMessage, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return CommandMessage{}, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if strings.HasPrefix(text, "{") {
		var msg CommandMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return msg, nil
	}

	switch strings.ToLower(text) {
	case ActionInvalidate, ActionWithdraw:
		return CommandMessage{Action: strings.ToLower(text)}, nil
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return CommandMessage{Value: &v}, nil
	}
	return CommandMessage{Command: text}, nil
}

// CircuitCommandMessage changes a heating circuit.
// Topic: otgw/circuit/{gateway}/{circuit}/command
type CircuitCommandMessage struct {
	ID                string        `json:"id,omitempty"`
	Mode              *climate.Mode `json:"mode,omitempty"`
	TargetTemperature *float64      `json:"target_temperature,omitempty"`

	// Temperature pushes a current temperature sample for circuits without
	// a temperature source item.
	Temperature *float64 `json:"temperature,omitempty"`

	// OutsideTemperature pushes an outside temperature sample.
	OutsideTemperature *float64 `json:"outside_temperature,omitempty"`
}

// AckStatus is the progress of a command.
type AckStatus string

const (
	// AckAccepted means the command was queued with the engine.
	AckAccepted AckStatus = "accepted"

	// AckCompleted means the gateway or boiler confirmed the command.
	AckCompleted AckStatus = "completed"

	// AckFailed means the command was rejected or could not be delivered.
	AckFailed AckStatus = "failed"

	// AckTimeout means no confirmation arrived in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: otgw/ack/{gateway}/{target}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Status    AckStatus `json:"status"`

	// Request is the request key sent to the gateway, e.g. "CS" or "W1".
	Request string `json:"request,omitempty"`

	// Attempts is how many times the request was sent.
	Attempts int `json:"attempts,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInvalidValue   = "INVALID_VALUE"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
	ErrCodeNotWritable    = "NOT_WRITABLE"
	ErrCodeArbitrated     = "ARBITRATED"
	ErrCodeUnsupported    = "UNSUPPORTED"
	ErrCodeQueueFull      = "QUEUE_FULL"
	ErrCodeRejected       = "REJECTED"
	ErrCodeSuperseded     = "SUPERSEDED"
	ErrCodeCommunication  = "COMMUNICATION_FAILURE"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeEngineStopped  = "ENGINE_STOPPED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(commandID, target string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		Target:    target,
		Status:    status,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(commandID, target, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(commandID, target, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// CircuitStateMessage is the retained state of a heating circuit.
// Topic: otgw/circuit/{gateway}/{circuit}/state
type CircuitStateMessage struct {
	climate.Status
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the operational status of the gateway link.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
	HealthOffline  HealthStatus = "offline"
)

// HealthMessage reports link and engine health.
// Topic: otgw/health/{gateway}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Gateway       string            `json:"gateway"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Link          *LinkStatus       `json:"link,omitempty"`
	Statistics    *HealthStatistics `json:"statistics,omitempty"`
	Circuits      int               `json:"circuits"`
	Info          map[string]string `json:"info,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// LinkStatus describes the serial link.
type LinkStatus struct {
	Status     string `json:"status"`
	Port       string `json:"port,omitempty"`
	Reconnects uint64 `json:"reconnects"`
}

// HealthStatistics carries engine counters.
type HealthStatistics struct {
	LinesReceived  uint64 `json:"lines_received"`
	FramesReceived uint64 `json:"frames_received"`
	Malformed      uint64 `json:"malformed"`
	RequestsSent   uint64 `json:"requests_sent"`
	Retries        uint64 `json:"retries"`
	Failures       uint64 `json:"communication_failures"`
	QueueDepth     int    `json:"queue_depth"`
}
