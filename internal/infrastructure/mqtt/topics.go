package mqtt

import "fmt"

// Topic prefixes of the gateway topic tree.
//
// Item topics use the flat scheme otgw/{category}/{gateway}/{item}, so one
// wildcard subscription covers every item of a gateway.
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "otgw"

	// TopicPrefixSystem is the base for process-level topics.
	TopicPrefixSystem = "otgw/system"

	// DefaultDiscoveryPrefix is the Home Assistant discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"
)

// Topics provides builders for the gateway MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ItemState("otgw", "return_water_temperature")
//	// Returns: "otgw/state/otgw/return_water_temperature"
type Topics struct{}

// ItemState returns the retained state topic of a data item.
//
// Example: otgw/state/boiler/central_heating_temperature_1
func (Topics) ItemState(gateway, item string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, gateway, item)
}

// ItemCommand returns the command topic of a writable data item.
//
// Example: otgw/command/boiler/hot_water_setpoint
func (Topics) ItemCommand(gateway, item string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, gateway, item)
}

// CommandAck returns the acknowledgement topic for commands on an item,
// circuit or setpoint source.
//
// Example: otgw/ack/boiler/hot_water_setpoint
func (Topics) CommandAck(gateway, target string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, gateway, target)
}

// GatewayCommand returns the topic accepting raw gateway commands ("HW=P").
//
// Example: otgw/gateway/boiler/command
func (Topics) GatewayCommand(gateway string) string {
	return fmt.Sprintf("%s/gateway/%s/command", TopicPrefix, gateway)
}

// Health returns the topic for gateway link health.
//
// Example: otgw/health/boiler
func (Topics) Health(gateway string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, gateway)
}

// CircuitState returns the retained state topic of a heating circuit.
//
// Example: otgw/circuit/boiler/ground_floor/state
func (Topics) CircuitState(gateway, circuit string) string {
	return fmt.Sprintf("%s/circuit/%s/%s/state", TopicPrefix, gateway, circuit)
}

// CircuitCommand returns the command topic of a heating circuit
// (mode, target temperature, pushed current temperature).
//
// Example: otgw/circuit/boiler/ground_floor/command
func (Topics) CircuitCommand(gateway, circuit string) string {
	return fmt.Sprintf("%s/circuit/%s/%s/command", TopicPrefix, gateway, circuit)
}

// SetpointCommand returns the topic an external setpoint source writes to.
//
// Example: otgw/setpoint/boiler/schedule
func (Topics) SetpointCommand(gateway, source string) string {
	return fmt.Sprintf("%s/setpoint/%s/%s", TopicPrefix, gateway, source)
}

// SystemStatus returns the process status topic carrying the LWT.
//
// Example: otgw/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// Discovery returns a Home Assistant discovery config topic.
//
// Example: homeassistant/sensor/boiler/return_water_temperature/config
func (Topics) Discovery(prefix, component, node, object string) string {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, node, object)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllItemCommands matches the command topics of every item of a gateway.
//
// Pattern: otgw/command/boiler/+
func (Topics) AllItemCommands(gateway string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, gateway)
}

// AllCircuitCommands matches the command topics of every circuit of a gateway.
//
// Pattern: otgw/circuit/boiler/+/command
func (Topics) AllCircuitCommands(gateway string) string {
	return fmt.Sprintf("%s/circuit/%s/+/command", TopicPrefix, gateway)
}

// AllSetpointCommands matches every setpoint source topic of a gateway.
//
// Pattern: otgw/setpoint/boiler/+
func (Topics) AllSetpointCommands(gateway string) string {
	return fmt.Sprintf("%s/setpoint/%s/+", TopicPrefix, gateway)
}

// AllItemStates matches the state topics of every gateway.
//
// Pattern: otgw/state/+/+
func (Topics) AllItemStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all gateway topics.
//
// Pattern: otgw/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
