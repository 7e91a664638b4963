package otgw

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/otgw-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/otgw-core/internal/opentherm"
)

// DiscoveryConfig is a Home Assistant MQTT discovery payload.
type DiscoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	ObjectID          string          `json:"object_id,omitempty"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	CommandTopic      string          `json:"command_topic,omitempty"`
	Unit              string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	Step              float64         `json:"step,omitempty"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	AvailabilityTmpl  string          `json:"availability_template"`
	Device            DiscoveryDevice `json:"device"`
}

// DiscoveryDevice groups every entity of one gateway.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// discoveryEntry is one config payload and the topic it is published on.
type discoveryEntry struct {
	topic  string
	config DiscoveryConfig
}

const (
	availabilityTemplate = "{{ 'online' if value_json.status in ['healthy', 'degraded'] else 'offline' }}"
	binaryTemplate       = "{{ 'ON' if value_json.value else 'OFF' }}"
	valueTemplate        = "{{ value_json.value }}"
)

// discoveryEntries builds the discovery configs for every catalog item and
// heating circuit. Items on an arbitrated id get no number entity; their
// value is set through the setpoint topics.
func discoveryEntries(prefix, gateway, name, version string, items []opentherm.Item, arbitrated map[uint8]bool, circuits []string) []discoveryEntry {
	topics := mqtt.Topics{}
	if name == "" {
		name = gateway
	}
	device := DiscoveryDevice{
		Identifiers:  []string{"otgw_" + gateway},
		Name:         name,
		Manufacturer: "OpenTherm Gateway",
		Model:        "OTGW",
		SWVersion:    version,
	}
	base := func(object, title string) DiscoveryConfig {
		return DiscoveryConfig{
			Name:              title,
			UniqueID:          fmt.Sprintf("otgw_%s_%s", gateway, object),
			ObjectID:          fmt.Sprintf("%s_%s", gateway, object),
			AvailabilityTopic: topics.Health(gateway),
			AvailabilityTmpl:  availabilityTemplate,
			Device:            device,
		}
	}

	var out []discoveryEntry
	for _, it := range items {
		cfg := base(it.Name, it.Name)
		cfg.StateTopic = topics.ItemState(gateway, it.Name)
		cfg.ValueTemplate = valueTemplate

		var component string
		switch it.Kind {
		case opentherm.KindSensor:
			component = "sensor"
			cfg.Unit = it.Unit
			if it.Unit == opentherm.UnitCelsius {
				cfg.DeviceClass = "temperature"
			}
			cfg.StateClass = "measurement"
		case opentherm.KindBinarySensor:
			component = "binary_sensor"
			cfg.ValueTemplate = binaryTemplate
			cfg.PayloadOn = "ON"
			cfg.PayloadOff = "OFF"
		case opentherm.KindText:
			component = "sensor"
		default:
			continue
		}
		out = append(out, discoveryEntry{
			topic:  topics.Discovery(prefix, component, "otgw_"+gateway, it.Name),
			config: cfg,
		})

		if it.Writable && it.Command != "" && it.Shape == opentherm.ShapeF88 && !arbitrated[it.ID] {
			num := base(it.Name+"_set", it.Name+" set")
			num.StateTopic = cfg.StateTopic
			num.ValueTemplate = valueTemplate
			num.CommandTopic = topics.ItemCommand(gateway, it.Name)
			num.Unit = it.Unit
			num.Step = 0.5
			out = append(out, discoveryEntry{
				topic:  topics.Discovery(prefix, "number", "otgw_"+gateway, it.Name),
				config: num,
			})
		}
	}

	for _, c := range circuits {
		object := "circuit_" + c
		cfg := base(object, c+" heating")
		cfg.StateTopic = topics.CircuitState(gateway, c)
		cfg.ValueTemplate = "{{ 'ON' if value_json.state == 'heating' else 'OFF' }}"
		cfg.DeviceClass = "heat"
		cfg.PayloadOn = "ON"
		cfg.PayloadOff = "OFF"
		out = append(out, discoveryEntry{
			topic:  topics.Discovery(prefix, "binary_sensor", "otgw_"+gateway, object),
			config: cfg,
		})
	}
	return out
}

func (e discoveryEntry) payload() ([]byte, error) {
	return json.Marshal(e.config)
}
