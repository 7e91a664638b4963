package climate

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for circuit configuration.
const (
	DefaultMinSetpoint        = 25.0
	DefaultMaxSetpoint        = 55.0
	DefaultTargetTemperature  = 20.0
	DefaultDesignOutside      = -10.0
	DefaultReturnGain         = 0.5
	DefaultNominalDeltaT      = 5.0
	DefaultPredictionSamples  = 10
	DefaultLookahead          = 90 * time.Minute
	DefaultSampleInterval     = time.Minute
	DefaultMinHeatTime        = 5 * time.Minute
	DefaultMaxHeatTime        = 15 * time.Minute
	hysteresisSetpointDivisor = 60.0
)

// HeatTimeDisabled turns MinHeatTime or MaxHeatTime off. Zero selects the
// default; in YAML an explicit 0 decodes to HeatTimeDisabled.
const HeatTimeDisabled time.Duration = -1

// Setpoint items a circuit can drive.
const (
	TargetCentralHeating1 uint8 = 1
	TargetCentralHeating2 uint8 = 8
)

// Config describes one heating circuit.
type Config struct {
	// Name identifies the circuit and its arbiter source.
	Name string `yaml:"name"`

	// DefaultTargetTemperature is the room target until one is set.
	DefaultTargetTemperature float64 `yaml:"default_target_temperature"`

	// MinSetpoint and MaxSetpoint bound the heater water setpoint.
	MinSetpoint float64 `yaml:"min_setpoint"`
	MaxSetpoint float64 `yaml:"max_setpoint"`

	// Priority is the circuit's arbiter priority.
	Priority int `yaml:"priority"`

	// HysteresisLow and HysteresisHigh widen the dead band below and above
	// the target. Zero derives them from the setpoint range.
	HysteresisLow  float64 `yaml:"hysteresis_low"`
	HysteresisHigh float64 `yaml:"hysteresis_high"`

	// Target is the setpoint data id: 1 for CH1, 8 for CH2.
	Target uint8 `yaml:"target"`

	// Optional catalog items feeding the circuit. An empty TemperatureSource
	// means the current temperature is pushed through the API.
	TemperatureSource        string `yaml:"temperature_source"`
	OutsideTemperatureSource string `yaml:"outside_temperature_source"`
	ReturnTemperatureSource  string `yaml:"return_temperature_source"`
	HeaterTemperatureSource  string `yaml:"heater_temperature_source"`
	HeaterActiveSource       string `yaml:"heater_active_source"`
	HeaterFaultSource        string `yaml:"heater_fault_source"`

	// Prediction compares a predicted temperature instead of the current one.
	Prediction        bool          `yaml:"prediction"`
	PredictionSamples int           `yaml:"prediction_samples"`
	Lookahead         time.Duration `yaml:"lookahead"`

	// MinHeatTime keeps a started heating cycle running at least this long;
	// MaxHeatTime extends it while the heater is still delivering heat.
	// A negative value disables the limit.
	MinHeatTime time.Duration `yaml:"min_heat_time"`
	MaxHeatTime time.Duration `yaml:"max_heat_time"`

	// Weather and return compensation.
	DesignOutsideTemperature float64 `yaml:"design_outside_temperature"`
	ReturnGain               float64 `yaml:"return_gain"`
	NominalDeltaT            float64 `yaml:"nominal_delta_t"`
}

// UnmarshalYAML decodes a circuit and keeps an explicit zero heat time
// apart from an absent one.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, v := value.Content[i].Value, value.Content[i+1]
		// yaml.v3 only decodes durations from strings
		if (key == "min_heat_time" || key == "max_heat_time") && v.Kind == yaml.ScalarNode && v.Value == "0" {
			v.Tag = "!!str"
			v.Value = "0s"
		}
	}
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		switch value.Content[i].Value {
		case "min_heat_time":
			if c.MinHeatTime == 0 {
				c.MinHeatTime = HeatTimeDisabled
			}
		case "max_heat_time":
			if c.MaxHeatTime == 0 {
				c.MaxHeatTime = HeatTimeDisabled
			}
		}
	}
	return nil
}

// WithDefaults fills zero fields with defaults.
func (c Config) WithDefaults() Config {
	if c.MinSetpoint == 0 && c.MaxSetpoint == 0 {
		c.MinSetpoint = DefaultMinSetpoint
		c.MaxSetpoint = DefaultMaxSetpoint
	}
	if c.DefaultTargetTemperature == 0 {
		c.DefaultTargetTemperature = DefaultTargetTemperature
	}
	band := (c.MaxSetpoint - c.MinSetpoint) / hysteresisSetpointDivisor
	if c.HysteresisLow == 0 {
		c.HysteresisLow = band
	}
	if c.HysteresisHigh == 0 {
		c.HysteresisHigh = band
	}
	if c.Target == 0 {
		c.Target = TargetCentralHeating1
	}
	if c.PredictionSamples <= 0 {
		c.PredictionSamples = DefaultPredictionSamples
	}
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	if c.DesignOutsideTemperature == 0 {
		c.DesignOutsideTemperature = DefaultDesignOutside
	}
	if c.ReturnGain == 0 {
		c.ReturnGain = DefaultReturnGain
	}
	if c.NominalDeltaT == 0 {
		c.NominalDeltaT = DefaultNominalDeltaT
	}
	if c.MaxHeatTime == 0 {
		c.MaxHeatTime = DefaultMaxHeatTime
	}
	if c.MinHeatTime == 0 {
		c.MinHeatTime = DefaultMinHeatTime
		// a shorter configured maximum caps the default minimum
		if c.MaxHeatTime > 0 && c.MaxHeatTime < c.MinHeatTime {
			c.MinHeatTime = c.MaxHeatTime
		}
	}
	return c
}

// Validate checks the configuration after defaults have been applied.
func (c Config) Validate() error {
	var errs []string

	if c.Name == "" {
		errs = append(errs, "name is required")
	}
	if c.MinSetpoint >= c.MaxSetpoint {
		errs = append(errs, fmt.Sprintf("min_setpoint %.1f must be below max_setpoint %.1f", c.MinSetpoint, c.MaxSetpoint))
	}
	if c.HysteresisLow < 0 || c.HysteresisHigh < 0 {
		errs = append(errs, "hysteresis must not be negative")
	}
	if c.Target != TargetCentralHeating1 && c.Target != TargetCentralHeating2 {
		errs = append(errs, fmt.Sprintf("target must be %d or %d, got %d", TargetCentralHeating1, TargetCentralHeating2, c.Target))
	}
	if c.MaxHeatTime > 0 && c.MaxHeatTime < c.MinHeatTime {
		errs = append(errs, "max_heat_time must not be shorter than min_heat_time")
	}
	if c.DesignOutsideTemperature >= c.DefaultTargetTemperature {
		errs = append(errs, "design_outside_temperature must be below the target temperature")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
