// Package climate implements the floor heating control loop.
//
// A Circuit is a two-state hysteresis machine (Idle, Heating) driven by a
// slow room or floor temperature. While heating it computes a heater water
// setpoint from the configured range, compensated for outside and return
// temperature, and hands it to its Output. Transitions fire the registered
// edge callbacks exactly once.
//
// Circuits are owned by the engine goroutine and are not safe for
// concurrent use.
package climate

import (
	"math"
	"time"
)

// Mode is the user-selected operating mode.
type Mode string

// Modes.
const (
	ModeOff  Mode = "off"
	ModeHeat Mode = "heat"
)

// State is the control state.
type State uint8

// States.
const (
	StateIdle State = iota
	StateHeating
)

func (s State) String() string {
	if s == StateHeating {
		return "heating"
	}
	return "idle"
}

// Output receives the circuit's setpoint decisions.
type Output interface {
	// WriteSetpoint requests a heater water setpoint.
	WriteSetpoint(value float64)

	// ReleaseSetpoint withdraws the circuit's request.
	ReleaseSetpoint()
}

// Status is a snapshot of a circuit for diagnostics.
type Status struct {
	Name                     string    `json:"name"`
	Mode                     Mode      `json:"mode"`
	State                    string    `json:"state"`
	Target                   uint8     `json:"target_item_id"`
	TargetTemperature        float64   `json:"target_temperature"`
	CurrentTemperature       *float64  `json:"current_temperature,omitempty"`
	AverageTemperature       *float64  `json:"average_temperature,omitempty"`
	AverageTemperatureChange *float64  `json:"average_temperature_change,omitempty"`
	PredictedTemperature     *float64  `json:"predicted_temperature,omitempty"`
	OutsideTemperature       *float64  `json:"outside_temperature,omitempty"`
	ReturnTemperature        *float64  `json:"return_temperature,omitempty"`
	HeaterTemperature        *float64  `json:"heater_temperature,omitempty"`
	HeaterActive             bool      `json:"heater_active"`
	HeaterFault              bool      `json:"heater_fault"`
	Setpoint                 *float64  `json:"setpoint,omitempty"`
	HeatingSince             time.Time `json:"heating_since,omitempty"`
}

// Circuit is one floor heating control loop.
type Circuit struct {
	cfg    Config
	out    Output
	now    func() time.Time
	pred   *predictor
	mode   Mode
	state  State
	target float64

	current float64 // NaN when unknown
	outside float64
	ret     float64
	heater  float64

	heaterActive bool
	heaterFault  bool

	setpoint     float64 // NaN when not heating
	heatingSince time.Time

	onHeat []func()
	onIdle []func()
}

// New creates a circuit. cfg should already carry defaults (see Config.WithDefaults).
//
// The circuit starts Idle in heat mode with the default target; it does not
// call for heat before it has seen a current temperature.
func New(cfg Config, out Output) *Circuit {
	nan := math.NaN()
	return &Circuit{
		cfg:      cfg,
		out:      out,
		now:      time.Now,
		pred:     newPredictor(cfg.PredictionSamples, cfg.Lookahead),
		mode:     ModeHeat,
		state:    StateIdle,
		target:   cfg.DefaultTargetTemperature,
		current:  nan,
		outside:  nan,
		ret:      nan,
		heater:   nan,
		setpoint: nan,
	}
}

// SetClock replaces the time source.
func (c *Circuit) SetClock(now func() time.Time) {
	c.now = now
}

// Config returns the circuit configuration.
func (c *Circuit) Config() Config {
	return c.cfg
}

// Name returns the circuit name.
func (c *Circuit) Name() string {
	return c.cfg.Name
}

// State returns the control state.
func (c *Circuit) State() State {
	return c.state
}

// OnEnterHeating registers fn to run on every Idle to Heating transition.
func (c *Circuit) OnEnterHeating(fn func()) {
	c.onHeat = append(c.onHeat, fn)
}

// OnEnterIdle registers fn to run on every Heating to Idle transition.
func (c *Circuit) OnEnterIdle(fn func()) {
	c.onIdle = append(c.onIdle, fn)
}

// SetMode switches the operating mode. Off forces Idle.
func (c *Circuit) SetMode(m Mode) {
	c.mode = m
	c.evaluate()
}

// Mode returns the operating mode.
func (c *Circuit) Mode() Mode {
	return c.mode
}

// SetTargetTemperature changes the room target.
func (c *Circuit) SetTargetTemperature(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	c.target = v
	c.evaluate()
}

// TargetTemperature returns the room target.
func (c *Circuit) TargetTemperature() float64 {
	return c.target
}

// UpdateTemperature feeds a room or floor temperature sample. A NaN or
// invalid sample is ignored so the circuit holds its state.
func (c *Circuit) UpdateTemperature(v float64, valid bool) {
	if !valid || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	c.current = v
	c.pred.add(v, c.now())
	c.evaluate()
}

// UpdateOutsideTemperature feeds the outside temperature for weather compensation.
func (c *Circuit) UpdateOutsideTemperature(v float64, valid bool) {
	c.outside = validOrNaN(v, valid)
	c.recompute()
}

// UpdateReturnTemperature feeds the heater return water temperature.
func (c *Circuit) UpdateReturnTemperature(v float64, valid bool) {
	c.ret = validOrNaN(v, valid)
	c.recompute()
}

// UpdateHeaterTemperature feeds the heater flow water temperature.
func (c *Circuit) UpdateHeaterTemperature(v float64, valid bool) {
	c.heater = validOrNaN(v, valid)
	c.evaluate()
}

// UpdateHeaterActive feeds whether the heater is currently delivering heat.
func (c *Circuit) UpdateHeaterActive(active bool) {
	c.heaterActive = active
	c.evaluate()
}

// UpdateHeaterFault feeds the heater fault flag. A faulted heater is never
// asked to start heating.
func (c *Circuit) UpdateHeaterFault(fault bool) {
	c.heaterFault = fault
	c.evaluate()
}

// Tick re-evaluates time based conditions such as the minimum heat time.
func (c *Circuit) Tick() {
	c.evaluate()
}

func validOrNaN(v float64, valid bool) float64 {
	if !valid || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// controlTemperature is the value compared against the band: the predicted
// temperature when prediction is on, otherwise the current temperature.
func (c *Circuit) controlTemperature() float64 {
	if c.cfg.Prediction && c.pred.hasAvg {
		return c.pred.predicted
	}
	return c.current
}

// evaluate runs the state machine.
func (c *Circuit) evaluate() {
	if c.mode == ModeOff {
		if c.state == StateHeating {
			c.enterIdle()
		}
		return
	}

	temp := c.controlTemperature()
	if math.IsNaN(temp) {
		// hold state on missing input
		c.recompute()
		return
	}

	switch c.state {
	case StateIdle:
		if temp <= c.target-c.cfg.HysteresisLow && !c.heaterFault {
			c.enterHeating()
		}
	case StateHeating:
		if temp >= c.target+c.cfg.HysteresisHigh && !c.holdHeating() {
			c.enterIdle()
			return
		}
		c.recompute()
	}
}

// holdHeating reports whether a heating cycle must continue despite the
// temperature having reached the upper band edge.
func (c *Circuit) holdHeating() bool {
	elapsed := c.now().Sub(c.heatingSince)
	if elapsed < c.cfg.MinHeatTime {
		return true
	}
	if elapsed < c.cfg.MaxHeatTime {
		delivering := c.heaterActive || (!math.IsNaN(c.heater) && c.heater > c.setpoint)
		return delivering
	}
	return false
}

func (c *Circuit) enterHeating() {
	c.state = StateHeating
	c.heatingSince = c.now()
	c.setpoint = math.NaN()
	c.recompute()
	for _, fn := range c.onHeat {
		fn()
	}
}

func (c *Circuit) enterIdle() {
	c.state = StateIdle
	c.setpoint = math.NaN()
	c.heatingSince = time.Time{}
	if c.out != nil {
		c.out.ReleaseSetpoint()
	}
	for _, fn := range c.onIdle {
		fn()
	}
}

// recompute refreshes the heater setpoint while heating and forwards it
// when it changed.
func (c *Circuit) recompute() {
	if c.state != StateHeating {
		return
	}
	sp := c.HeaterSetpoint()
	if sp == c.setpoint {
		return
	}
	c.setpoint = sp
	if c.out != nil {
		c.out.WriteSetpoint(sp)
	}
}

// HeaterSetpoint computes the heater water setpoint for the current inputs.
//
// The base is the maximum setpoint. With an outside temperature the
// setpoint follows a linear weather curve between the minimum (outside at
// target) and the maximum (outside at the design temperature). With a
// return temperature, a flow/return spread above the nominal delta adds
// gain times the excess. The result is clamped to the setpoint range.
func (c *Circuit) HeaterSetpoint() float64 {
	lo, hi := c.cfg.MinSetpoint, c.cfg.MaxSetpoint
	sp := hi

	if !math.IsNaN(c.outside) {
		span := c.target - c.cfg.DesignOutsideTemperature
		ratio := 1.0
		if span > 0 {
			ratio = clamp((c.target-c.outside)/span, 0, 1)
		}
		sp = lo + (hi-lo)*ratio
	}

	if !math.IsNaN(c.ret) {
		excess := (sp - c.ret) - c.cfg.NominalDeltaT
		if excess > 0 {
			sp += c.cfg.ReturnGain * excess
		}
	}

	// round to the 1/100 resolution the gateway accepts
	return math.Round(clamp(sp, lo, hi)*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Status returns a snapshot for diagnostics.
func (c *Circuit) Status() Status {
	s := Status{
		Name:              c.cfg.Name,
		Mode:              c.mode,
		State:             c.state.String(),
		Target:            c.cfg.Target,
		TargetTemperature: c.target,
		HeaterActive:      c.heaterActive,
		HeaterFault:       c.heaterFault,
		HeatingSince:      c.heatingSince,
	}
	s.CurrentTemperature = optional(c.current)
	s.OutsideTemperature = optional(c.outside)
	s.ReturnTemperature = optional(c.ret)
	s.HeaterTemperature = optional(c.heater)
	s.Setpoint = optional(c.setpoint)
	if c.pred.hasAvg {
		s.AverageTemperature = optional(c.pred.average)
		s.AverageTemperatureChange = optional(c.pred.change)
		s.PredictedTemperature = optional(c.pred.predicted)
	}
	return s
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
