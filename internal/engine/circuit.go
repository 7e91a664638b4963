package engine

import (
	"fmt"
	"sync"

	"github.com/nerrad567/otgw-core/internal/arbiter"
	"github.com/nerrad567/otgw-core/internal/climate"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/registry"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// CircuitHandle is a registered heating circuit.
//
// Its methods are safe for concurrent use. Edge callbacks run on the
// engine's callback worker, never on the engine goroutine.
type CircuitHandle struct {
	e       *Engine
	name    string
	target  uint8
	circuit *climate.Circuit
	inputs  []circuitInput

	mu     sync.Mutex
	onHeat []func()
	onIdle []func()
}

// circuitInput binds a catalog item to a circuit input.
type circuitInput struct {
	item  opentherm.Item
	apply func(c *climate.Circuit, r registry.Reading)
}

// circuitOutput routes a circuit's setpoint decisions into its arbiter.
type circuitOutput struct {
	name   string
	arb    *arbiter.Arbiter
	logger Logger
}

func (o *circuitOutput) WriteSetpoint(value float64) {
	if err := o.arb.Write(o.name, value); err != nil {
		o.logger.Warn("circuit setpoint rejected", "circuit", o.name, "value", value, "error", err)
	}
}

func (o *circuitOutput) ReleaseSetpoint() {
	if err := o.arb.Withdraw(o.name); err != nil {
		o.logger.Warn("circuit release rejected", "circuit", o.name, "error", err)
	}
}

// RegisterHeatingCircuit adds a floor heating circuit.
//
// The circuit becomes a source of the arbiter for cfg.Target under its name
// and priority. Configured source items are fed into the circuit from the
// registry, starting with their current values.
//
// Parameters:
//   - cfg: Circuit configuration; zero fields take defaults
//
// Returns:
//   - *CircuitHandle: Handle for callbacks, inputs and status
//   - error: climate.ErrInvalidConfig, opentherm.ErrUnknownItem,
//     ErrDuplicateCircuit, arbiter.ErrDuplicateSource or ErrStopped
func (e *Engine) RegisterHeatingCircuit(cfg climate.Config) (*CircuitHandle, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inputs, err := e.circuitInputs(cfg)
	if err != nil {
		return nil, err
	}
	arb, ok := e.arbiters[cfg.Target]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTarget, cfg.Target)
	}

	h := &CircuitHandle{
		e:      e,
		name:   cfg.Name,
		target: cfg.Target,
		inputs: inputs,
	}

	var regErr error
	if callErr := e.call(func() {
		regErr = e.registerCircuit(h, cfg, arb)
	}); callErr != nil {
		return nil, callErr
	}
	if regErr != nil {
		return nil, regErr
	}
	return h, nil
}

// registerCircuit runs on the engine goroutine.
func (e *Engine) registerCircuit(h *CircuitHandle, cfg climate.Config, arb *arbiter.Arbiter) error {
	if _, dup := e.byName[cfg.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateCircuit, cfg.Name)
	}
	if err := arb.RegisterSource(cfg.Name, cfg.Priority); err != nil {
		return err
	}

	c := climate.New(cfg, &circuitOutput{name: cfg.Name, arb: arb, logger: e.logger})
	c.SetClock(e.now)
	c.OnEnterHeating(func() { e.circuitEdge(h, true) })
	c.OnEnterIdle(func() { e.circuitEdge(h, false) })
	h.circuit = c

	e.circuitsMu.Lock()
	e.circuits = append(e.circuits, h)
	e.byName[cfg.Name] = h
	e.circuitsMu.Unlock()
	e.metrics.heating.WithLabelValues(cfg.Name).Set(0)

	if e.cfg.OverrideThermostat && !arb.HasSource(overrideSource) {
		if err := arb.RegisterSource(overrideSource, overridePriority); err == nil {
			_ = arb.Write(overrideSource, overrideSetpoint) //nolint:errcheck // constant is finite
		}
		e.updateHeatingEnable(cfg.Target)
	}

	for _, in := range h.inputs {
		if r, ok := e.registry.Typed(in.item.Name); ok {
			in.apply(c, r)
		}
	}

	e.logger.Info("heating circuit registered",
		"circuit", cfg.Name,
		"target", cfg.Target,
		"priority", cfg.Priority,
		"inputs", len(h.inputs),
	)
	return nil
}

// circuitInputs resolves the configured source items.
func (e *Engine) circuitInputs(cfg climate.Config) ([]circuitInput, error) {
	bindings := []struct {
		name  string
		apply func(*climate.Circuit, registry.Reading)
	}{
		{cfg.TemperatureSource, func(c *climate.Circuit, r registry.Reading) {
			c.UpdateTemperature(r.Value.Float(), r.Valid)
		}},
		{cfg.OutsideTemperatureSource, func(c *climate.Circuit, r registry.Reading) {
			c.UpdateOutsideTemperature(r.Value.Float(), r.Valid)
		}},
		{cfg.ReturnTemperatureSource, func(c *climate.Circuit, r registry.Reading) {
			c.UpdateReturnTemperature(r.Value.Float(), r.Valid)
		}},
		{cfg.HeaterTemperatureSource, func(c *climate.Circuit, r registry.Reading) {
			c.UpdateHeaterTemperature(r.Value.Float(), r.Valid)
		}},
		{cfg.HeaterActiveSource, func(c *climate.Circuit, r registry.Reading) {
			c.UpdateHeaterActive(r.Valid && r.Value.Bool())
		}},
		{cfg.HeaterFaultSource, func(c *climate.Circuit, r registry.Reading) {
			c.UpdateHeaterFault(r.Valid && r.Value.Bool())
		}},
	}

	var inputs []circuitInput
	for _, b := range bindings {
		if b.name == "" {
			continue
		}
		it, ok := e.catalog.Lookup(b.name)
		if !ok {
			return nil, fmt.Errorf("circuit %s: %w: %s", cfg.Name, opentherm.ErrUnknownItem, b.name)
		}
		inputs = append(inputs, circuitInput{item: it, apply: b.apply})
	}
	return inputs, nil
}

// feed passes a registry change to the inputs it affects.
func (h *CircuitHandle) feed(ev registry.ChangeEvent) {
	for _, in := range h.inputs {
		if !ev.Affects(in.item) {
			continue
		}
		if r, ok := h.e.registry.Typed(in.item.Name); ok {
			in.apply(h.circuit, r)
		}
	}
}

// circuitEdge runs on the engine goroutine for every circuit transition.
func (e *Engine) circuitEdge(h *CircuitHandle, heating bool) {
	state := climate.StateIdle
	gauge := 0.0
	if heating {
		state = climate.StateHeating
		gauge = 1
	}
	e.metrics.heating.WithLabelValues(h.name).Set(gauge)
	e.logger.Info("heating circuit transition", "circuit", h.name, "state", state.String())

	if e.cfg.OverrideThermostat {
		e.updateHeatingEnable(h.target)
	}

	for _, fn := range h.callbacks(heating) {
		e.dispatch.post(fn)
	}
}

// updateHeatingEnable switches central heating for a target on while any
// of its circuits calls for heat, and off otherwise.
func (e *Engine) updateHeatingEnable(target uint8) {
	if e.cfg.Dialect != DialectGateway {
		return
	}
	demand := false
	for _, h := range e.circuitList() {
		if h.target == target && h.circuit.State() == climate.StateHeating {
			demand = true
			break
		}
	}

	code := opentherm.CmdCentralHeating
	if target == climate.TargetCentralHeating2 {
		code = opentherm.CmdCentralHeating2
	}
	param := "0"
	if demand {
		param = "1"
	}
	cmd := opentherm.NewCommand(code, param)
	if _, err := e.seq.Submit(sequencer.GatewayCommand(cmd), PrioritySetpoint); err != nil {
		e.logger.Warn("heating enable not queued", "command", cmd.String(), "error", err)
	}
}

func (h *CircuitHandle) callbacks(heating bool) []func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.onIdle
	if heating {
		src = h.onHeat
	}
	out := make([]func(), len(src))
	copy(out, src)
	return out
}

// Name returns the circuit name.
func (h *CircuitHandle) Name() string { return h.name }

// Target returns the setpoint data id the circuit drives.
func (h *CircuitHandle) Target() uint8 { return h.target }

// OnEnterHeating registers fn to run on every Idle to Heating transition.
func (h *CircuitHandle) OnEnterHeating(fn func()) {
	h.mu.Lock()
	h.onHeat = append(h.onHeat, fn)
	h.mu.Unlock()
}

// OnEnterIdle registers fn to run on every Heating to Idle transition.
func (h *CircuitHandle) OnEnterIdle(fn func()) {
	h.mu.Lock()
	h.onIdle = append(h.onIdle, fn)
	h.mu.Unlock()
}

// SetMode switches the circuit between off and heat.
func (h *CircuitHandle) SetMode(m climate.Mode) error {
	if m != climate.ModeOff && m != climate.ModeHeat {
		return fmt.Errorf("%w: mode %q", ErrInvalidValue, m)
	}
	return h.e.call(func() { h.circuit.SetMode(m) })
}

// SetTargetTemperature changes the room target.
func (h *CircuitHandle) SetTargetTemperature(v float64) error {
	if !finite(v) {
		return fmt.Errorf("%w: target %g", ErrInvalidValue, v)
	}
	return h.e.call(func() { h.circuit.SetTargetTemperature(v) })
}

// UpdateTemperature pushes a room or floor temperature sample, for circuits
// without a temperature source item.
func (h *CircuitHandle) UpdateTemperature(v float64, valid bool) error {
	return h.e.call(func() { h.circuit.UpdateTemperature(v, valid) })
}

// UpdateOutsideTemperature pushes an outside temperature sample.
func (h *CircuitHandle) UpdateOutsideTemperature(v float64, valid bool) error {
	return h.e.call(func() { h.circuit.UpdateOutsideTemperature(v, valid) })
}

// Status returns a snapshot of the circuit.
func (h *CircuitHandle) Status() (climate.Status, error) {
	var st climate.Status
	err := h.e.call(func() { st = h.circuit.Status() })
	return st, err
}

// Circuit returns the circuit registered under name.
func (e *Engine) Circuit(name string) (*CircuitHandle, bool) {
	e.circuitsMu.RLock()
	defer e.circuitsMu.RUnlock()
	h, ok := e.byName[name]
	return h, ok
}

// Circuits returns every registered circuit in registration order.
func (e *Engine) Circuits() []*CircuitHandle {
	list := e.circuitList()
	out := make([]*CircuitHandle, len(list))
	copy(out, list)
	return out
}

// CircuitStatuses returns the status of every circuit.
func (e *Engine) CircuitStatuses() ([]climate.Status, error) {
	var out []climate.Status
	err := e.call(func() {
		for _, h := range e.circuitList() {
			out = append(out, h.circuit.Status())
		}
	})
	return out, err
}
