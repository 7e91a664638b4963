package engine

import (
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/nerrad567/otgw-core/internal/arbiter"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/registry"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// SubmitWrite queues a write of value to a data id.
//
// The value is encoded with the shape of the id's primary catalog item.
// In the gateway dialect the write is sent as that item's OTGW command and
// recorded in the master slot once the gateway confirms it.
//
// Parameters:
//   - id: OpenTherm data id
//   - value: Value in the item's unit
//   - priority: Queue priority; higher is sent first
//
// Returns:
//   - *sequencer.Handle: Tracks the transaction
//   - error: opentherm.ErrUnknownItem, opentherm.ErrNotWritable,
//     opentherm.ErrValueRange, ErrArbitrated for the control setpoints,
//     sequencer.ErrQueueFull or ErrStopped
func (e *Engine) SubmitWrite(id uint8, value float64, priority int) (*sequencer.Handle, error) {
	item, ok := e.catalog.Primary(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", opentherm.ErrUnknownItem, id)
	}
	return e.submitWrite(item, value, priority)
}

// SubmitWriteNamed queues a write to a named catalog item. Unlike
// SubmitWrite it can address one half of a shared data id.
func (e *Engine) SubmitWriteNamed(name string, value float64, priority int) (*sequencer.Handle, error) {
	item, ok := e.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", opentherm.ErrUnknownItem, name)
	}
	return e.submitWrite(item, value, priority)
}

func (e *Engine) submitWrite(item opentherm.Item, value float64, priority int) (*sequencer.Handle, error) {
	if _, ok := e.arbiters[item.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrArbitrated, item.Name)
	}
	var (
		h   *sequencer.Handle
		err error
	)
	if callErr := e.call(func() {
		var raw uint16
		raw, err = e.encode(item, value)
		if err != nil {
			return
		}
		h, err = e.submitItem(item, raw, priority)
	}); callErr != nil {
		return nil, callErr
	}
	return h, err
}

// SubmitRead queues a READ-DATA request for a data id.
//
// Returns ErrUnsupported in the gateway dialect, where the gateway reports
// every item it relays without being asked.
func (e *Engine) SubmitRead(id uint8, priority int) (*sequencer.Handle, error) {
	if e.cfg.Dialect == DialectGateway {
		return nil, fmt.Errorf("%w: read of id %d", ErrUnsupported, id)
	}
	return e.submit(sequencer.Frame(opentherm.NewRead(id)), priority)
}

// SubmitCommand queues a raw gateway command such as "HW=P" or "GW=R".
// Commands that write an arbitrated setpoint (CS, C2) return ErrArbitrated.
func (e *Engine) SubmitCommand(cmd opentherm.Command, priority int) (*sequencer.Handle, error) {
	for target := range e.arbiters {
		if it, ok := e.catalog.Primary(target); ok && it.Command == strings.ToUpper(cmd.Code) {
			return nil, fmt.Errorf("%w: %s", ErrArbitrated, cmd.String())
		}
	}
	return e.submit(sequencer.GatewayCommand(cmd), priority)
}

func (e *Engine) submit(req sequencer.Request, priority int) (*sequencer.Handle, error) {
	var (
		h   *sequencer.Handle
		err error
	)
	if callErr := e.call(func() {
		h, err = e.seq.Submit(req, priority)
	}); callErr != nil {
		return nil, callErr
	}
	return h, err
}

// Read returns the typed value of a data id through its primary catalog
// item. The bool is false when the id was never seen or is invalid.
func (e *Engine) Read(id uint8) (opentherm.Value, bool) {
	r, ok := e.registry.Read(id)
	return r.Value, ok && r.Valid
}

// ReadNamed returns the typed value of a named catalog item.
func (e *Engine) ReadNamed(name string) (opentherm.Value, bool) {
	r, ok := e.registry.Typed(name)
	return r.Value, ok && r.Valid
}

// Reading returns the full reading of a named item, including validity
// and update time.
func (e *Engine) Reading(name string) (registry.Reading, bool) {
	return e.registry.Typed(name)
}

// Readings returns every catalog item that has been seen.
func (e *Engine) Readings() []registry.Reading {
	return e.registry.Readings()
}

// Snapshot returns the raw cached state of every data id.
func (e *Engine) Snapshot() []registry.DataItem {
	return e.registry.Snapshot()
}

// Catalog returns the item catalog.
func (e *Engine) Catalog() *opentherm.Catalog {
	return e.catalog
}

// Dialect returns the configured wire dialect.
func (e *Engine) Dialect() Dialect {
	return e.cfg.Dialect
}

// OnChange subscribes to changes of one data id.
func (e *Engine) OnChange(id uint8) *Subscription {
	return e.subs.add(id, false)
}

// OnAnyChange subscribes to changes of every data id.
func (e *Engine) OnAnyChange() *Subscription {
	return e.subs.add(0, true)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return e.metrics.stats()
}

// GatewayInfo returns the gateway reports collected from PR replies, keyed
// by report letter.
func (e *Engine) GatewayInfo() map[string]string {
	e.infoMu.RLock()
	defer e.infoMu.RUnlock()
	return maps.Clone(e.info)
}

// Resync queues the startup commands again. It does not wait and may be
// called from any goroutine, including link callbacks.
func (e *Engine) Resync() {
	go func() {
		_ = e.call(e.startup) //nolint:errcheck // ErrStopped only
	}()
}

// SetpointStatus describes the arbitration of one setpoint target.
type SetpointStatus struct {
	Target    uint8             `json:"target_item_id"`
	Item      string            `json:"item"`
	Winner    string            `json:"winner,omitempty"`
	Effective *float64          `json:"effective,omitempty"`
	LastSent  *float64          `json:"last_sent,omitempty"`
	Requests  []arbiter.Request `json:"requests"`
}

// Targets returns the setpoint targets in ascending order.
func (e *Engine) Targets() []uint8 {
	out := make([]uint8, len(e.targets))
	copy(out, e.targets)
	return out
}

// RegisterSetpointSource adds a named setpoint source to a target's arbiter.
func (e *Engine) RegisterSetpointSource(target uint8, id string, priority int) error {
	return e.withArbiter(target, func(a *arbiter.Arbiter) error {
		return a.RegisterSource(id, priority)
	})
}

// WriteSetpoint records a source's requested value.
func (e *Engine) WriteSetpoint(target uint8, id string, value float64) error {
	return e.withArbiter(target, func(a *arbiter.Arbiter) error {
		return a.Write(id, value)
	})
}

// InvalidateSetpoint marks a source's request invalid, keeping its value.
func (e *Engine) InvalidateSetpoint(target uint8, id string) error {
	return e.withArbiter(target, func(a *arbiter.Arbiter) error {
		return a.Invalidate(id)
	})
}

// WithdrawSetpoint drops a source's request.
func (e *Engine) WithdrawSetpoint(target uint8, id string) error {
	return e.withArbiter(target, func(a *arbiter.Arbiter) error {
		return a.Withdraw(id)
	})
}

// SetSetpointPriority changes a source's priority.
func (e *Engine) SetSetpointPriority(target uint8, id string, priority int) error {
	return e.withArbiter(target, func(a *arbiter.Arbiter) error {
		return a.SetPriority(id, priority)
	})
}

// Setpoint returns the arbitration state of a target.
func (e *Engine) Setpoint(target uint8) (SetpointStatus, error) {
	var st SetpointStatus
	err := e.withArbiter(target, func(a *arbiter.Arbiter) error {
		st = SetpointStatus{
			Target:   target,
			Item:     a.Config().Name,
			Winner:   a.Winner(),
			Requests: a.Requests(),
		}
		if v, ok := a.EffectiveValue(); ok {
			st.Effective = &v
		}
		if v, ok := a.LastSent(); ok {
			st.LastSent = &v
		}
		return nil
	})
	return st, err
}

func (e *Engine) withArbiter(target uint8, fn func(*arbiter.Arbiter) error) error {
	a, ok := e.arbiters[target]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, target)
	}
	var err error
	if callErr := e.call(func() { err = fn(a) }); callErr != nil {
		return callErr
	}
	return err
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
