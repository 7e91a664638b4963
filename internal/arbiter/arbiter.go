// Package arbiter merges competing setpoint requests into the single value
// written to a boiler setpoint item.
//
// Every named source holds at most one request. The effective value is the
// request of the highest-priority valid source; among equal priorities the
// most recent write wins. Whenever the effective value changes the arbiter
// submits it, and it re-submits periodically because the gateway forgets
// overrides that are not refreshed.
package arbiter

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Defaults.
const (
	DefaultRefreshInterval = 50 * time.Second
	DefaultReleaseValue    = 0.0
)

// Logger defines the logging interface used by the Arbiter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SubmitFunc writes a value to the target item. A returned error leaves the
// value unsent; the next Refresh tries again.
type SubmitFunc func(value float64) error

// Config configures an Arbiter.
type Config struct {
	// Name identifies the arbiter in logs, e.g. "central_heating_setpoint_1".
	Name string

	// Target is the data id the effective value is written to.
	Target uint8

	// ReleaseValue is submitted when no source holds a value. For the
	// control setpoint 0 hands control back to the thermostat.
	ReleaseValue float64

	// RefreshInterval is how often the effective value is re-sent.
	// Zero disables refreshing.
	RefreshInterval time.Duration
}

// Request is the latest setpoint request of one source.
type Request struct {
	SourceID  string    `json:"source_id"`
	Priority  int       `json:"priority"`
	Value     float64   `json:"value"`
	Valid     bool      `json:"valid"`
	Written   bool      `json:"written"`
	Timestamp time.Time `json:"timestamp"`

	seq uint64
}

// active reports whether the request takes part in arbitration.
func (r *Request) active() bool {
	return r.Written && r.Valid
}

// ArbitrationConflict describes valid sources that disagree. It is logged,
// never returned.
type ArbitrationConflict struct {
	Winner string
	Value  float64
	Others map[string]float64
}

func (c ArbitrationConflict) String() string {
	return fmt.Sprintf("arbitration conflict: %s=%.2f wins over %v", c.Winner, c.Value, c.Others)
}

// Arbiter resolves setpoint requests for one target item.
//
// An Arbiter is owned by the engine goroutine and is not safe for
// concurrent use.
type Arbiter struct {
	cfg     Config
	submit  SubmitFunc
	logger  Logger
	now     func() time.Time
	sources map[string]*Request
	seq     uint64

	sent       bool
	lastSent   float64
	lastSentAt time.Time
	dirty      bool
	lost       bool
}

// New creates an arbiter that submits through fn.
func New(cfg Config, fn SubmitFunc) *Arbiter {
	return &Arbiter{
		cfg:     cfg,
		submit:  fn,
		logger:  noopLogger{},
		now:     time.Now,
		sources: make(map[string]*Request),
	}
}

// SetLogger sets the logger for the arbiter.
func (a *Arbiter) SetLogger(logger Logger) {
	a.logger = logger
}

// SetClock replaces the time source used for timestamps.
func (a *Arbiter) SetClock(now func() time.Time) {
	a.now = now
}

// Config returns the arbiter configuration.
func (a *Arbiter) Config() Config {
	return a.cfg
}

// RegisterSource adds a named source with a priority.
func (a *Arbiter) RegisterSource(id string, priority int) error {
	if id == "" {
		return fmt.Errorf("%w: empty source id", ErrInvalidSource)
	}
	if _, exists := a.sources[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	a.sources[id] = &Request{SourceID: id, Priority: priority}
	return nil
}

// HasSource reports whether id is registered.
func (a *Arbiter) HasSource(id string) bool {
	_, ok := a.sources[id]
	return ok
}

// SetPriority changes a source's priority and re-evaluates.
func (a *Arbiter) SetPriority(id string, priority int) error {
	src, err := a.source(id)
	if err != nil {
		return err
	}
	src.Priority = priority
	a.evaluate()
	return nil
}

// Write records a new value for a source and re-evaluates. The write makes
// the source valid and the most recent among its priority.
func (a *Arbiter) Write(id string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidValue, value)
	}
	src, err := a.source(id)
	if err != nil {
		return err
	}
	a.seq++
	src.Value = value
	src.Valid = true
	src.Written = true
	src.Timestamp = a.now()
	src.seq = a.seq
	a.evaluate()
	return nil
}

// Invalidate marks a source's request invalid without forgetting its value.
func (a *Arbiter) Invalidate(id string) error {
	src, err := a.source(id)
	if err != nil {
		return err
	}
	src.Valid = false
	a.evaluate()
	return nil
}

// Withdraw drops a source's request. The source stays registered.
func (a *Arbiter) Withdraw(id string) error {
	src, err := a.source(id)
	if err != nil {
		return err
	}
	*src = Request{SourceID: src.SourceID, Priority: src.Priority}
	a.evaluate()
	return nil
}

// Unregister removes a source entirely.
func (a *Arbiter) Unregister(id string) error {
	if _, err := a.source(id); err != nil {
		return err
	}
	delete(a.sources, id)
	a.evaluate()
	return nil
}

func (a *Arbiter) source(id string) (*Request, error) {
	src, ok := a.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return src, nil
}

// winner returns the active request that arbitration selects.
func (a *Arbiter) winner() *Request {
	var best *Request
	for _, src := range a.sources {
		if !src.active() {
			continue
		}
		if best == nil || src.Priority > best.Priority || (src.Priority == best.Priority && src.seq > best.seq) {
			best = src
		}
	}
	return best
}

// EffectiveValue returns the winning value, or false if no source holds one.
func (a *Arbiter) EffectiveValue() (float64, bool) {
	if w := a.winner(); w != nil {
		return w.Value, true
	}
	return 0, false
}

// Winner returns the id of the winning source, or "" if none.
func (a *Arbiter) Winner() string {
	if w := a.winner(); w != nil {
		return w.SourceID
	}
	return ""
}

// LastSent returns the last value submitted. The bool is false when
// nothing was sent or the last submission never reached the boiler.
func (a *Arbiter) LastSent() (float64, bool) {
	return a.lastSent, a.sent && !a.lost
}

// Unconfirmed reports that the submission of value did not reach the
// boiler. With retry the value is re-sent at the next Refresh; otherwise it
// is re-sent on the next change or refresh interval, even if unchanged.
// Reports for a value other than the last one sent are ignored.
func (a *Arbiter) Unconfirmed(value float64, retry bool) {
	if !a.sent || value != a.lastSent {
		return
	}
	a.lost = true
	if retry {
		a.dirty = true
	}
	a.logger.Debug("setpoint submission lost",
		"arbiter", a.cfg.Name,
		"item_id", a.cfg.Target,
		"value", value,
		"retry", retry,
	)
}

// Requests returns a copy of every source's request, sorted by priority
// (highest first) then source id.
func (a *Arbiter) Requests() []Request {
	out := make([]Request, 0, len(a.sources))
	for _, src := range a.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// evaluate submits the effective value when it differs from the last one sent.
func (a *Arbiter) evaluate() {
	w := a.winner()
	value := a.cfg.ReleaseValue
	if w != nil {
		value = w.Value
		a.logConflict(w)
	} else if !a.sent {
		// nothing was ever sent, so there is no override to release
		a.dirty = false
		return
	}

	if a.sent && value == a.lastSent && !a.dirty && !a.lost {
		return
	}
	a.send(value)
}

// send submits value and records it on success.
func (a *Arbiter) send(value float64) {
	if err := a.submit(value); err != nil {
		a.dirty = true
		a.logger.Warn("setpoint submit failed",
			"arbiter", a.cfg.Name,
			"item_id", a.cfg.Target,
			"value", value,
			"error", err,
		)
		return
	}
	a.sent = true
	a.lastSent = value
	a.lastSentAt = a.now()
	a.dirty = false
	a.lost = false
	a.logger.Debug("setpoint submitted",
		"arbiter", a.cfg.Name,
		"item_id", a.cfg.Target,
		"value", value,
		"source_id", a.Winner(),
	)
}

func (a *Arbiter) logConflict(w *Request) {
	var others map[string]float64
	for _, src := range a.sources {
		if src == w || !src.active() || src.Value == w.Value {
			continue
		}
		if others == nil {
			others = make(map[string]float64)
		}
		others[src.SourceID] = src.Value
	}
	if others == nil {
		return
	}
	c := ArbitrationConflict{Winner: w.SourceID, Value: w.Value, Others: others}
	a.logger.Debug(c.String(),
		"arbiter", a.cfg.Name,
		"source_id", w.SourceID,
	)
}

// Refresh re-sends the effective value once the refresh interval has
// elapsed, and retries a submission that failed earlier.
func (a *Arbiter) Refresh(now time.Time) {
	if a.dirty {
		a.evaluate()
		return
	}
	if a.cfg.RefreshInterval <= 0 || !a.sent {
		return
	}
	value, ok := a.EffectiveValue()
	if !ok {
		return
	}
	if now.Sub(a.lastSentAt) >= a.cfg.RefreshInterval {
		a.send(value)
	}
}
