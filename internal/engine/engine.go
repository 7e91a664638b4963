package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/otgw-core/internal/arbiter"
	"github.com/nerrad567/otgw-core/internal/climate"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/registry"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// Dialect selects how requests are put on the wire.
type Dialect string

// Wire dialects.
const (
	// DialectGateway sends writable items as OTGW commands ("CS=45.00").
	// The gateway relays every frame it sees, so reads are not sent.
	DialectGateway Dialect = "gateway"

	// DialectFrame sends raw request lines ("R10010000" style frames).
	DialectFrame Dialect = "frame"
)

// Queue priorities. Higher values are sent first.
const (
	PriorityPoll     = 0
	PriorityNormal   = 10
	PriorityStartup  = 15
	PrioritySetpoint = 20
)

// Defaults.
const (
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultTimeSyncInterval = time.Hour
	opsBuffer               = 64

	// overrideSource holds the setpoint sent while no circuit calls for heat
	// and the gateway overrides the thermostat. It ranks below every other
	// source.
	overrideSource   = "override_thermostat"
	overridePriority = -1 << 31
	overrideSetpoint = 5.0
)

// Logger defines the logging interface used by the Engine.
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

// Link is the line transport to the gateway. serial.Link implements it.
type Link interface {
	io.Writer

	// Lines delivers received lines without terminators.
	Lines() <-chan string
}

// Config configures an Engine.
type Config struct {
	// Dialect selects the request encoding. Empty selects DialectGateway.
	Dialect Dialect

	// Sequencer holds the transaction timeout, attempts, queue size and
	// line window.
	Sequencer sequencer.Config

	// TickInterval is how often deadlines, refreshes and polls are checked.
	TickInterval time.Duration

	// ReleaseValue is written to a setpoint when no source holds one.
	ReleaseValue float64

	// RefreshInterval is how often arbiters re-send their effective value.
	// Zero selects the default; a negative value disables refreshing.
	RefreshInterval time.Duration

	// OverrideThermostat makes the gateway keep control of every setpoint
	// that has a heating circuit: without demand it sends 5.00 and switches
	// central heating off instead of releasing to the thermostat.
	OverrideThermostat bool

	// TimeSync periodically writes the day and time (id 20).
	TimeSync         bool
	TimeSyncInterval time.Duration

	// StartupCommands are sent when Run starts and on every Resync.
	StartupCommands []opentherm.Command

	// PollInterval, when positive, requests PollItems at that interval.
	PollInterval time.Duration
	PollItems    []string

	// SubscriptionBuffer is the channel capacity of each Subscription.
	SubscriptionBuffer int
}

func (c Config) withDefaults() Config {
	if c.Dialect == "" {
		c.Dialect = DialectGateway
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.RefreshInterval < 0 {
		c.RefreshInterval = 0
	} else if c.RefreshInterval == 0 {
		c.RefreshInterval = arbiter.DefaultRefreshInterval
	}
	if c.TimeSyncInterval <= 0 {
		c.TimeSyncInterval = DefaultTimeSyncInterval
	}
	if c.SubscriptionBuffer <= 0 {
		c.SubscriptionBuffer = DefaultSubscriptionBuffer
	}
	return c
}

// Engine is the gateway context. See the package documentation.
type Engine struct {
	cfg      Config
	link     Link
	catalog  *opentherm.Catalog
	registry *registry.Registry
	seq      *sequencer.Sequencer
	arbiters map[uint8]*arbiter.Arbiter
	targets  []uint8
	inflight map[uint8]setpointWrite
	pollIDs  []uint8

	circuitsMu sync.RWMutex
	circuits   []*CircuitHandle
	byName     map[string]*CircuitHandle

	subs     *subscriptions
	dispatch *dispatcher
	metrics  *metrics
	logger   Logger
	now      func() time.Time

	ops     chan func()
	done    chan struct{}
	running atomic.Bool

	infoMu sync.RWMutex
	info   map[string]string

	// Owned by the engine goroutine.
	lastPoll     time.Time
	lastTimeSync time.Time
	lines        uint64
	frames       uint64
	malformed    uint64
	dropped      uint64
}

// New creates an engine for link.
//
// Parameters:
//   - link: Line transport; the engine is its only writer
//   - cfg: Engine configuration; zero fields take defaults
//
// Returns:
//   - *Engine: Ready to Run
//   - error: ErrInvalidConfig for an unknown dialect or poll item
func New(link Link, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.Dialect != DialectGateway && cfg.Dialect != DialectFrame {
		return nil, fmt.Errorf("%w: dialect %q", ErrInvalidConfig, cfg.Dialect)
	}

	catalog := opentherm.DefaultCatalog()
	e := &Engine{
		cfg:      cfg,
		link:     link,
		catalog:  catalog,
		registry: registry.New(catalog),
		seq:      sequencer.New(link, cfg.Sequencer),
		arbiters: make(map[uint8]*arbiter.Arbiter),
		inflight: make(map[uint8]setpointWrite),
		byName:   make(map[string]*CircuitHandle),
		subs:     newSubscriptions(cfg.SubscriptionBuffer),
		metrics:  newMetrics(),
		logger:   noopLogger{},
		now:      time.Now,
		ops:      make(chan func(), opsBuffer),
		done:     make(chan struct{}),
		info:     make(map[string]string),
	}
	e.dispatch = newDispatcher(e.logger)
	e.subs.onDrop = e.countDrop

	seen := make(map[uint8]bool)
	for _, name := range cfg.PollItems {
		it, ok := catalog.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: poll item %q: %w", ErrInvalidConfig, name, opentherm.ErrUnknownItem)
		}
		if !seen[it.ID] {
			seen[it.ID] = true
			e.pollIDs = append(e.pollIDs, it.ID)
		}
	}

	for _, target := range []uint8{climate.TargetCentralHeating1, climate.TargetCentralHeating2} {
		item, ok := catalog.Primary(target)
		if !ok {
			return nil, fmt.Errorf("%w: no catalog item for setpoint %d", ErrInvalidConfig, target)
		}
		e.arbiters[target] = arbiter.New(arbiter.Config{
			Name:            item.Name,
			Target:          target,
			ReleaseValue:    cfg.ReleaseValue,
			RefreshInterval: cfg.RefreshInterval,
		}, e.setpointSubmitter(item))
		e.targets = append(e.targets, target)
	}

	e.seq.OnComplete(e.handleComplete)
	e.seq.OnFailure(e.handleFailure)
	return e, nil
}

// SetLogger sets the logger for the engine and everything it owns.
// Call before Run.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
	e.dispatch.logger = logger
	e.registry.SetLogger(logger)
	e.seq.SetLogger(logger)
	for _, a := range e.arbiters {
		a.SetLogger(logger)
	}
}

// SetClock replaces the time source. Call before Run.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.registry.SetClock(now)
	e.seq.SetClock(now)
	for _, a := range e.arbiters {
		a.SetClock(now)
	}
}

// RegisterMetrics registers the engine's Prometheus collectors with reg.
func (e *Engine) RegisterMetrics(reg prometheus.Registerer) error {
	return e.metrics.register(reg)
}

// Run drives the engine until ctx is cancelled.
//
// On return every queued and live transaction is cancelled, every
// subscription is closed and later operations fail with ErrStopped.
//
// Parameters:
//   - ctx: Cancelling it stops the engine
//
// Returns:
//   - error: ctx.Err() once cancelled
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: Run called twice", ErrInvalidConfig)
	}
	defer close(e.done)
	defer e.subs.closeAll()
	defer e.seq.Close()

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.dispatch.run(dctx)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.logger.Info("engine started",
		"dialect", string(e.cfg.Dialect),
		"tick", e.cfg.TickInterval,
	)
	e.startup()
	e.snapshot()

	lines := e.link.Lines()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				e.logger.Warn("link closed its line channel")
				lines = nil
				continue
			}
			e.handleLine(line)
		case <-ticker.C:
			e.tick(e.now())
		case op := <-e.ops:
			op()
		}
		e.snapshot()
	}
}

// call runs fn on the engine goroutine and waits for it.
func (e *Engine) call(fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.ops <- op:
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// handleLine routes one line from the link.
func (e *Engine) handleLine(raw string) {
	e.lines++
	e.metrics.lines.Inc()

	switch opentherm.Classify(raw) {
	case opentherm.KindFrame:
		line, err := opentherm.ParseLine(raw)
		if err != nil {
			e.malformed++
			e.metrics.malformed.Inc()
			e.logger.Warn("dropping malformed frame", "line", raw, "error", err)
			e.seq.HandleOther()
			return
		}
		e.frames++
		e.metrics.frames.WithLabelValues(line.Source.String()).Inc()
		if ev, changed := e.registry.Apply(line.Message, line.Source); changed {
			e.publish(ev)
		}
		e.seq.HandleFrame(line)
	case opentherm.KindReply:
		reply, err := opentherm.ParseReply(raw)
		if err != nil {
			e.seq.HandleOther()
			return
		}
		e.seq.HandleReply(reply)
	default:
		e.logger.Debug("gateway output", "line", raw)
		e.seq.HandleOther()
	}
}

// tick runs the periodic work.
func (e *Engine) tick(now time.Time) {
	e.seq.Tick(now)
	for _, t := range e.targets {
		e.confirmSetpoint(t)
		e.arbiters[t].Refresh(now)
	}
	for _, h := range e.circuitList() {
		h.circuit.Tick()
	}
	e.poll(now)
	e.syncTime(now)
}

// publish fans a registry change out to subscribers and circuits.
func (e *Engine) publish(ev registry.ChangeEvent) {
	e.subs.deliver(ev)
	for _, h := range e.circuitList() {
		h.feed(ev)
	}
}

func (e *Engine) countDrop() {
	e.dropped++
	e.metrics.dropped.Inc()
}

// handleComplete records what a completed transaction confirmed.
func (e *Engine) handleComplete(h *sequencer.Handle) {
	res := h.Result()
	req := h.Request
	if res.Err != nil || !req.IsCommand() {
		return
	}
	if id, ok := req.ItemID(); ok {
		if ev, changed := e.registry.Accept(id, req.Message.Value); changed {
			e.publish(ev)
		}
	}
	if req.Command.Code == opentherm.CmdPrintReport {
		e.recordReport(req.Command.Param, res.Reply.Value)
	}
}

// handleFailure marks the item of a failed transaction invalid.
func (e *Engine) handleFailure(_ *sequencer.Handle, cf *sequencer.CommunicationFailure) {
	if !cf.HasItem {
		return
	}
	for _, ev := range e.registry.MarkInvalid(cf.ItemID) {
		e.publish(ev)
	}
}

// recordReport stores a PR reply ("A=OpenTherm Gateway 5.0") by report letter.
func (e *Engine) recordReport(param, value string) {
	key, text, ok := strings.Cut(value, "=")
	if !ok {
		key, text = param, value
	}
	e.infoMu.Lock()
	e.info[key] = text
	e.infoMu.Unlock()
	e.logger.Info("gateway report", "report", key, "value", text)
}

// startup queues the startup commands that are not already pending.
func (e *Engine) startup() {
	for _, cmd := range e.cfg.StartupCommands {
		req := sequencer.GatewayCommand(cmd)
		if e.seq.Queued(req.Key()) {
			continue
		}
		if _, err := e.seq.Submit(req, PriorityStartup); err != nil {
			e.logger.Warn("startup command not queued", "command", cmd.String(), "error", err)
		}
	}
}

// poll requests the configured items once per poll interval. In the
// gateway dialect items are requested with PM, which makes the gateway ask
// the boiler at the next opportunity.
func (e *Engine) poll(now time.Time) {
	if e.cfg.PollInterval <= 0 || len(e.pollIDs) == 0 {
		return
	}
	if !e.lastPoll.IsZero() && now.Sub(e.lastPoll) < e.cfg.PollInterval {
		return
	}
	e.lastPoll = now

	for _, id := range e.pollIDs {
		var req sequencer.Request
		if e.cfg.Dialect == DialectGateway {
			req = sequencer.GatewayCommand(opentherm.NewCommand(opentherm.CmdPrioMessage, strconv.Itoa(int(id))))
		} else {
			req = sequencer.Frame(opentherm.NewRead(id))
		}
		if e.seq.Queued(req.Key()) {
			continue
		}
		if _, err := e.seq.Submit(req, PriorityPoll); err != nil {
			e.logger.Debug("poll skipped", "item_id", id, "error", err)
		}
	}
}

// syncTime writes the day and time once per sync interval.
func (e *Engine) syncTime(now time.Time) {
	if !e.cfg.TimeSync {
		return
	}
	if !e.lastTimeSync.IsZero() && now.Sub(e.lastTimeSync) < e.cfg.TimeSyncInterval {
		return
	}
	item, ok := e.catalog.Lookup("day_time")
	if !ok {
		return
	}
	e.lastTimeSync = now

	raw, err := dayTime(now).Encode()
	if err != nil {
		e.logger.Warn("time sync skipped", "error", err)
		return
	}
	if _, err := e.submitItem(item, raw, PriorityNormal); err != nil {
		e.logger.Warn("time sync not queued", "error", err)
	}
}

// dayTime converts t to the OpenTherm day-time, Monday being day 1.
func dayTime(t time.Time) opentherm.DayTime {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return opentherm.DayTime{Weekday: wd, Hour: t.Hour(), Minute: t.Minute()}
}

// submitItem queues a write of raw to item in the configured dialect.
// Engine goroutine only.
func (e *Engine) submitItem(item opentherm.Item, raw uint16, priority int) (*sequencer.Handle, error) {
	msg := opentherm.NewWrite(item.ID, raw)
	req := sequencer.Frame(msg)
	if e.cfg.Dialect == DialectGateway {
		cmd, err := item.CommandFor(raw)
		if err != nil {
			return nil, err
		}
		req = sequencer.ItemCommand(cmd, msg)
	}
	return e.seq.Submit(req, priority)
}

// encode converts value to the raw data of item. Byte and flag shapes keep
// the other bits of the item's current value.
func (e *Engine) encode(item opentherm.Item, value float64) (uint16, error) {
	if !item.Writable {
		return 0, fmt.Errorf("%w: %s", opentherm.ErrNotWritable, item.Name)
	}
	var base uint16
	if d, ok := e.registry.Get(item.ID); ok {
		base = d.Slot(item.Slot).Value
	}
	return opentherm.EncodeValue(item.Shape, value, item.Bit, base)
}

// setpointWrite is the latest arbiter submission of a target.
type setpointWrite struct {
	handle *sequencer.Handle
	value  float64
}

// setpointSubmitter returns the arbiter submit function for a setpoint item.
func (e *Engine) setpointSubmitter(item opentherm.Item) arbiter.SubmitFunc {
	return func(value float64) error {
		raw, err := e.encode(item, value)
		if err != nil {
			return err
		}
		h, err := e.submitItem(item, raw, PrioritySetpoint)
		if err != nil {
			return err
		}
		e.inflight[item.ID] = setpointWrite{handle: h, value: value}
		return nil
	}
}

// confirmSetpoint tells the arbiter of target whether its latest submission
// reached the boiler. A superseded or cancelled write is retried at once;
// a failed one is re-sent on the next change or refresh.
func (e *Engine) confirmSetpoint(target uint8) {
	w, ok := e.inflight[target]
	if !ok {
		return
	}
	select {
	case <-w.handle.Done():
	default:
		return
	}
	delete(e.inflight, target)

	err := w.handle.Result().Err
	if err == nil {
		return
	}
	retry := errors.Is(err, sequencer.ErrSuperseded) || errors.Is(err, sequencer.ErrCancelled)
	e.logger.Warn("setpoint write not confirmed",
		"item_id", target,
		"value", w.value,
		"error", err,
	)
	e.arbiters[target].Unconfirmed(w.value, retry)
}

// snapshot publishes the loop-owned counters for Stats and the metrics.
func (e *Engine) snapshot() {
	stats := e.seq.Stats()
	state := e.seq.State().String()
	pending := e.seq.Pending()
	subs := e.subs.count()
	e.metrics.update(func(s *Stats) {
		s.Sequencer = stats
		s.State = state
		s.Pending = pending
		s.LinesReceived = e.lines
		s.FramesReceived = e.frames
		s.Malformed = e.malformed
		s.Dropped = e.dropped
		s.Subscriptions = subs
	})
}

func (e *Engine) circuitList() []*CircuitHandle {
	e.circuitsMu.RLock()
	defer e.circuitsMu.RUnlock()
	return e.circuits
}
