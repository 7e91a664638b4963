package otgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/otgw-core/internal/engine"
	"github.com/nerrad567/otgw-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/registry"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a command topic.
	minTopicParts = 4

	// DefaultCommandTimeout bounds how long a command is tracked for its
	// final acknowledgement.
	DefaultCommandTimeout = 30 * time.Second
)

// Command kinds, used in logs and metrics.
const (
	kindItem     = "item"
	kindGateway  = "gateway"
	kindCircuit  = "circuit"
	kindSetpoint = "setpoint"
)

// Engine is the part of engine.Engine the bridge uses.
type Engine interface {
	Catalog() *opentherm.Catalog
	Reading(name string) (registry.Reading, bool)
	Readings() []registry.Reading
	OnAnyChange() *engine.Subscription
	SubmitWriteNamed(name string, value float64, priority int) (*sequencer.Handle, error)
	SubmitCommand(cmd opentherm.Command, priority int) (*sequencer.Handle, error)
	WriteSetpoint(target uint8, id string, value float64) error
	InvalidateSetpoint(target uint8, id string) error
	WithdrawSetpoint(target uint8, id string) error
	Targets() []uint8
	Circuit(name string) (*engine.CircuitHandle, bool)
	Circuits() []*engine.CircuitHandle
	Stats() engine.Stats
	GatewayInfo() map[string]string
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger is the logging interface used by the bridge.
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

// Options holds configuration for creating a bridge.
type Options struct {
	// GatewayID names the gateway in every topic.
	GatewayID string

	// Name is the display name used in discovery. Defaults to GatewayID.
	Name string

	// Version is reported in health and discovery.
	Version string

	Engine Engine
	MQTT   MQTTClient

	// Link is optional and reported in health messages.
	Link     LinkMonitor
	LinkPort string

	// QoS for state and ack messages. Health is always QoS 1.
	QoS byte

	// Priority is the queue priority of item writes and gateway commands.
	// Defaults to engine.PriorityNormal.
	Priority int

	HealthInterval time.Duration
	CommandTimeout time.Duration

	// Discovery enables Home Assistant discovery under DiscoveryPrefix.
	Discovery       bool
	DiscoveryPrefix string

	// SetpointSources maps source ids to their setpoint target data id.
	SetpointSources map[string]uint8

	// Registerer receives the item gauges. Optional.
	Registerer prometheus.Registerer

	Logger Logger
}

// Bridge translates between the engine and MQTT.
// It handles:
//   - Publishing registry changes as retained item state
//   - Receiving item, gateway, circuit and setpoint commands
//   - Acknowledging commands as their transactions end
//   - Health reporting and discovery
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts    Options
	topics  mqtt.Topics
	engine  Engine
	mqtt    MQTTClient
	health  *HealthReporter
	metrics *metrics
	logger  Logger

	sub *engine.Subscription

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, ErrMissingEngine
	}
	if opts.MQTT == nil {
		return nil, ErrMissingMQTT
	}
	if opts.GatewayID == "" {
		return nil, ErrMissingGatewayID
	}
	if opts.Priority == 0 {
		opts.Priority = engine.PriorityNormal
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:      opts,
		engine:    opts.Engine,
		mqtt:      opts.MQTT,
		metrics:   newMetrics(opts.GatewayID),
		logger:    opts.Logger,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		GatewayID: opts.GatewayID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Link:      opts.Link,
		Port:      opts.LinkPort,
		Stats:     opts.Engine.Stats,
		Info:      opts.Engine.GatewayInfo,
		Circuits:  func() int { return len(opts.Engine.Circuits()) },
	})
	b.health.SetLogger(opts.Logger)
	return b, nil
}

// Start subscribes to the command topics, publishes the current state and
// starts forwarding changes.
//
// Circuits must be registered with the engine before Start so their
// transitions are published.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() { err = b.start(ctx) })
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	if err := b.metrics.register(b.opts.Registerer); err != nil {
		return err
	}
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("publishing starting status failed", "error", err)
	}

	gw := b.opts.GatewayID
	subs := []string{
		b.topics.AllItemCommands(gw),
		b.topics.GatewayCommand(gw),
		b.topics.AllCircuitCommands(gw),
		b.topics.AllSetpointCommands(gw),
	}
	for _, topic := range subs {
		if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logger.Debug("subscribed", "topic", topic)
	}

	b.sub = b.engine.OnAnyChange()
	b.wg.Add(1)
	go b.forwardChanges(b.sub)

	for _, r := range b.engine.Readings() {
		b.publishState(r)
	}

	circuits := b.engine.Circuits()
	for _, h := range circuits {
		publish := func() { b.publishCircuit(h) }
		h.OnEnterHeating(publish)
		h.OnEnterIdle(publish)
		b.publishCircuit(h)
	}

	if b.opts.Discovery {
		b.publishDiscovery(circuits)
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logger.Warn("publishing health failed", "error", err)
	}

	b.logger.Info("bridge started",
		"gateway", gw,
		"items", len(b.engine.Catalog().Items()),
		"circuits", len(circuits),
	)
	return nil
}

// Stop shuts the bridge down and waits for pending acknowledgements.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		if b.sub != nil {
			b.sub.Close()
		}
		b.health.Stop()
		b.wg.Wait()
		b.logger.Info("bridge stopped", "gateway", b.opts.GatewayID)
	})
}

// Health returns the health reporter, for LWT setup and forced reports.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// forwardChanges publishes every registry change until the subscription closes.
func (b *Bridge) forwardChanges(sub *engine.Subscription) {
	defer b.wg.Done()
	for ev := range sub.C() {
		b.handleChange(ev)
	}
}

// handleChange publishes the state of every item an event touches.
func (b *Bridge) handleChange(ev registry.ChangeEvent) {
	for _, it := range b.engine.Catalog().ForID(ev.ID) {
		if !ev.Affects(it) {
			continue
		}
		if r, ok := b.engine.Reading(it.Name); ok {
			b.publishState(r)
		}
	}
}

func (b *Bridge) publishState(r registry.Reading) {
	b.metrics.observe(r)
	payload, err := json.Marshal(NewStateMessage(r))
	if err != nil {
		b.logger.Error("marshalling state failed", "item", r.Item.Name, "error", err)
		return
	}
	topic := b.topics.ItemState(b.opts.GatewayID, r.Item.Name)
	if err := b.mqtt.Publish(topic, payload, b.opts.QoS, true); err != nil {
		b.logger.Warn("publishing state failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishCircuit(h *engine.CircuitHandle) {
	if b.stopped() {
		return
	}
	st, err := h.Status()
	if err != nil {
		b.logger.Debug("circuit status unavailable", "circuit", h.Name(), "error", err)
		return
	}
	payload, err := json.Marshal(CircuitStateMessage{Status: st, Timestamp: time.Now().UTC()})
	if err != nil {
		b.logger.Error("marshalling circuit state failed", "circuit", h.Name(), "error", err)
		return
	}
	topic := b.topics.CircuitState(b.opts.GatewayID, h.Name())
	if err := b.mqtt.Publish(topic, payload, b.opts.QoS, true); err != nil {
		b.logger.Warn("publishing circuit state failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishDiscovery(circuits []*engine.CircuitHandle) {
	names := make([]string, 0, len(circuits))
	for _, h := range circuits {
		names = append(names, h.Name())
	}
	arbitrated := make(map[uint8]bool)
	for _, t := range b.engine.Targets() {
		arbitrated[t] = true
	}
	entries := discoveryEntries(b.opts.DiscoveryPrefix, b.opts.GatewayID, b.opts.Name,
		b.opts.Version, b.engine.Catalog().Items(), arbitrated, names)
	for _, e := range entries {
		payload, err := e.payload()
		if err != nil {
			b.logger.Error("marshalling discovery failed", "topic", e.topic, "error", err)
			continue
		}
		if err := b.mqtt.Publish(e.topic, payload, 1, true); err != nil {
			b.logger.Warn("publishing discovery failed", "topic", e.topic, "error", err)
		}
	}
	b.logger.Info("discovery published", "entities", len(entries))
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
//
// Topics:
//
//	otgw/command/{gateway}/{item}
//	otgw/gateway/{gateway}/command
//	otgw/circuit/{gateway}/{circuit}/command
//	otgw/setpoint/{gateway}/{source}
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	if b.stopped() {
		return
	}
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[0] != mqtt.TopicPrefix || parts[2] != b.opts.GatewayID {
		b.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return
	}

	switch parts[1] {
	case "command":
		b.handleItemCommand(parts[3], payload)
	case "gateway":
		b.handleGatewayCommand(payload)
	case "circuit":
		b.handleCircuitCommand(parts[3], payload)
	case "setpoint":
		b.handleSetpointCommand(parts[3], payload)
	default:
		b.logger.Warn("unknown message type", "topic", topic)
	}
}

// handleItemCommand writes a value to a data item.
func (b *Bridge) handleItemCommand(name string, payload []byte) {
	msg, err := ParseCommandMessage(payload)
	id := commandID(msg.ID)
	if err != nil {
		b.publishAckError(kindItem, id, name, err)
		return
	}
	if msg.Value == nil {
		b.publishAckError(kindItem, id, name, fmt.Errorf("%w: value is required", ErrInvalidPayload))
		return
	}

	prio := b.opts.Priority
	if msg.Priority != nil {
		prio = *msg.Priority
	}

	b.logger.Info("received item command",
		"command_id", id,
		"item", name,
		"value", *msg.Value,
		"source", msg.Source,
	)
	h, err := b.engine.SubmitWriteNamed(name, *msg.Value, prio)
	if err != nil {
		b.publishAckError(kindItem, id, name, err)
		return
	}
	b.track(kindItem, id, name, h)
}

// handleGatewayCommand queues a raw OTGW command.
func (b *Bridge) handleGatewayCommand(payload []byte) {
	const target = "gateway"

	msg, err := ParseCommandMessage(payload)
	id := commandID(msg.ID)
	if err != nil {
		b.publishAckError(kindGateway, id, target, err)
		return
	}
	cmd, err := opentherm.ParseCommand(msg.Command)
	if err != nil {
		b.publishAckError(kindGateway, id, target, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
		return
	}

	b.logger.Info("received gateway command", "command_id", id, "command", cmd.String())
	h, err := b.engine.SubmitCommand(cmd, b.opts.Priority)
	if err != nil {
		b.publishAckError(kindGateway, id, target, err)
		return
	}
	b.track(kindGateway, id, target, h)
}

// handleCircuitCommand applies mode, target and pushed temperatures to a circuit.
// Circuit changes are applied synchronously and acknowledged as completed.
func (b *Bridge) handleCircuitCommand(name string, payload []byte) {
	target := "circuit_" + name

	var msg CircuitCommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishAckError(kindCircuit, uuid.NewString(), target, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
		return
	}
	id := commandID(msg.ID)

	h, ok := b.engine.Circuit(name)
	if !ok {
		b.publishAckError(kindCircuit, id, target, fmt.Errorf("%w: %s", engine.ErrUnknownCircuit, name))
		return
	}

	var steps []func() error
	if msg.Mode != nil {
		mode := *msg.Mode
		steps = append(steps, func() error { return h.SetMode(mode) })
	}
	if msg.TargetTemperature != nil {
		v := *msg.TargetTemperature
		steps = append(steps, func() error { return h.SetTargetTemperature(v) })
	}
	if msg.Temperature != nil {
		v := *msg.Temperature
		steps = append(steps, func() error { return h.UpdateTemperature(v, finite(v)) })
	}
	if msg.OutsideTemperature != nil {
		v := *msg.OutsideTemperature
		steps = append(steps, func() error { return h.UpdateOutsideTemperature(v, finite(v)) })
	}
	if len(steps) == 0 {
		b.publishAckError(kindCircuit, id, target, fmt.Errorf("%w: nothing to change", ErrInvalidPayload))
		return
	}

	b.logger.Info("received circuit command", "command_id", id, "circuit", name)
	for _, step := range steps {
		if err := step(); err != nil {
			b.publishAckError(kindCircuit, id, target, err)
			return
		}
	}
	b.publishAck(kindCircuit, NewAckMessage(id, target, AckCompleted))
	b.publishCircuit(h)
}

// handleSetpointCommand updates an external setpoint source.
func (b *Bridge) handleSetpointCommand(source string, payload []byte) {
	target := "setpoint_" + source

	msg, err := ParseCommandMessage(payload)
	id := commandID(msg.ID)
	if err != nil {
		b.publishAckError(kindSetpoint, id, target, err)
		return
	}

	dataID := msg.Target
	if dataID == 0 {
		configured, ok := b.opts.SetpointSources[source]
		if !ok {
			b.publishAckError(kindSetpoint, id, target,
				fmt.Errorf("%w: setpoint source %s has no target", engine.ErrUnknownTarget, source))
			return
		}
		dataID = configured
	}

	action := msg.Action
	if action == "" {
		action = ActionWrite
	}
	switch action {
	case ActionWrite:
		if msg.Value == nil {
			err = fmt.Errorf("%w: value is required", ErrInvalidPayload)
		} else {
			err = b.engine.WriteSetpoint(dataID, source, *msg.Value)
		}
	case ActionInvalidate:
		err = b.engine.InvalidateSetpoint(dataID, source)
	case ActionWithdraw:
		err = b.engine.WithdrawSetpoint(dataID, source)
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, action)
	}
	if err != nil {
		b.publishAckError(kindSetpoint, id, target, err)
		return
	}

	b.logger.Debug("setpoint source updated", "command_id", id, "source_id", source, "action", action)
	b.publishAck(kindSetpoint, NewAckMessage(id, target, AckCompleted))
}

// track acknowledges a queued transaction and publishes its outcome.
func (b *Bridge) track(kind, id, target string, h *sequencer.Handle) {
	accepted := NewAckMessage(id, target, AckAccepted)
	accepted.Request = h.Request.Key()
	b.publishAck("", accepted)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.ctx, b.opts.CommandTimeout)
		defer cancel()

		res, err := h.Wait(ctx)
		if errors.Is(err, context.Canceled) {
			// Bridge stopping, the broker may already be gone.
			return
		}
		if err != nil {
			ack := NewAckError(id, target, errorCode(err), err.Error())
			ack.Request = h.Request.Key()
			ack.Attempts = res.Attempts
			b.publishAck(kind, ack)
			return
		}
		done := NewAckMessage(id, target, AckCompleted)
		done.Request = h.Request.Key()
		done.Attempts = res.Attempts
		b.publishAck(kind, done)
	}()
}

// publishAck publishes an acknowledgement. Only final acks are counted,
// so kind is empty for "accepted".
func (b *Bridge) publishAck(kind string, ack AckMessage) {
	if kind != "" {
		b.metrics.command(kind, ack.Status)
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("marshalling ack failed", "error", err)
		return
	}
	topic := b.topics.CommandAck(b.opts.GatewayID, ack.Target)
	if err := b.mqtt.Publish(topic, payload, b.opts.QoS, false); err != nil {
		b.logger.Warn("publishing ack failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishAckError(kind, id, target string, err error) {
	code := errorCode(err)
	b.logger.Warn("command failed",
		"command_id", id,
		"target", target,
		"code", code,
		"error", err,
	)
	b.publishAck(kind, NewAckError(id, target, code, err.Error()))
}

// commandID returns id, or a new uuid when empty.
func commandID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
