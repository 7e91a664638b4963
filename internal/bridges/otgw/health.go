package otgw

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/otgw-core/internal/engine"
	"github.com/nerrad567/otgw-core/internal/infrastructure/mqtt"
)

// DefaultHealthInterval is how often health is published when not configured.
const DefaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	gatewayID string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	link      LinkMonitor
	port      string
	stats     func() engine.Stats
	info      func() map[string]string
	circuits  func() int
	failures  *engine.FailureTracker

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// LinkMonitor reports the state of the serial link. *serial.Link satisfies it.
type LinkMonitor interface {
	Connected() bool
	Stats() (reconnects, rx, tx uint64)
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	GatewayID string
	Version   string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Link is optional; without it the link is reported as unknown.
	Link LinkMonitor
	Port string

	// Stats, Info and Circuits are read on every report. All optional.
	Stats    func() engine.Stats
	Info     func() map[string]string
	Circuits func() int
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthReporter{
		gatewayID: cfg.GatewayID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		link:      cfg.Link,
		port:      cfg.Port,
		stats:     cfg.Stats,
		info:      cfg.Info,
		circuits:  cfg.Circuits,
		failures:  engine.NewFailureTracker(engine.DefaultFailureWindow),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Topic returns the health topic.
func (h *HealthReporter) Topic() string {
	return mqtt.Topics{}.Health(h.gatewayID)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.getLogger().Warn("publishing health failed", "error", err)
			}
		}
	}
}

// determineStatus evaluates the current status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.link != nil && !h.link.Connected() {
		return HealthDegraded, "serial link disconnected"
	}
	if h.stats != nil && h.failures.Observe(h.stats().Sequencer.Failures) {
		return HealthDegraded, "gateway not answering"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Gateway:       h.gatewayID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}

	if h.link != nil {
		reconnects, _, _ := h.link.Stats()
		ls := &LinkStatus{Status: "disconnected", Port: h.port, Reconnects: reconnects}
		if h.link.Connected() {
			ls.Status = "connected"
		}
		msg.Link = ls
	}
	if h.stats != nil {
		s := h.stats()
		msg.Statistics = &HealthStatistics{
			LinesReceived:  s.LinesReceived,
			FramesReceived: s.FramesReceived,
			Malformed:      s.Malformed,
			RequestsSent:   s.Sequencer.Sent,
			Retries:        s.Sequencer.Retries,
			Failures:       s.Sequencer.Failures,
			QueueDepth:     s.Pending,
		}
	}
	if h.info != nil {
		msg.Info = h.info()
	}
	if h.circuits != nil {
		msg.Circuits = h.circuits()
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.Topic(), payload, 1, true)
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
