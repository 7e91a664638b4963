package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/otgw-core/internal/climate"
	"github.com/nerrad567/otgw-core/internal/engine"
	"github.com/nerrad567/otgw-core/internal/infrastructure/config"
	"github.com/nerrad567/otgw-core/internal/infrastructure/logging"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/registry"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultCommandWait bounds ?wait=true requests.
const defaultCommandWait = 10 * time.Second

// Engine is the part of the engine the API uses.
type Engine interface {
	Catalog() *opentherm.Catalog
	Dialect() engine.Dialect
	Reading(name string) (registry.Reading, bool)
	Readings() []registry.Reading
	Snapshot() []registry.DataItem
	OnAnyChange() *engine.Subscription
	SubmitWriteNamed(name string, value float64, priority int) (*sequencer.Handle, error)
	SubmitCommand(cmd opentherm.Command, priority int) (*sequencer.Handle, error)
	Targets() []uint8
	Setpoint(target uint8) (engine.SetpointStatus, error)
	WriteSetpoint(target uint8, id string, value float64) error
	InvalidateSetpoint(target uint8, id string) error
	WithdrawSetpoint(target uint8, id string) error
	Circuit(name string) (*engine.CircuitHandle, bool)
	Circuits() []*engine.CircuitHandle
	CircuitStatuses() ([]climate.Status, error)
	Stats() engine.Stats
	GatewayInfo() map[string]string
}

// LinkMonitor reports the serial link state.
type LinkMonitor interface {
	Connected() bool
	Stats() (reconnects, rx, tx uint64)
}

// MQTTStatus reports the broker connection state.
type MQTTStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   Engine
	Link     LinkMonitor // optional
	MQTT     MQTTStatus  // optional
	Gatherer prometheus.Gatherer
	Priority int // queue priority of API writes; zero means engine.PriorityNormal
	Version  string
}

// Server is the HTTP diagnostics server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	engine    Engine
	link      LinkMonitor
	mqtt      MQTTStatus
	gatherer  prometheus.Gatherer
	priority  int
	version   string
	startTime time.Time
	failures  *engine.FailureTracker
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
	feedDone  chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		engine:    deps.Engine,
		link:      deps.Link,
		mqtt:      deps.MQTT,
		gatherer:  deps.Gatherer,
		priority:  deps.Priority,
		version:   deps.Version,
		startTime: time.Now(),
		failures:  engine.NewFailureTracker(engine.DefaultFailureWindow),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.priority == 0 {
		s.priority = engine.PriorityNormal
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and its engine feed, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.startFeed(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startFeed runs the hub and connects it to the engine.
func (s *Server) startFeed(ctx context.Context) {
	go s.hub.Run(ctx)

	sub := s.engine.OnAnyChange()
	s.feedDone = make(chan struct{})
	go s.forwardChanges(ctx, sub)

	for _, h := range s.engine.Circuits() {
		h.OnEnterHeating(func() { s.broadcastCircuit(h) })
		h.OnEnterIdle(func() { s.broadcastCircuit(h) })
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.feedDone != nil {
		<-s.feedDone
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// commandWait returns how long ?wait=true requests block.
func (s *Server) commandWait() time.Duration {
	if s.cfg.Timeouts.Write > 0 {
		w := time.Duration(s.cfg.Timeouts.Write) * time.Second
		if w < defaultCommandWait {
			return w
		}
	}
	return defaultCommandWait
}
