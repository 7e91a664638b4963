// OpenTherm Gateway Core
//
// This is the main entry point for the otgw daemon. It drives an OpenTherm
// Gateway over a serial port and publishes the boiler and thermostat data
// items to MQTT, with:
//   - Arbitrated setpoints from several control sources
//   - Floor heating circuits with hysteresis control
//   - Home Assistant discovery
//   - An HTTP diagnostics API with Prometheus metrics
//
// Configuration is read from configs/config.yaml or the file named by
// OTGW_CONFIG.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/otgw-core/internal/api"
	"github.com/nerrad567/otgw-core/internal/bridges/otgw"
	"github.com/nerrad567/otgw-core/internal/engine"
	"github.com/nerrad567/otgw-core/internal/infrastructure/config"
	"github.com/nerrad567/otgw-core/internal/infrastructure/logging"
	"github.com/nerrad567/otgw-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/otgw-core/internal/infrastructure/serial"
	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/sequencer"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// engineStopTimeout bounds the wait for the engine loop on shutdown.
const engineStopTimeout = 5 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting OpenTherm gateway core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	engineCfg, err := buildEngineConfig(cfg)
	if err != nil {
		return fmt.Errorf("building engine config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Serial link to the gateway
	link := serial.New(serial.Config{
		Port:              cfg.Serial.Port,
		Baud:              cfg.Serial.Baud,
		ReadTimeout:       time.Duration(cfg.Serial.ReadTimeout) * time.Millisecond,
		ReconnectDelay:    time.Duration(cfg.Serial.ReconnectDelay) * time.Second,
		MaxReconnectDelay: time.Duration(cfg.Serial.MaxReconnectDelay) * time.Second,
	})
	link.SetLogger(log)

	// Engine
	eng, err := engine.New(link, engineCfg)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	eng.SetLogger(log)
	if err := eng.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("registering engine metrics: %w", err)
	}
	link.OnConnect(eng.Resync)

	linkCtx, linkCancel := context.WithCancel(context.Background())
	linkDone := make(chan struct{})
	go func() {
		defer close(linkDone)
		if runErr := link.Run(linkCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Error("serial link stopped", "error", runErr)
		}
	}()
	defer func() {
		log.Info("closing serial link")
		linkCancel()
		<-linkDone
	}()

	engineCtx, engineCancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(engineCtx) //nolint:errcheck // Returns the context error on shutdown
	}()
	defer func() {
		log.Info("stopping engine")
		engineCancel()
		select {
		case <-engineDone:
		case <-time.After(engineStopTimeout):
			log.Warn("engine did not stop in time")
		}
	}()

	if err := registerControl(eng, cfg, log); err != nil {
		return err
	}

	// Entity publish layer
	if mqttClient != nil {
		bridge, bridgeErr := startBridge(ctx, cfg, eng, link, mqttClient, reg, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting OTGW bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping OTGW bridge")
			bridge.Stop()
		}()
	}

	// Diagnostics API
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Engine:   eng,
			Link:     link,
			Gatherer: reg,
			Version:  version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. OTGW bridge
	// 3. Engine
	// 4. Serial link
	// 5. MQTT

	log.Info("OpenTherm gateway core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses OTGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OTGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildEngineConfig maps the configuration file onto the engine.
//
// Parameters:
//   - cfg: Validated application configuration
//
// Returns:
//   - engine.Config: Engine settings
//   - error: If a startup query is not a valid gateway command
func buildEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.Config{
		Dialect: engine.Dialect(cfg.Gateway.Dialect),
		Sequencer: sequencer.Config{
			Timeout:    cfg.GetTransactionTimeout(),
			Attempts:   cfg.Engine.Attempts,
			QueueSize:  cfg.Engine.QueueSize,
			LineWindow: cfg.Engine.LineWindow,
		},
		TickInterval:       cfg.GetTickInterval(),
		ReleaseValue:       cfg.Gateway.ReleaseValue,
		RefreshInterval:    cfg.GetRefreshInterval(),
		OverrideThermostat: cfg.Gateway.OverrideThermostat,
		TimeSync:           cfg.Gateway.TimeSync,
		TimeSyncInterval:   time.Duration(cfg.Gateway.TimeSyncInterval) * time.Second,
		SubscriptionBuffer: cfg.Engine.SubscriptionBuffer,
	}
	for _, q := range cfg.Gateway.StartupQueries {
		cmd, err := opentherm.ParseCommand(q)
		if err != nil {
			return engine.Config{}, fmt.Errorf("startup query %q: %w", q, err)
		}
		ec.StartupCommands = append(ec.StartupCommands, cmd)
	}

	if cfg.Gateway.Poll.Enabled {
		ec.PollInterval = time.Duration(cfg.Gateway.Poll.Interval) * time.Second
		ec.PollItems = cfg.Gateway.Poll.Items
	}
	return ec, nil
}

// registerControl registers the configured setpoint sources and heating
// circuits with a running engine.
func registerControl(eng *engine.Engine, cfg *config.Config, log *logging.Logger) error {
	for _, src := range cfg.SetpointSources {
		if err := eng.RegisterSetpointSource(src.Target, src.ID, src.Priority); err != nil {
			return fmt.Errorf("registering setpoint source %s: %w", src.ID, err)
		}
		log.Info("setpoint source registered",
			"source_id", src.ID,
			"target", src.Target,
			"priority", src.Priority,
		)
	}
	for _, c := range cfg.Circuits {
		if _, err := eng.RegisterHeatingCircuit(c); err != nil {
			return fmt.Errorf("registering heating circuit %s: %w", c.Name, err)
		}
	}
	return nil
}

// startBridge creates and starts the MQTT entity publish layer.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	eng *engine.Engine,
	link *serial.Link,
	mqttClient *mqtt.Client,
	reg prometheus.Registerer,
	log *logging.Logger,
) (*otgw.Bridge, error) {
	sources := make(map[string]uint8, len(cfg.SetpointSources))
	for _, src := range cfg.SetpointSources {
		sources[src.ID] = src.Target
	}

	bridge, err := otgw.New(otgw.Options{
		GatewayID:       cfg.Gateway.ID,
		Name:            cfg.Gateway.Name,
		Version:         version,
		Engine:          eng,
		MQTT:            &mqttBridgeAdapter{client: mqttClient},
		Link:            link,
		LinkPort:        cfg.Serial.Port,
		QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		HealthInterval:  time.Duration(cfg.Gateway.HealthInterval) * time.Second,
		Discovery:       cfg.MQTT.Discovery.Enabled,
		DiscoveryPrefix: cfg.MQTT.Discovery.Prefix,
		SetpointSources: sources,
		Registerer:      reg,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating OTGW bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("OTGW bridge started", "gateway", cfg.Gateway.ID)
	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - OTGW bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements otgw.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements otgw.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements otgw.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
