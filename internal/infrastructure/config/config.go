package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/otgw-core/internal/climate"
)

// Wire dialects.
const (
	// DialectGateway sends writable items as OTGW gateway commands (CS=, SW=, ...).
	DialectGateway = "gateway"

	// DialectFrame sends raw R-prefixed request frames.
	DialectFrame = "frame"
)

// Config is the root configuration structure for the OpenTherm gateway core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway         GatewayConfig          `yaml:"gateway"`
	Serial          SerialConfig           `yaml:"serial"`
	Engine          EngineConfig           `yaml:"engine"`
	Circuits        []climate.Config       `yaml:"circuits"`
	SetpointSources []SetpointSourceConfig `yaml:"setpoint_sources"`
	MQTT            MQTTConfig             `yaml:"mqtt"`
	API             APIConfig              `yaml:"api"`
	WebSocket       WebSocketConfig        `yaml:"websocket"`
	Logging         LoggingConfig          `yaml:"logging"`
	Security        SecurityConfig         `yaml:"security"`
}

// GatewayConfig describes the attached OpenTherm gateway.
type GatewayConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Dialect string `yaml:"dialect"`

	// OverrideThermostat sends CS=5.00 and CH=0 when no circuit calls for heat,
	// so the room thermostat cannot start the boiler on its own.
	OverrideThermostat bool `yaml:"override_thermostat"`

	// TimeSync periodically sends the wall clock with SC=HH:MM/dow.
	TimeSync         bool `yaml:"time_sync"`
	TimeSyncInterval int  `yaml:"time_sync_interval"` // seconds

	// StartupQueries are gateway commands sent once the link is up,
	// for example "PR=A" or "PM=125".
	StartupQueries []string `yaml:"startup_queries"`

	Poll PollConfig `yaml:"poll"`

	// ReleaseValue is written when no setpoint source holds a value.
	ReleaseValue float64 `yaml:"release_value"`

	// RefreshInterval re-sends the effective setpoint (seconds).
	RefreshInterval int `yaml:"refresh_interval"`

	// HealthInterval is how often the bridge publishes its health (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// PollConfig lists data items requested periodically.
type PollConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval int      `yaml:"interval"` // seconds
	Items    []string `yaml:"items"`
}

// SerialConfig contains serial port settings.
type SerialConfig struct {
	Port              string `yaml:"port"`
	Baud              int    `yaml:"baud"`
	ReadTimeout       int    `yaml:"read_timeout"`        // milliseconds
	ReconnectDelay    int    `yaml:"reconnect_delay"`     // seconds
	MaxReconnectDelay int    `yaml:"max_reconnect_delay"` // seconds
}

// EngineConfig tunes the transaction sequencer and engine loop.
type EngineConfig struct {
	Timeout            int `yaml:"timeout"` // milliseconds per attempt
	Attempts           int `yaml:"attempts"`
	QueueSize          int `yaml:"queue_size"`
	TickInterval       int `yaml:"tick_interval"` // milliseconds
	LineWindow         int `yaml:"line_window"`
	SubscriptionBuffer int `yaml:"subscription_buffer"`
}

// SetpointSourceConfig pre-registers an external setpoint source with an arbiter.
type SetpointSourceConfig struct {
	ID       string `yaml:"id"`
	Target   uint8  `yaml:"target"`
	Priority int    `yaml:"priority"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Discovery MQTTDiscoveryConfig `yaml:"discovery"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTDiscoveryConfig controls Home Assistant discovery payloads.
type MQTTDiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret leaves the
// mutating API routes unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Circuit defaults (climate.Config.WithDefaults)
//
// Environment variables follow the pattern: OTGW_SECTION_KEY
// For example: OTGW_SERIAL_PORT, OTGW_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	for i := range cfg.Circuits {
		cfg.Circuits[i] = cfg.Circuits[i].WithDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:               "otgw",
			Name:             "OpenTherm Gateway",
			Dialect:          DialectGateway,
			TimeSyncInterval: 3600,
			StartupQueries:   []string{"PM=125", "PR=A", "PR=B", "PR=Q"},
			Poll: PollConfig{
				Interval: 60,
			},
			RefreshInterval: 50,
			HealthInterval:  30,
		},
		Serial: SerialConfig{
			Port:              "/dev/ttyUSB0",
			Baud:              9600,
			ReadTimeout:       500,
			ReconnectDelay:    1,
			MaxReconnectDelay: 60,
		},
		Engine: EngineConfig{
			Timeout:            1000,
			Attempts:           3,
			QueueSize:          20,
			TickInterval:       100,
			LineWindow:         3,
			SubscriptionBuffer: 32,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "otgw-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Discovery: MQTTDiscoveryConfig{
				Enabled: true,
				Prefix:  "homeassistant",
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "otgw-core",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OTGW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("OTGW_GATEWAY_DIALECT"); v != "" {
		cfg.Gateway.Dialect = v
	}

	// Serial
	if v := os.Getenv("OTGW_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("OTGW_SERIAL_BAUD"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			cfg.Serial.Baud = baud
		}
	}

	// MQTT
	if v := os.Getenv("OTGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OTGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OTGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("OTGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Logging
	if v := os.Getenv("OTGW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("OTGW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if c.Gateway.Dialect != DialectGateway && c.Gateway.Dialect != DialectFrame {
		errs = append(errs, fmt.Sprintf("gateway.dialect must be %q or %q", DialectGateway, DialectFrame))
	}
	if c.Gateway.Poll.Enabled && c.Gateway.Poll.Interval < 1 {
		errs = append(errs, "gateway.poll.interval must be at least 1 second")
	}

	// Serial validation
	if c.Serial.Port == "" {
		errs = append(errs, "serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, "serial.baud must be positive")
	}

	// Engine validation
	if c.Engine.Attempts < 1 {
		errs = append(errs, "engine.attempts must be at least 1")
	}
	if c.Engine.QueueSize < 1 {
		errs = append(errs, "engine.queue_size must be at least 1")
	}
	if c.Engine.Timeout < 1 || c.Engine.TickInterval < 1 {
		errs = append(errs, "engine.timeout and engine.tick_interval must be positive")
	}

	// Circuit validation
	names := make(map[string]bool, len(c.Circuits)+len(c.SetpointSources))
	for i, circuit := range c.Circuits {
		if err := circuit.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("circuits[%d]: %v", i, err))
		}
		if names[circuit.Name] {
			errs = append(errs, fmt.Sprintf("circuits[%d]: duplicate name %q", i, circuit.Name))
		}
		names[circuit.Name] = true
	}
	for i, src := range c.SetpointSources {
		if src.ID == "" {
			errs = append(errs, fmt.Sprintf("setpoint_sources[%d]: id is required", i))
		}
		if src.Target != climate.TargetCentralHeating1 && src.Target != climate.TargetCentralHeating2 {
			errs = append(errs, fmt.Sprintf("setpoint_sources[%d]: target must be 1 or 8", i))
		}
		if names[src.ID] {
			errs = append(errs, fmt.Sprintf("setpoint_sources[%d]: duplicate id %q", i, src.ID))
		}
		names[src.ID] = true
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A JWT secret is optional, but a configured one must not be weak.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetTransactionTimeout returns the per-attempt response deadline.
func (c *Config) GetTransactionTimeout() time.Duration {
	return time.Duration(c.Engine.Timeout) * time.Millisecond
}

// GetTickInterval returns the engine tick period.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Engine.TickInterval) * time.Millisecond
}

// GetRefreshInterval returns the setpoint refresh period.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Gateway.RefreshInterval) * time.Second
}
