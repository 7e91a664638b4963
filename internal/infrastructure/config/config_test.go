package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/otgw-core/internal/climate"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
gateway:
  id: "boiler-room"
  dialect: "frame"
  poll:
    enabled: true
    interval: 30
    items: ["return_water_temperature", "outside_temperature"]
serial:
  port: "/dev/ttyAMA0"
  baud: 9600
circuits:
  - name: "ground_floor"
    priority: 10
    target: 1
    min_heat_time: "10m"
    max_heat_time: "30m"
    outside_temperature_source: "outside_temperature"
setpoint_sources:
  - id: "schedule"
    target: 1
    priority: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "boiler-room" {
		t.Errorf("Gateway.ID = %q, want %q", cfg.Gateway.ID, "boiler-room")
	}
	if cfg.Gateway.Dialect != DialectFrame {
		t.Errorf("Gateway.Dialect = %q, want %q", cfg.Gateway.Dialect, DialectFrame)
	}
	if len(cfg.Gateway.Poll.Items) != 2 {
		t.Errorf("Gateway.Poll.Items = %v, want 2 items", cfg.Gateway.Poll.Items)
	}
	if cfg.Serial.Port != "/dev/ttyAMA0" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "/dev/ttyAMA0")
	}

	if len(cfg.Circuits) != 1 {
		t.Fatalf("Circuits = %d, want 1", len(cfg.Circuits))
	}
	c := cfg.Circuits[0]
	if c.MinHeatTime != 10*time.Minute || c.MaxHeatTime != 30*time.Minute {
		t.Errorf("heat times = %v/%v, want 10m/30m", c.MinHeatTime, c.MaxHeatTime)
	}
	// defaults are applied to circuits on load
	if c.MinSetpoint != climate.DefaultMinSetpoint || c.HysteresisLow != 0.5 {
		t.Errorf("circuit defaults not applied: min %v hysteresis %v", c.MinSetpoint, c.HysteresisLow)
	}

	if len(cfg.SetpointSources) != 1 || cfg.SetpointSources[0].Priority != 5 {
		t.Errorf("SetpointSources = %+v", cfg.SetpointSources)
	}

	// untouched sections keep their defaults
	if cfg.Engine.Attempts != 3 || cfg.Engine.QueueSize != 20 {
		t.Errorf("Engine = %+v, want defaults", cfg.Engine)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
gateway:
  dialect: "modem"
circuits:
  - name: "ground_floor"
    target: 3
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"gateway.dialect", "circuits[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Circuits = []climate.Config{climate.Config{Name: "floor"}.WithDefaults()}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "valid JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret }},
		{name: "missing gateway ID", mutate: func(c *Config) { c.Gateway.ID = "" }, wantErr: true},
		{name: "unknown dialect", mutate: func(c *Config) { c.Gateway.Dialect = "raw" }, wantErr: true},
		{name: "missing serial port", mutate: func(c *Config) { c.Serial.Port = "" }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Engine.Attempts = 0 }, wantErr: true},
		{name: "zero queue", mutate: func(c *Config) { c.Engine.QueueSize = 0 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "disabled API ignores port", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "invalid circuit", mutate: func(c *Config) { c.Circuits[0].Name = "" }, wantErr: true},
		{
			name: "duplicate circuit",
			mutate: func(c *Config) {
				c.Circuits = append(c.Circuits, c.Circuits[0])
			},
			wantErr: true,
		},
		{
			name: "source shares circuit name",
			mutate: func(c *Config) {
				c.SetpointSources = []SetpointSourceConfig{{ID: "floor", Target: 1, Priority: 1}}
			},
			wantErr: true,
		},
		{
			name: "source with bad target",
			mutate: func(c *Config) {
				c.SetpointSources = []SetpointSourceConfig{{ID: "schedule", Target: 2}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Engine:  EngineConfig{Timeout: 1000, TickInterval: 100},
		Gateway: GatewayConfig{RefreshInterval: 50},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetTransactionTimeout(); got != time.Second {
		t.Errorf("GetTransactionTimeout() = %v, want 1s", got)
	}
	if got := cfg.GetTickInterval(); got != 100*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 100ms", got)
	}
	if got := cfg.GetRefreshInterval(); got != 50*time.Second {
		t.Errorf("GetRefreshInterval() = %v, want 50s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("OTGW_SERIAL_PORT", "/dev/ttyS1")
	t.Setenv("OTGW_SERIAL_BAUD", "19200")
	t.Setenv("OTGW_GATEWAY_DIALECT", "frame")
	t.Setenv("OTGW_MQTT_HOST", "mqtt.example.com")
	t.Setenv("OTGW_MQTT_USERNAME", "testuser")
	t.Setenv("OTGW_MQTT_PASSWORD", "testpass")
	t.Setenv("OTGW_API_HOST", "192.168.1.1")
	t.Setenv("OTGW_LOG_LEVEL", "debug")
	t.Setenv("OTGW_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Serial.Port != "/dev/ttyS1" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "/dev/ttyS1")
	}
	if cfg.Serial.Baud != 19200 {
		t.Errorf("Serial.Baud = %d, want 19200", cfg.Serial.Baud)
	}
	if cfg.Gateway.Dialect != DialectFrame {
		t.Errorf("Gateway.Dialect = %q, want %q", cfg.Gateway.Dialect, DialectFrame)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestApplyEnvOverrides_BadBaudIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("OTGW_SERIAL_BAUD", "fast")
	applyEnvOverrides(cfg)
	if cfg.Serial.Baud != 9600 {
		t.Errorf("Serial.Baud = %d, want default 9600", cfg.Serial.Baud)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Gateway.ID == "" {
		t.Error("defaultConfig should have non-empty Gateway.ID")
	}
	if cfg.Serial.Baud != 9600 {
		t.Errorf("defaultConfig Serial.Baud = %d, want 9600", cfg.Serial.Baud)
	}
	if cfg.Engine.Timeout != 1000 || cfg.Engine.Attempts != 3 || cfg.Engine.QueueSize != 20 {
		t.Errorf("defaultConfig Engine = %+v", cfg.Engine)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig does not validate: %v", err)
	}
}
