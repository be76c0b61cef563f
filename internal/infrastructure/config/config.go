package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the gateway process.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Modbus    ModbusConfig    `yaml:"modbus"`
	Registers RegistersConfig `yaml:"registers"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// WriteSuffix is appended to a control topic when the gateway publishes
	// a value written by a Modbus client. Empty publishes to the control
	// topic itself.
	WriteSuffix string `yaml:"write_suffix"`
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
}

// ModbusConfig contains Modbus TCP server settings.
type ModbusConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	MaxClients int    `yaml:"max_clients"`

	// Timeout is the idle timeout for client connections (seconds).
	Timeout int `yaml:"timeout"`
}

// RegistersConfig points at the channel map document.
type RegistersConfig struct {
	Path string `yaml:"path"`
}

// APIConfig contains status HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MBGATE_SECTION_KEY
// For example: MBGATE_MQTT_HOST, MBGATE_MODBUS_PORT
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

	return finish(cfg)
}

// Defaults returns the built-in configuration with environment overrides
// applied. Used when no configuration file is present.
func Defaults() (*Config, error) {
	return finish(defaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = GenerateClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// GenerateClientID returns a unique MQTT client identifier.
func GenerateClientID() string {
	return "mbgate-" + uuid.NewString()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			WriteSuffix: "/on",
		},
		Modbus: ModbusConfig{
			Host:       "0.0.0.0",
			Port:       502,
			MaxClients: 16,
			Timeout:    120,
		},
		Registers: RegistersConfig{
			Path: "/etc/wb-mqtt-mbgate.conf",
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8502,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MBGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MBGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt("MBGATE_MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv("MBGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MBGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Modbus
	if v := os.Getenv("MBGATE_MODBUS_HOST"); v != "" {
		cfg.Modbus.Host = v
	}
	if v, ok := envInt("MBGATE_MODBUS_PORT"); ok {
		cfg.Modbus.Port = v
	}

	// Channel map
	if v := os.Getenv("MBGATE_REGISTERS_PATH"); v != "" {
		cfg.Registers.Path = v
	}

	// Logging
	if v := os.Getenv("MBGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt reads an integer environment variable, ignoring malformed values.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if !validPort(c.MQTT.Broker.Port) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	// Gateway publishes are at-least-once; QoS 0 would lose the
	// acknowledgement that paces the publish queue.
	if c.MQTT.QoS != 1 {
		errs = append(errs, "mqtt.qos must be 1")
	}

	// Modbus validation
	if !validPort(c.Modbus.Port) {
		errs = append(errs, "modbus.port must be between 1 and 65535")
	}
	if c.Modbus.MaxClients < 1 {
		errs = append(errs, "modbus.max_clients must be at least 1")
	}

	// Channel map
	if c.Registers.Path == "" {
		errs = append(errs, "registers.path is required")
	}

	// API validation
	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// ModbusAddress returns the host:port the Modbus TCP server listens on.
func (c *Config) ModbusAddress() string {
	return fmt.Sprintf("%s:%d", c.Modbus.Host, c.Modbus.Port)
}

// GetModbusTimeout returns the Modbus client idle timeout as a Duration.
func (c *Config) GetModbusTimeout() time.Duration {
	return time.Duration(c.Modbus.Timeout) * time.Second
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
