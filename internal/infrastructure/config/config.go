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

// Reconnect strategies accepted in session.reconnect.strategy.
const (
	ReconnectImmediate = "immediate"
	ReconnectBackoff   = "backoff"
)

// clientIDPrefix prefixes generated client identifiers.
const clientIDPrefix = "mqttsession-"

// Config is the root configuration structure for mqttsession.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SessionConfig contains the session manager's identity and behaviour.
type SessionConfig struct {
	// ClientID identifies the session to the broker.
	// A random "mqttsession-xxxxxxxx" identifier is generated when empty.
	ClientID string `yaml:"client_id"`

	// Subscriptions are remembered before the first connect and restored
	// after every reconnect.
	Subscriptions []string `yaml:"subscriptions"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// ReconnectConfig controls what happens after an unexpected disconnect.
type ReconnectConfig struct {
	// Strategy is "immediate" (reconnect at once, unlimited) or "backoff".
	Strategy string `yaml:"strategy"`

	// InitialDelay and MaxDelay bound the backoff strategy (seconds).
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`

	// MaxAttempts limits consecutive backoff attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// HeartbeatConfig configures an optional periodic publish.
type HeartbeatConfig struct {
	// Topic to publish to. The heartbeat is disabled when empty.
	Topic string `yaml:"topic"`

	// Interval between heartbeats (seconds).
	Interval int `yaml:"interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	KeepAlive int              `yaml:"keep_alive"`
	Will      MQTTWillConfig   `yaml:"will"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
// Host and Port may be left empty and supplied at connect time.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTWillConfig contains the Last Will and Testament published by the
// broker if the session drops without a disconnect. Disabled when Topic is empty.
type MQTTWillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
}

// DatabaseConfig contains SQLite settings for the session journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: MQTTSESSION_SECTION_KEY
// For example: MQTTSESSION_MQTT_HOST, MQTTSESSION_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if cfg.Session.ClientID == "" {
		cfg.Session.ClientID = GenerateClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// GenerateClientID returns a random client identifier.
func GenerateClientID() string {
	return clientIDPrefix + uuid.NewString()[:8]
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Reconnect: ReconnectConfig{
				Strategy:     ReconnectImmediate,
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Heartbeat: HeartbeatConfig{
				Interval: 30,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			KeepAlive: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/mqttsession.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTSESSION_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Session
	if v := os.Getenv("MQTTSESSION_CLIENT_ID"); v != "" {
		cfg.Session.ClientID = v
	}

	// MQTT
	if v := os.Getenv("MQTTSESSION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTTSESSION_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTTSESSION_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("MQTTSESSION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTTSESSION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("MQTTSESSION_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTSESSION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("MQTTSESSION_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MQTTSESSION_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTTSESSION_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	return nil
}

// Validate checks the configuration for errors.
//
// An empty broker host is allowed: the session then logs a configuration
// error at connect time instead of refusing to start.
func (c *Config) Validate() error {
	var errs []string

	if c.Session.ClientID == "" {
		errs = append(errs, "session.client_id is required")
	}
	for i, topic := range c.Session.Subscriptions {
		if strings.TrimSpace(topic) == "" {
			errs = append(errs, fmt.Sprintf("session.subscriptions[%d] is empty", i))
		}
	}

	switch c.Session.Reconnect.Strategy {
	case ReconnectImmediate:
	case ReconnectBackoff:
		if c.Session.Reconnect.InitialDelay < 1 {
			errs = append(errs, "session.reconnect.initial_delay must be at least 1")
		}
		if c.Session.Reconnect.MaxDelay < c.Session.Reconnect.InitialDelay {
			errs = append(errs, "session.reconnect.max_delay must not be less than initial_delay")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.reconnect.strategy must be %q or %q", ReconnectImmediate, ReconnectBackoff))
	}
	if c.Session.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "session.reconnect.max_attempts must not be negative")
	}

	if c.Session.Heartbeat.Topic != "" && c.Session.Heartbeat.Interval < 1 {
		errs = append(errs, "session.heartbeat.interval must be at least 1")
	}

	if c.MQTT.Broker.Port < 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 0 and 65535")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
			errs = append(errs, "websocket.ping_interval and pong_timeout must be at least 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectInitialDelay returns the first backoff delay as a Duration.
func (c *Config) ReconnectInitialDelay() time.Duration {
	return time.Duration(c.Session.Reconnect.InitialDelay) * time.Second
}

// ReconnectMaxDelay returns the backoff cap as a Duration.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.Session.Reconnect.MaxDelay) * time.Second
}

// HeartbeatInterval returns the heartbeat period as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Session.Heartbeat.Interval) * time.Second
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
