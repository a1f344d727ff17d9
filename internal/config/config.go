package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig configures the REST snapshot client.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// AuthConfig holds the credentials used to log in at startup.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StreamConfig configures the real-time traffic channel.
type StreamConfig struct {
	URL              string `yaml:"url"`
	ReconnectDelay   string `yaml:"reconnect_delay"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
}

// Default buffer capacities. Traffic and system log are always bounded.
const (
	DefaultTrafficCapacity   = 200
	DefaultSystemLogCapacity = 50
)

// BuffersConfig sets the capacity of the newest-first event buffers.
// A zero traffic or system log capacity selects the default; a zero alert
// capacity means unbounded.
type BuffersConfig struct {
	TrafficCapacity   int `yaml:"traffic_capacity"`
	SystemLogCapacity int `yaml:"system_log_capacity"`
	AlertCapacity     int `yaml:"alert_capacity"`
}

// MonitorConfig configures the local presentation API.
type MonitorConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`
}

// RelayConfig configures re-publishing of stream frames.
type RelayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Type      string `yaml:"type"` // "nats" or "redis"
	NATSURL   string `yaml:"nats_url"`
	Subject   string `yaml:"subject"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Channel   string `yaml:"channel"`
	QueueSize int    `yaml:"queue_size"`
}

// AlerterConfig configures the periodic alert digest.
type AlerterConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CheckInterval string `yaml:"check_interval"`
	MaxPending    int    `yaml:"max_pending"`
}

// SMTPConfig holds the settings for the e-mail notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Stream  StreamConfig  `yaml:"stream"`
	Buffers BuffersConfig `yaml:"buffers"`
	Monitor MonitorConfig `yaml:"monitor"`
	Relay   RelayConfig   `yaml:"relay"`
	Alerter AlerterConfig `yaml:"alerter"`
	SMTP    SMTPConfig    `yaml:"smtp"`
}

// Default returns a configuration matching the reference deployment.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://127.0.0.1:8000/api"
	}
	if c.API.Timeout == "" {
		c.API.Timeout = "15s"
	}
	if c.Stream.URL == "" {
		c.Stream.URL = "ws://127.0.0.1:8000/ws/traffic/"
	}
	if c.Stream.ReconnectDelay == "" {
		c.Stream.ReconnectDelay = "3s"
	}
	if c.Stream.HandshakeTimeout == "" {
		c.Stream.HandshakeTimeout = "10s"
	}
	if c.Buffers.TrafficCapacity == 0 {
		c.Buffers.TrafficCapacity = DefaultTrafficCapacity
	}
	if c.Buffers.SystemLogCapacity == 0 {
		c.Buffers.SystemLogCapacity = DefaultSystemLogCapacity
	}
	if c.Monitor.HttpListenAddr == "" {
		c.Monitor.HttpListenAddr = "127.0.0.1:8090"
	}
	if c.Relay.Type == "" {
		c.Relay.Type = "nats"
	}
	if c.Relay.Subject == "" {
		c.Relay.Subject = "cerberus.frames"
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = "cerberus_frames"
	}
	if c.Relay.QueueSize <= 0 {
		c.Relay.QueueSize = 1024
	}
	if c.Alerter.CheckInterval == "" {
		c.Alerter.CheckInterval = "1m"
	}
	if c.Alerter.MaxPending == 0 {
		c.Alerter.MaxPending = 500
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"api.timeout":              c.API.Timeout,
		"stream.reconnect_delay":   c.Stream.ReconnectDelay,
		"stream.handshake_timeout": c.Stream.HandshakeTimeout,
		"alerter.check_interval":   c.Alerter.CheckInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if c.Buffers.TrafficCapacity < 0 || c.Buffers.SystemLogCapacity < 0 || c.Buffers.AlertCapacity < 0 {
		return fmt.Errorf("buffer capacities must not be negative")
	}
	if c.Relay.Enabled && c.Relay.Type != "nats" && c.Relay.Type != "redis" {
		return fmt.Errorf("unsupported relay type %q, expected nats or redis", c.Relay.Type)
	}
	return nil
}

// Duration parses a duration field that Validate has already checked.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
// CERBERUS_USERNAME and CERBERUS_PASSWORD override the auth section.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if v := os.Getenv("CERBERUS_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("CERBERUS_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
