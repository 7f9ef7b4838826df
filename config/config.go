package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SERIALBRIDGE_HTTP_PORT.
const EnvPrefix = "SERIALBRIDGE"

// Config is the root configuration structure
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	UDP       UDPConfig       `mapstructure:"udp"`
	Detection DetectionConfig `mapstructure:"detection"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Health    HealthConfig    `mapstructure:"health"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name       string `mapstructure:"name"`
	InstanceID string `mapstructure:"instance_id"`
}

// BridgeConfig tunes the per-device bridge tasks
type BridgeConfig struct {
	QueueCapacity        int `mapstructure:"queue_capacity"`         // Buffers per direction
	BufferSize           int `mapstructure:"buffer_size"`            // Bytes per hardware read
	PollIntervalMs       int `mapstructure:"poll_interval_ms"`       // Sleep after an empty read
	ErrorBackoffMs       int `mapstructure:"error_backoff_ms"`       // Sleep after a failed read
	CloseGraceMs         int `mapstructure:"close_grace_ms"`         // Wait before interrupting the driver
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"` // 0 = never escalate
}

// UDPConfig controls the per-device UDP side-channel
type UDPConfig struct {
	Enabled      *bool  `mapstructure:"enabled"` // nil = enabled
	Host         string `mapstructure:"host"`
	PortMin      int    `mapstructure:"port_min"`
	PortMax      int    `mapstructure:"port_max"`
	BindAttempts int    `mapstructure:"bind_attempts"`
}

// DetectionConfig contains parameters for autobaud detection
type DetectionConfig struct {
	BaudRates           []int `mapstructure:"baud_rates"`            // List of baud rates to try
	DetectionTimeoutSec int   `mapstructure:"detection_timeout_sec"` // Timeout per detection attempt
	MinBytesForValid    int   `mapstructure:"min_bytes_for_valid"`   // Minimum bytes to consider valid
}

// HTTPConfig contains HTTP API server settings
type HTTPConfig struct {
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"` // Basic auth, enabled when both are set
	Password string `mapstructure:"password"`
}

// NATSConfig contains NATS connection settings. An empty URL disables NATS.
type NATSConfig struct {
	URL              string `mapstructure:"url"`
	SubjectPrefix    string `mapstructure:"subject_prefix"` // e.g. "serialbridge"
	MaxReconnects    int    `mapstructure:"max_reconnects"`
	ReconnectWaitSec int    `mapstructure:"reconnect_wait_sec"`
	EventsStream     string `mapstructure:"events_stream"` // JetStream stream holding events, optional
}

// CaptureConfig controls per-device recording of bytes read from hardware
type CaptureConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BasePath   string `mapstructure:"base_path"` // empty = NATS only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// HealthConfig controls the NATS heartbeat
type HealthConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
}

// LoggingConfig contains logging and log rotation settings
type LoggingConfig struct {
	BasePath   string `mapstructure:"base_path"` // empty = stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"` // debug, info, warn, error
}

// Load reads the configuration file, applies environment overrides, defaults
// and validation. The format follows the file extension (json, yaml, toml).
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about
	for _, key := range configKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// configKeys lists the dotted mapstructure keys of every leaf field.
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(f.Type, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// setDefaults fills in default values for optional fields
func (c *Config) setDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "SerialBridge"
	}
	if c.App.InstanceID == "" {
		c.App.InstanceID = "default"
	}

	// Bridge defaults
	if c.Bridge.QueueCapacity == 0 {
		c.Bridge.QueueCapacity = 8
	}
	if c.Bridge.BufferSize == 0 {
		c.Bridge.BufferSize = 512
	}
	if c.Bridge.PollIntervalMs == 0 {
		c.Bridge.PollIntervalMs = 10
	}
	if c.Bridge.ErrorBackoffMs == 0 {
		c.Bridge.ErrorBackoffMs = 100
	}
	if c.Bridge.CloseGraceMs == 0 {
		c.Bridge.CloseGraceMs = 2000
	}

	// UDP defaults
	if c.UDP.Enabled == nil {
		enabled := true
		c.UDP.Enabled = &enabled
	}
	if c.UDP.Host == "" {
		c.UDP.Host = "0.0.0.0"
	}
	if c.UDP.PortMin == 0 {
		c.UDP.PortMin = 49152
	}
	if c.UDP.PortMax == 0 {
		c.UDP.PortMax = 65535
	}
	if c.UDP.BindAttempts == 0 {
		c.UDP.BindAttempts = 16
	}

	// Detection defaults
	if len(c.Detection.BaudRates) == 0 {
		c.Detection.BaudRates = []int{9600, 19200, 38400, 57600, 115200, 4800, 2400, 1200}
	}
	if c.Detection.DetectionTimeoutSec == 0 {
		c.Detection.DetectionTimeoutSec = 5
	}
	if c.Detection.MinBytesForValid == 0 {
		c.Detection.MinBytesForValid = 50
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}

	// NATS defaults, only meaningful when a URL is set
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "serialbridge"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectWaitSec == 0 {
		c.NATS.ReconnectWaitSec = 5
	}

	// Capture defaults
	if c.Capture.MaxSizeMB == 0 {
		c.Capture.MaxSizeMB = 100
	}
	if c.Capture.MaxBackups == 0 {
		c.Capture.MaxBackups = 10
	}

	// Health defaults
	if c.Health.IntervalSec == 0 {
		c.Health.IntervalSec = 60
	}

	// Logging defaults
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// NATSEnabled reports whether a NATS URL is configured.
func (c *Config) NATSEnabled() bool {
	return c.NATS.URL != ""
}

// IsEnabled reports whether the side-channel is enabled. Unset means enabled.
func (u *UDPConfig) IsEnabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// Helper methods for time conversions
func (b *BridgeConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

func (b *BridgeConfig) ErrorBackoff() time.Duration {
	return time.Duration(b.ErrorBackoffMs) * time.Millisecond
}

func (b *BridgeConfig) CloseGrace() time.Duration {
	return time.Duration(b.CloseGraceMs) * time.Millisecond
}

func (d *DetectionConfig) DetectionTimeout() time.Duration {
	return time.Duration(d.DetectionTimeoutSec) * time.Second
}

func (n *NATSConfig) ReconnectWait() time.Duration {
	return time.Duration(n.ReconnectWaitSec) * time.Second
}

func (h *HealthConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSec) * time.Second
}
