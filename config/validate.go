package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	// Valid baud rates
	validBaudRates = map[int]bool{
		300:    true,
		1200:   true,
		2400:   true,
		4800:   true,
		9600:   true,
		19200:  true,
		38400:  true,
		57600:  true,
		115200: true,
		230400: true,
		460800: true,
		921600: true,
	}

	// Valid log levels
	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
)

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.validateApp(); err != nil {
		return fmt.Errorf("app config: %w", err)
	}

	if err := c.validateBridge(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}

	if err := c.validateUDP(); err != nil {
		return fmt.Errorf("udp config: %w", err)
	}

	if err := c.validateDetection(); err != nil {
		return fmt.Errorf("detection config: %w", err)
	}

	if err := c.validateHTTP(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.validateNATS(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}

	if err := c.validateCapture(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateApp() error {
	if c.App.Name == "" {
		return fmt.Errorf("name is required")
	}

	if c.App.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}

	// Instance ID becomes a NATS subject token
	if strings.ContainsAny(c.App.InstanceID, ".*> \t") {
		return fmt.Errorf("instance_id must not contain '.', '*', '>' or whitespace, got: %s", c.App.InstanceID)
	}

	return nil
}

func (c *Config) validateBridge() error {
	if c.Bridge.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got: %d", c.Bridge.QueueCapacity)
	}

	if c.Bridge.BufferSize <= 0 || c.Bridge.BufferSize > 65536 {
		return fmt.Errorf("buffer_size must be between 1 and 65536, got: %d", c.Bridge.BufferSize)
	}

	if c.Bridge.PollIntervalMs < 0 {
		return fmt.Errorf("poll_interval_ms must be non-negative, got: %d", c.Bridge.PollIntervalMs)
	}

	if c.Bridge.ErrorBackoffMs <= 0 {
		return fmt.Errorf("error_backoff_ms must be positive, got: %d", c.Bridge.ErrorBackoffMs)
	}

	if c.Bridge.CloseGraceMs <= 0 {
		return fmt.Errorf("close_grace_ms must be positive, got: %d", c.Bridge.CloseGraceMs)
	}

	if c.Bridge.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("max_consecutive_errors must be non-negative, got: %d", c.Bridge.MaxConsecutiveErrors)
	}

	return nil
}

func (c *Config) validateUDP() error {
	if !c.UDP.IsEnabled() {
		return nil
	}

	if net.ParseIP(c.UDP.Host) == nil {
		return fmt.Errorf("host must be an IP address, got: %s", c.UDP.Host)
	}

	if c.UDP.PortMin <= 0 || c.UDP.PortMin > 65535 {
		return fmt.Errorf("port_min must be between 1 and 65535, got: %d", c.UDP.PortMin)
	}

	if c.UDP.PortMax <= 0 || c.UDP.PortMax > 65535 {
		return fmt.Errorf("port_max must be between 1 and 65535, got: %d", c.UDP.PortMax)
	}

	if c.UDP.PortMax < c.UDP.PortMin {
		return fmt.Errorf("port_max (%d) must be >= port_min (%d)", c.UDP.PortMax, c.UDP.PortMin)
	}

	if c.UDP.BindAttempts <= 0 {
		return fmt.Errorf("bind_attempts must be positive, got: %d", c.UDP.BindAttempts)
	}

	return nil
}

func (c *Config) validateDetection() error {
	if len(c.Detection.BaudRates) == 0 {
		return fmt.Errorf("at least one baud rate must be configured")
	}

	for _, baudRate := range c.Detection.BaudRates {
		if !validBaudRates[baudRate] {
			return fmt.Errorf("invalid baud rate %d in detection config", baudRate)
		}
	}

	if c.Detection.DetectionTimeoutSec <= 0 {
		return fmt.Errorf("detection_timeout_sec must be positive, got: %d", c.Detection.DetectionTimeoutSec)
	}

	if c.Detection.MinBytesForValid <= 0 {
		return fmt.Errorf("min_bytes_for_valid must be positive, got: %d", c.Detection.MinBytesForValid)
	}

	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", c.HTTP.Port)
	}

	if (c.HTTP.Username == "") != (c.HTTP.Password == "") {
		return fmt.Errorf("username and password must be set together")
	}

	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATSEnabled() {
		return nil
	}

	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("url must start with nats:// or tls://, got: %s", c.NATS.URL)
	}

	if c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}

	// -1 means unlimited reconnects (NATS client convention)
	if c.NATS.MaxReconnects < -1 {
		return fmt.Errorf("max_reconnects must be -1 (unlimited) or non-negative, got: %d", c.NATS.MaxReconnects)
	}

	if c.NATS.ReconnectWaitSec <= 0 {
		return fmt.Errorf("reconnect_wait_sec must be positive, got: %d", c.NATS.ReconnectWaitSec)
	}

	if c.Health.IntervalSec <= 0 {
		return fmt.Errorf("health interval_sec must be positive, got: %d", c.Health.IntervalSec)
	}

	return nil
}

func (c *Config) validateCapture() error {
	if !c.Capture.Enabled {
		return nil
	}

	if c.Capture.BasePath == "" && !c.NATSEnabled() {
		return fmt.Errorf("base_path or a NATS url is required when capture is enabled")
	}

	if c.Capture.BasePath != "" {
		if err := ensureDir(c.Capture.BasePath); err != nil {
			return err
		}
	}

	if c.Capture.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive, got: %d", c.Capture.MaxSizeMB)
	}

	if c.Capture.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative, got: %d", c.Capture.MaxBackups)
	}

	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.BasePath != "" {
		if err := ensureDir(c.Logging.BasePath); err != nil {
			return err
		}
	}

	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive, got: %d", c.Logging.MaxSizeMB)
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative, got: %d", c.Logging.MaxBackups)
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %s, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// ensureDir creates path if it does not exist.
func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("base_path %s does not exist and cannot be created: %w", path, err)
		}
	}
	return nil
}
