package config

import (
	"path/filepath"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	tmpDir := t.TempDir()
	enabled := true
	return &Config{
		App: AppConfig{
			Name:       "Test",
			InstanceID: "test-01",
		},
		Bridge: BridgeConfig{
			QueueCapacity:  8,
			BufferSize:     512,
			PollIntervalMs: 10,
			ErrorBackoffMs: 100,
			CloseGraceMs:   2000,
		},
		UDP: UDPConfig{
			Enabled:      &enabled,
			Host:         "0.0.0.0",
			PortMin:      49152,
			PortMax:      65535,
			BindAttempts: 16,
		},
		Detection: DetectionConfig{
			BaudRates:           []int{9600},
			DetectionTimeoutSec: 5,
			MinBytesForValid:    50,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
		NATS: NATSConfig{
			URL:              "nats://localhost:4222",
			SubjectPrefix:    "test.serial",
			MaxReconnects:    -1,
			ReconnectWaitSec: 5,
		},
		Capture: CaptureConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Health: HealthConfig{
			IntervalSec: 60,
		},
		Logging: LoggingConfig{
			BasePath:   tmpDir,
			MaxSizeMB:  10,
			MaxBackups: 3,
			Level:      "info",
		},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing app name",
			modify:  func(c *Config) { c.App.Name = "" },
			wantErr: true,
		},
		{
			name:    "missing instance_id",
			modify:  func(c *Config) { c.App.InstanceID = "" },
			wantErr: true,
		},
		{
			name:    "instance_id with subject separator",
			modify:  func(c *Config) { c.App.InstanceID = "lab.01" },
			wantErr: true,
		},
		{
			name:    "zero queue_capacity",
			modify:  func(c *Config) { c.Bridge.QueueCapacity = 0 },
			wantErr: true,
		},
		{
			name:    "oversized buffer_size",
			modify:  func(c *Config) { c.Bridge.BufferSize = 1 << 20 },
			wantErr: true,
		},
		{
			name:    "negative poll_interval_ms",
			modify:  func(c *Config) { c.Bridge.PollIntervalMs = -1 },
			wantErr: true,
		},
		{
			name:    "negative max_consecutive_errors",
			modify:  func(c *Config) { c.Bridge.MaxConsecutiveErrors = -1 },
			wantErr: true,
		},
		{
			name:    "udp port range inverted",
			modify:  func(c *Config) { c.UDP.PortMin, c.UDP.PortMax = 60000, 50000 },
			wantErr: true,
		},
		{
			name:    "udp invalid host",
			modify:  func(c *Config) { c.UDP.Host = "not-an-ip" },
			wantErr: true,
		},
		{
			name: "udp disabled skips range checks",
			modify: func(c *Config) {
				disabled := false
				c.UDP.Enabled = &disabled
				c.UDP.PortMin = 0
			},
			wantErr: false,
		},
		{
			name:    "no baud rates",
			modify:  func(c *Config) { c.Detection.BaudRates = nil },
			wantErr: true,
		},
		{
			name:    "invalid baud rate",
			modify:  func(c *Config) { c.Detection.BaudRates = []int{12345} },
			wantErr: true,
		},
		{
			name:    "zero detection timeout",
			modify:  func(c *Config) { c.Detection.DetectionTimeoutSec = 0 },
			wantErr: true,
		},
		{
			name:    "http port out of range",
			modify:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "http username without password",
			modify:  func(c *Config) { c.HTTP.Username = "admin" },
			wantErr: true,
		},
		{
			name:    "http basic auth",
			modify:  func(c *Config) { c.HTTP.Username, c.HTTP.Password = "admin", "secret" },
			wantErr: false,
		},
		{
			name:    "nats url without scheme",
			modify:  func(c *Config) { c.NATS.URL = "localhost:4222" },
			wantErr: true,
		},
		{
			name:    "nats max_reconnects below -1",
			modify:  func(c *Config) { c.NATS.MaxReconnects = -2 },
			wantErr: true,
		},
		{
			name: "nats disabled skips checks",
			modify: func(c *Config) {
				c.NATS.URL = ""
				c.NATS.ReconnectWaitSec = 0
			},
			wantErr: false,
		},
		{
			name: "capture without destination",
			modify: func(c *Config) {
				c.NATS.URL = ""
				c.Capture.Enabled = true
			},
			wantErr: true,
		},
		{
			name:    "capture to nats only",
			modify:  func(c *Config) { c.Capture.Enabled = true },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: true,
		},
		{
			name:    "stdout logging",
			modify:  func(c *Config) { c.Logging.BasePath = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCreatesCaptureDir(t *testing.T) {
	cfg := validConfig(t)
	dir := filepath.Join(t.TempDir(), "nested", "capture")
	cfg.Capture.Enabled = true
	cfg.Capture.BasePath = dir

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := ensureDir(dir); err != nil {
		t.Errorf("ensureDir() on existing dir error = %v", err)
	}
}
