package output

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"serialbridge/bridge"
)

// HealthPublisher publishes periodic health heartbeats to NATS.
type HealthPublisher struct {
	conn       *NATSConnection
	subject    string
	instanceID string
	version    string
	startTime  time.Time
	interval   time.Duration
	logger     *slog.Logger

	statsFunc func() HealthStats // Callback to get current stats

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// HealthStats contains the data needed for health messages.
type HealthStats struct {
	NATSConnected bool
	Devices       []DeviceHealth
}

// DeviceHealth contains per-device health data
type DeviceHealth struct {
	Device       string `json:"device"`
	State        string `json:"state"`
	UDPPort      int32  `json:"udp_port"`
	BytesRead    int64  `json:"bytes_in"`
	BytesWritten int64  `json:"bytes_out"`
	Errors       int64  `json:"errors"`
	Queued       int    `json:"queued"`
	OpenSec      int64  `json:"open_sec"`
}

// DeviceHealthFrom condenses device statistics for a heartbeat.
func DeviceHealthFrom(stats []bridge.DeviceStats, now time.Time) []DeviceHealth {
	out := make([]DeviceHealth, 0, len(stats))
	for _, s := range stats {
		out = append(out, DeviceHealth{
			Device:       s.Device,
			State:        s.State,
			UDPPort:      s.UDPPort,
			BytesRead:    s.BytesRead,
			BytesWritten: s.BytesWritten,
			Errors:       s.ReadErrors + s.WriteErrors,
			Queued:       s.OutboundQueued,
			OpenSec:      int64(now.Sub(s.OpenedAt).Seconds()),
		})
	}
	return out
}

// HealthMessage is the JSON payload published to NATS
type HealthMessage struct {
	Version       int            `json:"v"`
	Timestamp     string         `json:"ts"`
	InstanceID    string         `json:"instance_id"`
	AppVersion    string         `json:"app_version,omitempty"`
	UptimeSec     int64          `json:"uptime_sec"`
	NATSConnected bool           `json:"nats_connected"`
	OpenDevices   int            `json:"open_devices"`
	Devices       []DeviceHealth `json:"devices"`
}

// HealthPublisherConfig contains configuration for HealthPublisher
type HealthPublisherConfig struct {
	Conn       *NATSConnection
	Subject    string        // e.g., "serialbridge.health.lab-01"
	InstanceID string        // e.g., "lab-01"
	Version    string        // build version
	Interval   time.Duration // How often to publish (default 60s)
	Logger     *slog.Logger
	StatsFunc  func() HealthStats // Callback to get current stats
}

// NewHealthPublisher creates a new HealthPublisher
func NewHealthPublisher(cfg *HealthPublisherConfig) *HealthPublisher {
	interval := cfg.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}

	return &HealthPublisher{
		conn:       cfg.Conn,
		subject:    cfg.Subject,
		instanceID: cfg.InstanceID,
		version:    cfg.Version,
		startTime:  time.Now(),
		interval:   interval,
		logger:     cfg.Logger,
		statsFunc:  cfg.StatsFunc,
		stopCh:     make(chan struct{}),
	}
}

// Start begins publishing health heartbeats
func (h *HealthPublisher) Start() {
	h.wg.Add(1)
	go h.publishLoop()
	h.logger.Info("Health publisher started",
		"subject", h.subject,
		"interval", h.interval)
}

// Stop stops the health publisher
func (h *HealthPublisher) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()
	h.logger.Info("Health publisher stopped")
}

func (h *HealthPublisher) publishLoop() {
	defer h.wg.Done()

	// Publish immediately on start
	h.publish()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			// Publish final message before stopping
			h.publish()
			return
		case <-ticker.C:
			h.publish()
		}
	}
}

// buildMessage assembles a heartbeat from the current stats.
func (h *HealthPublisher) buildMessage() HealthMessage {
	stats := h.statsFunc()

	devices := stats.Devices
	if devices == nil {
		devices = []DeviceHealth{}
	}

	return HealthMessage{
		Version:       1,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		InstanceID:    h.instanceID,
		AppVersion:    h.version,
		UptimeSec:     int64(time.Since(h.startTime).Seconds()),
		NATSConnected: stats.NATSConnected,
		OpenDevices:   len(devices),
		Devices:       devices,
	}
}

func (h *HealthPublisher) publish() {
	if !h.conn.IsConnected() {
		h.logger.Debug("Skipping health publish - NATS not connected")
		return
	}

	msg := h.buildMessage()

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal health message", "error", err)
		return
	}

	if err := h.conn.Publish(h.subject, data); err != nil {
		h.logger.Warn("Failed to publish health message", "error", err)
		return
	}

	h.logger.Debug("Published health heartbeat",
		"subject", h.subject,
		"uptime_sec", msg.UptimeSec,
		"devices", len(msg.Devices))
}
