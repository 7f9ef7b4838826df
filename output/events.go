package output

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"serialbridge/api"
)

// Event types - these are the discrete events we publish
const (
	EventServiceStart    = "service_start"
	EventServiceStop     = "service_stop"
	EventUncleanShutdown = "unclean_shutdown" // Previous run didn't stop cleanly (power loss, crash, reboot)
	EventDeviceOpened    = "device_opened"
	EventDeviceClosed    = "device_closed"
	EventBaudDetected    = "baud_detected"
	EventError           = "error"
)

// Event is the base structure for all events published to NATS.
// Keep it simple and flat for easy querying.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Type       string         `json:"type"`
	InstanceID string         `json:"instance"`
	Device     string         `json:"dev,omitempty"`     // /dev/ttyUSB0, COM3, etc
	Message    string         `json:"msg,omitempty"`     // Human-readable message
	Details    map[string]any `json:"details,omitempty"` // Optional extra data
}

// EventPublisher publishes discrete events to NATS.
// It's designed to be optional - if nil, nothing breaks.
type EventPublisher struct {
	conn       *nats.Conn
	subject    string
	instanceID string
	logger     *slog.Logger
}

// EventPublisherConfig contains configuration for EventPublisher
type EventPublisherConfig struct {
	Conn       *nats.Conn
	Subject    string // e.g., "serialbridge.events.lab-01"
	InstanceID string
	Logger     *slog.Logger
}

// NewEventPublisher creates a new EventPublisher.
// Returns nil if conn is nil (disabled mode).
func NewEventPublisher(cfg *EventPublisherConfig) *EventPublisher {
	if cfg == nil || cfg.Conn == nil {
		return nil
	}

	return &EventPublisher{
		conn:       cfg.Conn,
		subject:    cfg.Subject,
		instanceID: cfg.InstanceID,
		logger:     cfg.Logger,
	}
}

// Publish sends an event to NATS. Safe to call on nil receiver.
func (e *EventPublisher) Publish(event Event) {
	if e == nil || e.conn == nil || !e.conn.IsConnected() {
		return
	}

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.InstanceID == "" {
		event.InstanceID = e.instanceID
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("Failed to marshal event", "error", err, "type", event.Type)
		return
	}

	if err := e.conn.Publish(e.subject, data); err != nil {
		e.logger.Warn("Failed to publish event", "error", err, "type", event.Type)
		return
	}

	e.logger.Debug("Published event",
		"type", event.Type,
		"device", event.Device,
		"message", event.Message)
}

// PublishServiceStart publishes a service start event
func (e *EventPublisher) PublishServiceStart(version string) {
	e.Publish(Event{
		Type:    EventServiceStart,
		Message: "serialbridge service started",
		Details: map[string]any{"version": version},
	})
}

// PublishServiceStop publishes a service stop event
func (e *EventPublisher) PublishServiceStop(reason string) {
	e.Publish(Event{
		Type:    EventServiceStop,
		Message: "serialbridge service stopping",
		Details: map[string]any{"reason": reason},
	})
}

// DeviceOpened publishes a device opened event
func (e *EventPublisher) DeviceOpened(device string, managed api.ManagedOptions) {
	details := map[string]any{"udp_port": managed.UDPPort}
	if managed.Options != nil {
		details["options"] = managed.Options.String()
	}
	e.Publish(Event{
		Type:    EventDeviceOpened,
		Device:  device,
		Message: "Device opened",
		Details: details,
	})
}

// DeviceClosed publishes a device closed event
func (e *EventPublisher) DeviceClosed(device, reason string) {
	e.Publish(Event{
		Type:    EventDeviceClosed,
		Device:  device,
		Message: reason,
	})
}

// BaudDetected publishes a baud rate detection event
func (e *EventPublisher) BaudDetected(device string, baudRate int) {
	e.Publish(Event{
		Type:    EventBaudDetected,
		Device:  device,
		Message: "Baud rate auto-detected",
		Details: map[string]any{"baud_rate": baudRate},
	})
}

// DeviceError publishes an error event for a device that keeps failing
func (e *EventPublisher) DeviceError(device, errMsg string) {
	e.Publish(Event{
		Type:    EventError,
		Device:  device,
		Message: errMsg,
	})
}

// CheckAndPublishUncleanShutdown checks if the previous run ended without a service_stop event.
// If so, it publishes an unclean_shutdown event. Call this right after creating the EventPublisher.
func (e *EventPublisher) CheckAndPublishUncleanShutdown(stream string) {
	if e == nil || e.conn == nil {
		return
	}

	js, err := e.conn.JetStream()
	if err != nil {
		e.logger.Debug("JetStream not available for unclean shutdown check", "error", err)
		return
	}

	// Get the last message for our subject from the events stream
	sub, err := js.PullSubscribe(
		e.subject,
		"",
		nats.DeliverLast(),
		nats.BindStream(stream),
	)
	if err != nil {
		e.logger.Debug("Could not subscribe to check last event", "error", err)
		return
	}
	defer sub.Unsubscribe()

	msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
	if err != nil || len(msgs) == 0 {
		// No previous events - this is a fresh start, nothing to report
		e.logger.Debug("No previous events found - clean start")
		return
	}

	var lastEvent Event
	if err := json.Unmarshal(msgs[0].Data, &lastEvent); err != nil {
		e.logger.Debug("Could not parse last event", "error", err)
		msgs[0].Ack()
		return
	}
	msgs[0].Ack()

	if lastEvent.Type == EventServiceStop {
		e.logger.Debug("Previous run ended cleanly")
		return
	}

	e.logger.Warn("Previous run did not shut down cleanly",
		"last_event_type", lastEvent.Type,
		"last_event_time", lastEvent.Timestamp)

	e.Publish(Event{
		Type:    EventUncleanShutdown,
		Message: "Previous run ended unexpectedly (power loss, crash, or system reboot)",
		Details: map[string]any{
			"last_event_type": lastEvent.Type,
			"last_event_time": lastEvent.Timestamp,
		},
	})
}
