// Package service implements the serial port operations exposed over the
// network: list, open, close, read and write. Transports (HTTP, NATS) are
// thin adapters over Service.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"serialbridge/api"
	"serialbridge/bridge"
	"serialbridge/serial"
)

// EventSink receives device lifecycle notifications.
type EventSink interface {
	DeviceOpened(device string, managed api.ManagedOptions)
	DeviceClosed(device, reason string)
	BaudDetected(device string, baudRate int)
	DeviceError(device, message string)
}

type noopEvents struct{}

func (noopEvents) DeviceOpened(string, api.ManagedOptions) {}
func (noopEvents) DeviceClosed(string, string)             {}
func (noopEvents) BaudDetected(string, int)                {}
func (noopEvents) DeviceError(string, string)              {}

// RecorderFactory returns a writer that receives a copy of everything read
// from device. It is closed when the device closes.
type RecorderFactory func(device string) (io.WriteCloser, error)

// Config holds the tunables of a Service.
type Config struct {
	Bridge bridge.Config

	UDPEnabled bool
	UDP        bridge.UDPConfig

	// BaudRates are tried in order when a client opens with baud 0.
	BaudRates        []int
	DetectionTimeout time.Duration
	MinBytesForValid int
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Bridge:     bridge.DefaultConfig(),
		UDPEnabled: true,
		UDP: bridge.UDPConfig{
			Host:     "0.0.0.0",
			PortMin:  bridge.UDPPortMin,
			PortMax:  bridge.UDPPortMax,
			Attempts: bridge.DefaultBindAttempts,
		},
		BaudRates:        []int{9600, 19200, 38400, 57600, 115200, 4800, 2400, 1200},
		DetectionTimeout: 5 * time.Second,
		MinBytesForValid: 50,
	}
}

// Option configures optional collaborators.
type Option func(*Service)

// WithEvents publishes lifecycle events to sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithRecorder taps every opened device into a recorder.
func WithRecorder(factory RecorderFactory) Option {
	return func(s *Service) {
		s.recorder = factory
	}
}

// Service owns the device registry.
type Service struct {
	opener     serial.Opener
	enumerator serial.Enumerator
	registry   *bridge.Registry
	config     Config
	events     EventSink
	recorder   RecorderFactory

	// ctx outlives individual requests; device tasks derive from it.
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New creates a Service.
func New(opener serial.Opener, enumerator serial.Enumerator, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		opener:     opener,
		enumerator: enumerator,
		registry:   bridge.NewRegistry(),
		config:     cfg,
		events:     noopEvents{},
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List reports the host's ports. Managed ports carry their options; managed
// paths the host does not report (virtual ports) are appended.
func (s *Service) List(ctx context.Context) ([]api.Serial, error) {
	ports, err := s.enumerator.Ports()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	managed := s.registry.ManagedOptions()
	serials := make([]api.Serial, 0, len(ports)+len(managed))
	seen := make(map[string]bool, len(ports))

	for _, p := range ports {
		entry := api.Serial{Device: p.Name}
		if p.IsUSB {
			entry.USB = &api.USBInfo{
				VID:          p.VID,
				PID:          p.PID,
				SerialNumber: p.SerialNumber,
				Product:      p.Product,
			}
		}
		if m, ok := managed[p.Name]; ok {
			entry.Managed = &m
		}
		seen[p.Name] = true
		serials = append(serials, entry)
	}

	virtual := make([]string, 0)
	for path := range managed {
		if !seen[path] {
			virtual = append(virtual, path)
		}
	}
	sort.Strings(virtual)
	for _, path := range virtual {
		m := managed[path]
		serials = append(serials, api.Serial{Device: path, Managed: &m})
	}

	return serials, nil
}

// Open takes ownership of a port and starts bridging it.
func (s *Service) Open(ctx context.Context, req api.OpenRequest) (api.Serial, error) {
	if req.Device == "" {
		return api.Serial{}, fmt.Errorf("%w: device path is required", ErrInvalidArgument)
	}
	if req.Options == nil {
		return api.Serial{}, fmt.Errorf("%w: options are required", ErrInvalidArgument)
	}

	if err := s.registry.Reserve(req.Device); err != nil {
		return api.Serial{}, registryError(req.Device, err)
	}
	reserved := true
	defer func() {
		if reserved {
			s.registry.Release(req.Device)
		}
	}()

	opts := req.Options.Clone()
	cfg := serial.ConfigFrom(opts)

	if cfg.BaudRate == 0 {
		baud, err := s.detectBaud(ctx, req.Device, cfg)
		if err != nil {
			return api.Serial{}, err
		}
		cfg.BaudRate = baud
		opts.Baud = uint32(baud)
		s.events.BaudDetected(req.Device, baud)
	}

	port, err := s.opener.Open(req.Device, cfg)
	if err != nil {
		if serial.IsInvalidConfig(err) {
			return api.Serial{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return api.Serial{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	handle := serial.NewHandle(port)

	// Bytes buffered before this session are not the client's
	if err := handle.ResetInput(ctx); err != nil {
		s.logger.Debug("Failed to reset input buffer", "device", req.Device, "error", err)
	}

	managed := api.ManagedOptions{Options: &opts, UDPPort: api.NoUDPPort}

	var udpConn *net.UDPConn
	if s.config.UDPEnabled {
		conn, udpPort, err := bridge.ListenUDP(s.config.UDP)
		if err != nil {
			s.logger.Warn("UDP side-channel unavailable", "device", req.Device, "error", err)
		} else {
			udpConn = conn
			managed.UDPPort = int32(udpPort)
		}
	}

	var tap io.Writer
	if s.recorder != nil {
		w, err := s.recorder(req.Device)
		if err != nil {
			s.logger.Warn("Capture recorder unavailable", "device", req.Device, "error", err)
		} else {
			tap = w
		}
	}

	bridgeCfg := s.config.Bridge
	if cfg.ReadTimeout > 0 {
		// The driver read already waits
		bridgeCfg.PollInterval = 0
	}

	dev := bridge.NewDevice(req.Device, handle, bridge.DeviceOptions{
		Config:  bridgeCfg,
		Managed: managed,
		UDP:     udpConn,
		Tap:     tap,
		OnPersistentError: func(err error) {
			s.events.DeviceError(req.Device, err.Error())
		},
	}, s.logger.With("device", req.Device))

	// A device visible in the registry is always running
	dev.Start(s.ctx)

	if err := s.registry.Insert(req.Device, dev); err != nil {
		dev.Close(ctx)
		return api.Serial{}, registryError(req.Device, err)
	}
	reserved = false

	s.logger.Info("Device opened",
		"device", req.Device,
		"config", cfg.String(),
		"udp_port", managed.UDPPort)
	s.events.DeviceOpened(req.Device, managed.Clone())

	result := managed.Clone()
	return api.Serial{Device: req.Device, Managed: &result}, nil
}

// registryError maps a refused registration onto the service errors.
func registryError(device string, err error) error {
	if errors.Is(err, bridge.ErrRegistryClosed) {
		return fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, device, err)
	}
	return fmt.Errorf("%s: %w", device, err)
}

func (s *Service) detectBaud(ctx context.Context, device string, cfg serial.Config) (int, error) {
	if len(s.config.BaudRates) == 0 {
		return 0, fmt.Errorf("%w: baud rate is required", ErrInvalidArgument)
	}

	detector := serial.NewDetector(s.opener, device, cfg,
		s.config.BaudRates,
		s.config.DetectionTimeout,
		s.config.MinBytesForValid,
		s.logger.With("component", "detection"))

	result, err := detector.Detect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return result.BaudRate, nil
}

// Close stops bridging device and releases the port. It returns once the
// port is released.
func (s *Service) Close(ctx context.Context, device string) error {
	dev, err := s.registry.Remove(device)
	if err != nil {
		return fmt.Errorf("%s: %w", device, err)
	}

	if err := dev.Close(ctx); err != nil {
		s.logger.Warn("Error releasing port", "device", device, "error", err)
	}
	s.events.DeviceClosed(device, "closed by client")
	return nil
}

// Stream delivers the bytes read from one device.
type Stream struct {
	device string
	queue  *bridge.Queue
}

// Recv returns the next buffer. It returns io.EOF once the device closes.
// Cancelling ctx only stops this call; the device keeps running.
func (st *Stream) Recv(ctx context.Context) ([]byte, error) {
	buf, err := st.queue.Receive(ctx)
	if errors.Is(err, bridge.ErrChannelClosed) {
		return nil, io.EOF
	}
	return buf, err
}

// Device returns the device path of the stream.
func (st *Stream) Device() string {
	return st.device
}

// Read subscribes to the bytes device produces. Concurrent streams on the
// same device share its buffers; each buffer goes to exactly one of them.
func (s *Service) Read(ctx context.Context, device string) (*Stream, error) {
	dev, ok := s.registry.Get(device)
	if !ok {
		return nil, fmt.Errorf("%s: %w", device, ErrNotFound)
	}
	return &Stream{device: device, queue: dev.Outbound()}, nil
}

// Write queues data for device, waiting while its inbound queue is full.
func (s *Service) Write(ctx context.Context, device string, data []byte) error {
	if device == "" {
		return fmt.Errorf("%w: device path is required", ErrInvalidArgument)
	}

	dev, ok := s.registry.Get(device)
	if !ok {
		return fmt.Errorf("%s: %w", device, ErrNotFound)
	}
	if len(data) == 0 {
		return nil
	}

	if err := dev.Inbound().Send(ctx, bytes.Clone(data)); err != nil {
		if errors.Is(err, bridge.ErrChannelClosed) {
			return fmt.Errorf("%s: %w", device, ErrNotFound)
		}
		return err
	}
	return nil
}

// Stats returns per-device statistics sorted by path.
func (s *Service) Stats() []bridge.DeviceStats {
	return s.registry.Snapshot()
}

// OpenCount returns the number of open devices.
func (s *Service) OpenCount() int {
	return s.registry.Len()
}

// Shutdown closes every open device concurrently. Opens that have not
// registered yet fail with ErrDeviceUnavailable.
func (s *Service) Shutdown(ctx context.Context) error {
	devices := s.registry.Drain()
	s.logger.Info("Shutting down", "devices", len(devices))

	var g errgroup.Group
	for _, dev := range devices {
		g.Go(func() error {
			err := dev.Close(ctx)
			s.events.DeviceClosed(dev.Path(), "shutdown")
			if err != nil {
				return fmt.Errorf("%s: %w", dev.Path(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	s.cancel()
	return err
}
