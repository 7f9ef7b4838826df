// Package bridge relays bytes between an open serial port and the network.
//
// Each open port is a Device: one guarded hardware handle, an outbound queue
// (hardware to network) filled by the outbound task, and an inbound queue
// (network to hardware) drained by the inbound task. Devices are owned by a
// Registry keyed by device path.
package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"serialbridge/api"
	"serialbridge/serial"
)

// DeviceState represents the lifecycle state of a device
type DeviceState int

const (
	StateRunning DeviceState = iota
	StateClosing
	StateClosed
)

func (s DeviceState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Bridge timing defaults
const (
	// DefaultPollInterval is the pause after an empty read when the port is
	// opened with a zero read timeout.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultErrorBackoff is the pause after a failed hardware read.
	DefaultErrorBackoff = 100 * time.Millisecond

	// DefaultCloseGrace is how long Close waits for the tasks before
	// interrupting a driver read.
	DefaultCloseGrace = 2 * time.Second
)

// Config tunes the bridge tasks of a device.
type Config struct {
	QueueCapacity int
	BufferSize    int
	// PollInterval is slept after an empty read. Zero when the driver read
	// itself waits (non-zero read timeout).
	PollInterval time.Duration
	ErrorBackoff time.Duration
	CloseGrace   time.Duration
	// MaxConsecutiveErrors escalates read failure logging to Error once
	// reached. Zero disables escalation.
	MaxConsecutiveErrors int
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: DefaultQueueCapacity,
		BufferSize:    DefaultBufferSize,
		PollInterval:  DefaultPollInterval,
		ErrorBackoff:  DefaultErrorBackoff,
		CloseGrace:    DefaultCloseGrace,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = d.CloseGrace
	}
	return c
}

// DeviceOptions contains everything a device needs besides its handle.
type DeviceOptions struct {
	Config  Config
	Managed api.ManagedOptions
	// UDP, if set, is mirrored onto the device queues and closed with it.
	UDP *net.UDPConn
	// Tap observes every outbound buffer before it is queued. It is closed
	// with the device if it implements io.Closer.
	Tap io.Writer
	// OnPersistentError is called once each time consecutive read failures
	// reach Config.MaxConsecutiveErrors.
	OnPersistentError func(err error)
}

// DeviceStats is a point-in-time view of a device's counters
type DeviceStats struct {
	Device         string    `json:"device"`
	State          string    `json:"state"`
	BytesRead      int64     `json:"bytes_read"`
	BytesWritten   int64     `json:"bytes_written"`
	ReadErrors     int64     `json:"read_errors"`
	WriteErrors    int64     `json:"write_errors"`
	BuffersOut     int64     `json:"buffers_out"`
	BuffersIn      int64     `json:"buffers_in"`
	OutboundQueued int       `json:"outbound_queued"`
	InboundQueued  int       `json:"inbound_queued"`
	QueueCapacity  int       `json:"queue_capacity"`
	UDPPort        int32     `json:"udp_port"`
	UDPPeer        string    `json:"udp_peer,omitempty"`
	DatagramsIn    int64     `json:"udp_datagrams_in"`
	DatagramsOut   int64     `json:"udp_datagrams_out"`
	OpenedAt       time.Time `json:"opened_at"`
}

// Device owns one open port and the two tasks bridging it.
type Device struct {
	path     string
	managed  api.ManagedOptions
	cfg      Config
	handle   *serial.Handle
	outbound *Queue
	inbound  *Queue
	udp      *SideChannel
	tap      io.Writer
	onError  func(error)

	state      DeviceState
	stateMutex sync.RWMutex

	buffersOut atomic.Int64
	buffersIn  atomic.Int64
	openedAt   time.Time

	// lifeMu orders Start against Close: tasks never start on a closed device
	lifeMu    sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

// NewDevice wraps an open handle. Call Start to begin bridging.
func NewDevice(path string, handle *serial.Handle, opts DeviceOptions, logger *slog.Logger) *Device {
	cfg := opts.Config.withDefaults()

	d := &Device{
		path:     path,
		managed:  opts.Managed.Clone(),
		cfg:      cfg,
		handle:   handle,
		outbound: NewQueue(cfg.QueueCapacity),
		inbound:  NewQueue(cfg.QueueCapacity),
		tap:      opts.Tap,
		onError:  opts.OnPersistentError,
		state:    StateRunning,
		openedAt: time.Now(),
		logger:   logger,
	}

	if opts.UDP != nil {
		d.udp = newSideChannel(opts.UDP, d.inbound, d.outbound, logger.With("component", "udp"))
	}

	return d
}

// Start launches the outbound and inbound tasks and the side-channel pumps.
// It does nothing on a device already started or closed.
func (d *Device) Start(ctx context.Context) {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if d.started || d.closed {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(2)
	go d.outboundLoop(ctx)
	go d.inboundLoop(ctx)

	if d.udp != nil {
		d.udp.start(ctx, &d.wg)
	}

	d.logger.Info("Bridge started",
		"device", d.path,
		"queue_capacity", d.cfg.QueueCapacity,
		"buffer_size", d.cfg.BufferSize,
		"udp_port", d.managed.UDPPort)
}

// outboundLoop moves bytes from the hardware onto the outbound queue.
// A full queue stalls the loop; nothing is dropped while the device is open.
func (d *Device) outboundLoop(ctx context.Context) {
	defer d.wg.Done()

	buf := make([]byte, d.cfg.BufferSize)
	consecutiveErrors := 0

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := d.handle.Read(ctx, buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, serial.ErrHandleClosed) {
				return
			}

			consecutiveErrors++
			if d.cfg.MaxConsecutiveErrors > 0 && consecutiveErrors == d.cfg.MaxConsecutiveErrors {
				d.logger.Error("Persistent serial read failures",
					"device", d.path,
					"consecutive_errors", consecutiveErrors,
					"error", err)
				if d.onError != nil {
					d.onError(err)
				}
			} else {
				d.logger.Warn("Serial read error", "device", d.path, "error", err)
			}

			if !sleepContext(ctx, d.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		consecutiveErrors = 0

		if n == 0 {
			// Read timeout elapsed without data
			if !sleepContext(ctx, d.cfg.PollInterval) {
				return
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if d.tap != nil {
			if _, err := d.tap.Write(data); err != nil {
				d.logger.Debug("Tap write failed", "device", d.path, "error", err)
			}
		}

		if d.outbound.Len() == d.outbound.Cap() {
			d.logger.Debug("Outbound queue full, waiting for consumer", "device", d.path)
		}
		if err := d.outbound.Send(ctx, data); err != nil {
			// Closed queue: the device is being torn down
			return
		}
		d.buffersOut.Add(1)
	}
}

// inboundLoop writes queued buffers to the hardware.
func (d *Device) inboundLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		data, err := d.inbound.Receive(ctx)
		if err != nil {
			return
		}

		if err := d.handle.Write(ctx, data); err != nil {
			if ctx.Err() != nil || errors.Is(err, serial.ErrHandleClosed) {
				return
			}
			d.logger.Warn("Serial write error", "device", d.path, "bytes", len(data), "error", err)
			continue
		}
		d.buffersIn.Add(1)
	}
}

// Close stops both tasks, closes the side-channel and releases the port.
// It returns only after the port is released. Safe to call more than once.
func (d *Device) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closeErr = d.teardown(ctx)
	})
	return d.closeErr
}

func (d *Device) teardown(ctx context.Context) error {
	d.setState(StateClosing)
	d.logger.Info("Closing device", "device", d.path)

	d.lifeMu.Lock()
	d.closed = true
	cancel := d.cancel
	d.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.outbound.Close()
	d.inbound.Close()
	if d.udp != nil {
		if err := d.udp.Close(); err != nil {
			d.logger.Debug("UDP close error", "device", d.path, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.cfg.CloseGrace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		// A read without timeout is parked in the driver; closing the
		// driver is the only way to wake it.
		d.logger.Warn("Bridge tasks still busy, interrupting port", "device", d.path)
		d.handle.Interrupt()
		<-done
	}

	err := d.handle.Close(ctx)

	if closer, ok := d.tap.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			d.logger.Debug("Tap close error", "device", d.path, "error", cerr)
		}
	}

	d.setState(StateClosed)
	d.logger.Info("Device closed", "device", d.path)
	return err
}

// Path returns the device path.
func (d *Device) Path() string {
	return d.path
}

// Options returns a copy of the managed options.
func (d *Device) Options() api.ManagedOptions {
	return d.managed.Clone()
}

// Outbound returns the hardware-to-network queue. Consumers only Receive.
func (d *Device) Outbound() *Queue {
	return d.outbound
}

// Inbound returns the network-to-hardware queue. Producers only Send.
func (d *Device) Inbound() *Queue {
	return d.inbound
}

func (d *Device) setState(state DeviceState) {
	d.stateMutex.Lock()
	d.state = state
	d.stateMutex.Unlock()
}

// State returns the current state
func (d *Device) State() DeviceState {
	d.stateMutex.RLock()
	defer d.stateMutex.RUnlock()
	return d.state
}

// Stats returns current statistics
func (d *Device) Stats() DeviceStats {
	bytesRead, bytesWritten, readErrors, writeErrors := d.handle.Stats()

	stats := DeviceStats{
		Device:         d.path,
		State:          d.State().String(),
		BytesRead:      bytesRead,
		BytesWritten:   bytesWritten,
		ReadErrors:     readErrors,
		WriteErrors:    writeErrors,
		BuffersOut:     d.buffersOut.Load(),
		BuffersIn:      d.buffersIn.Load(),
		OutboundQueued: d.outbound.Len(),
		InboundQueued:  d.inbound.Len(),
		QueueCapacity:  d.outbound.Cap(),
		UDPPort:        d.managed.UDPPort,
		OpenedAt:       d.openedAt,
	}
	if d.udp != nil {
		if peer := d.udp.Peer(); peer != nil {
			stats.UDPPeer = peer.String()
		}
		stats.DatagramsIn, stats.DatagramsOut = d.udp.Counts()
	}
	return stats
}

// sleepContext waits for d or until ctx is done, and reports whether the
// caller should continue.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
