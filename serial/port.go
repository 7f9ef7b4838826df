package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of a go.bug.st/serial port the bridge relies on.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a hardware port with the given configuration.
type Opener interface {
	Open(device string, cfg Config) (Port, error)
}

// DriverOpener opens ports through go.bug.st/serial.
type DriverOpener struct {
	logger *slog.Logger
}

// NewDriverOpener creates a DriverOpener
func NewDriverOpener(logger *slog.Logger) *DriverOpener {
	return &DriverOpener{logger: logger}
}

// Open opens device and applies the read timeout.
func (o *DriverOpener) Open(device string, cfg Config) (Port, error) {
	port, err := serial.Open(device, cfg.Mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	// The driver exposes no RTS/CTS or XON/XOFF switch; the line runs without
	// flow control whatever was requested.
	if cfg.FlowControl != FlowNone {
		o.logger.Warn("Flow control not supported by driver, continuing without",
			"device", device,
			"requested", cfg.FlowControl.String())
	}

	o.logger.Debug("Port opened", "device", device, "config", cfg.String())
	return port, nil
}

// IsInvalidConfig reports whether the driver rejected the requested line
// settings rather than the device itself.
func IsInvalidConfig(err error) bool {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return false
	}
	switch portErr.Code() {
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
		serial.InvalidStopBits, serial.InvalidTimeoutValue:
		return true
	default:
		return false
	}
}
