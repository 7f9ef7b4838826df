package serial

import (
	"fmt"
	"math"
	"time"

	"serialbridge/api"

	"go.bug.st/serial"
)

// FlowControl is the host-level flow control setting.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowSoftware
	FlowHardware
)

func (f FlowControl) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowSoftware:
		return "software"
	case FlowHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// Config is the driver-level configuration used to open a port.
type Config struct {
	BaudRate    int
	DataBits    int
	Parity      serial.Parity
	StopBits    serial.StopBits
	FlowControl FlowControl
	// ReadTimeout of zero makes every read a non-blocking poll.
	ReadTimeout time.Duration
}

// Mode returns the go.bug.st/serial mode for this configuration.
func (c Config) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("%d/%d/%s/%s flow=%s timeout=%s",
		c.BaudRate, c.DataBits, parityName(c.Parity), stopBitsName(c.StopBits), c.FlowControl, c.ReadTimeout)
}

// ParityFrom maps a wire parity to the driver value. Unknown values map to
// no parity.
func ParityFrom(p api.Parity) serial.Parity {
	switch p {
	case api.OddParity:
		return serial.OddParity
	case api.EvenParity:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

// FlowControlFrom maps a wire flow control to the host value. Unknown values
// map to no flow control.
func FlowControlFrom(f api.FlowControl) FlowControl {
	switch f {
	case api.SoftwareFlowControl:
		return FlowSoftware
	case api.HardwareFlowControl:
		return FlowHardware
	default:
		return FlowNone
	}
}

// DataBitsFrom maps a wire data bits value to a bit count. Unknown values
// map to 8.
func DataBitsFrom(d api.DataBits) int {
	switch d {
	case api.DataBitsFive:
		return 5
	case api.DataBitsSix:
		return 6
	case api.DataBitsSeven:
		return 7
	default:
		return 8
	}
}

// StopBitsFrom maps a wire stop bits value to the driver value. Unknown
// values map to one stop bit.
func StopBitsFrom(s api.StopBits) serial.StopBits {
	switch s {
	case api.TwoStopBits:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// MaxReadTimeout is the longest read timeout every driver backend accepts.
const MaxReadTimeout = time.Duration(math.MaxUint32-1) * time.Millisecond

// TimeoutFrom converts a wire duration. Nil means zero. Negative components
// are clamped to zero and the result to MaxReadTimeout.
func TimeoutFrom(d *api.Duration) time.Duration {
	if d == nil {
		return 0
	}
	if d.Seconds >= int64(MaxReadTimeout/time.Second) {
		return MaxReadTimeout
	}
	var timeout time.Duration
	if d.Seconds > 0 {
		timeout += time.Duration(d.Seconds) * time.Second
	}
	if d.Nanos > 0 {
		timeout += time.Duration(d.Nanos)
	}
	return min(timeout, MaxReadTimeout)
}

// ConfigFrom translates a full set of wire options.
func ConfigFrom(o api.OpenOptions) Config {
	return Config{
		BaudRate:    int(o.Baud),
		DataBits:    DataBitsFrom(o.DataBits),
		Parity:      ParityFrom(o.Parity),
		StopBits:    StopBitsFrom(o.StopBits),
		FlowControl: FlowControlFrom(o.FlowControl),
		ReadTimeout: TimeoutFrom(o.Timeout),
	}
}

func parityName(p serial.Parity) string {
	switch p {
	case serial.NoParity:
		return "N"
	case serial.OddParity:
		return "O"
	case serial.EvenParity:
		return "E"
	case serial.MarkParity:
		return "M"
	case serial.SpaceParity:
		return "S"
	default:
		return "?"
	}
}

func stopBitsName(s serial.StopBits) string {
	switch s {
	case serial.OneStopBit:
		return "1"
	case serial.OnePointFiveStopBits:
		return "1.5"
	case serial.TwoStopBits:
		return "2"
	default:
		return "?"
	}
}
