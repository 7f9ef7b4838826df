// Package api defines the request and response types shared by every
// transport (HTTP, NATS) and by the service layer.
package api

import (
	"fmt"
	"time"
)

// NoUDPPort is reported in ManagedOptions when no side-channel is bound.
const NoUDPPort int32 = -1

// DataBits is the wire value for the number of data bits per character.
// Eight is the zero value because it is by far the most common.
type DataBits int32

const (
	DataBitsEight DataBits = 0
	DataBitsFive  DataBits = 1
	DataBitsSix   DataBits = 2
	DataBitsSeven DataBits = 3
)

func (d DataBits) String() string {
	switch d {
	case DataBitsEight:
		return "Eight"
	case DataBitsFive:
		return "Five"
	case DataBitsSix:
		return "Six"
	case DataBitsSeven:
		return "Seven"
	default:
		return fmt.Sprintf("unknown(%d)", int32(d))
	}
}

// FlowControl is the wire value for flow control.
type FlowControl int32

const (
	NoFlowControl       FlowControl = 0
	SoftwareFlowControl FlowControl = 1
	HardwareFlowControl FlowControl = 2
)

func (f FlowControl) String() string {
	switch f {
	case NoFlowControl:
		return "NoFlowControl"
	case SoftwareFlowControl:
		return "Software"
	case HardwareFlowControl:
		return "Hardware"
	default:
		return fmt.Sprintf("unknown(%d)", int32(f))
	}
}

// Parity is the wire value for parity checking.
type Parity int32

const (
	NoParity   Parity = 0
	OddParity  Parity = 1
	EvenParity Parity = 2
)

func (p Parity) String() string {
	switch p {
	case NoParity:
		return "NoParity"
	case OddParity:
		return "Odd"
	case EvenParity:
		return "Even"
	default:
		return fmt.Sprintf("unknown(%d)", int32(p))
	}
}

// StopBits is the wire value for the number of stop bits.
type StopBits int32

const (
	OneStopBit  StopBits = 0
	TwoStopBits StopBits = 1
)

func (s StopBits) String() string {
	switch s {
	case OneStopBit:
		return "One"
	case TwoStopBits:
		return "Two"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Duration mirrors google.protobuf.Duration: whole seconds plus a
// nanosecond remainder.
type Duration struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// NewDuration splits d into seconds and nanoseconds.
func NewDuration(d time.Duration) *Duration {
	return &Duration{
		Seconds: int64(d / time.Second),
		Nanos:   int32(d % time.Second),
	}
}

// OpenOptions is the port configuration requested by a client.
// The most common setting is 8N1: eight data bits, no parity, one stop bit.
type OpenOptions struct {
	Baud        uint32      `json:"baud"`
	DataBits    DataBits    `json:"data_bits"`
	FlowControl FlowControl `json:"flow_control"`
	Parity      Parity      `json:"parity"`
	StopBits    StopBits    `json:"stop_bits"`
	// Timeout is how long a single hardware read waits for data.
	// Absent means zero: every read is a non-blocking poll.
	Timeout *Duration `json:"timeout,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored options.
func (o OpenOptions) Clone() OpenOptions {
	if o.Timeout != nil {
		t := *o.Timeout
		o.Timeout = &t
	}
	return o
}

func (o OpenOptions) String() string {
	return fmt.Sprintf("%d %s/%s/%s flow=%s", o.Baud, o.DataBits, o.Parity, o.StopBits, o.FlowControl)
}

// ManagedOptions is the configuration in effect for an open device.
type ManagedOptions struct {
	Options *OpenOptions `json:"options,omitempty"`
	// UDPPort is the side-channel port, or NoUDPPort.
	UDPPort int32 `json:"udp_port"`
}

// Clone returns a deep copy.
func (m ManagedOptions) Clone() ManagedOptions {
	if m.Options != nil {
		o := m.Options.Clone()
		m.Options = &o
	}
	return m
}

// USBInfo carries the USB descriptors of a port when the host exposes them.
type USBInfo struct {
	VID          string `json:"vid"`
	PID          string `json:"pid"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Serial describes one host-visible serial port.
//
//	/dev/tty* (Linux), /dev/cu.* (macOS), COM* (Windows)
type Serial struct {
	Device string `json:"device"`
	// Managed is set when the port is currently owned by this server.
	Managed *ManagedOptions `json:"managed,omitempty"`
	USB     *USBInfo        `json:"usb,omitempty"`
}

// ListResponse is the result of List.
type ListResponse struct {
	Serials []Serial `json:"serials"`
}

// OpenRequest asks the server to take ownership of a port.
type OpenRequest struct {
	Device  string       `json:"device"`
	Options *OpenOptions `json:"options,omitempty"`
}

// CloseRequest releases a port.
type CloseRequest struct {
	Device string `json:"device"`
}

// WriteRequest queues bytes for a port. Data is base64 in JSON.
type WriteRequest struct {
	Device string `json:"device"`
	Data   []byte `json:"data"`
}
