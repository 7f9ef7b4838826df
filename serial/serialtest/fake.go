// Package serialtest provides in-memory serial ports for tests.
package serialtest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"serialbridge/serial"
)

// ErrPortClosed is returned by Port operations after Close.
var ErrPortClosed = errors.New("serialtest: port closed")

// Port is an in-memory serial port. Bytes passed to Feed are returned by
// Read; bytes passed to Write are recorded and, with Loopback set, become
// readable as well. Read honors the configured read timeout the way the
// driver does: zero polls, negative blocks until data or Close.
type Port struct {
	Loopback bool

	mu       sync.Mutex
	rx       []byte
	tx       bytes.Buffer
	timeout  time.Duration
	open     bool
	opens    int
	readErr  error
	writeErr error
	changed  chan struct{}
}

// NewPort returns a closed port; Open or an Opener opens it.
func NewPort() *Port {
	return &Port{changed: make(chan struct{})}
}

// broadcast wakes every goroutine waiting on the port. Caller holds mu.
func (p *Port) broadcast() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Open marks the port open with the given read timeout.
func (p *Port) Open(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return fmt.Errorf("serialtest: port busy")
	}
	p.open = true
	p.opens++
	p.timeout = timeout
	p.broadcast()
	return nil
}

// Feed makes data available to Read.
func (p *Port) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, data...)
	p.broadcast()
}

// SetReadError makes every Read fail with err until cleared with nil.
func (p *Port) SetReadError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.broadcast()
}

// SetWriteError makes every Write fail with err until cleared with nil.
func (p *Port) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		p.mu.Lock()
		if !p.open {
			p.mu.Unlock()
			return 0, ErrPortClosed
		}
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()
			return 0, err
		}
		if len(p.rx) > 0 {
			n := copy(b, p.rx)
			p.rx = p.rx[n:]
			p.mu.Unlock()
			return n, nil
		}
		changed := p.changed
		p.mu.Unlock()

		if timeout == 0 {
			return 0, nil
		}

		select {
		case <-changed:
		case <-deadline:
			return 0, nil
		}
	}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.tx.Write(b)
	if p.Loopback {
		p.rx = append(p.rx, b...)
	}
	p.broadcast()
	return len(b), nil
}

// SetReadTimeout mirrors go.bug.st/serial.Port.
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

// ResetInputBuffer drops unread bytes.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = nil
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	p.broadcast()
	return nil
}

// IsOpen reports whether the port is currently open.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Opens reports how many times the port has been opened.
func (p *Port) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Written returns a copy of everything written so far.
func (p *Port) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.tx.Bytes())
}

// WaitWritten blocks until at least n bytes have been written or the
// timeout elapses, and returns what was written.
func (p *Port) WaitWritten(n int, timeout time.Duration) []byte {
	deadline := time.After(timeout)
	for {
		p.mu.Lock()
		if p.tx.Len() >= n {
			out := bytes.Clone(p.tx.Bytes())
			p.mu.Unlock()
			return out
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return p.Written()
		}
	}
}

// Opener hands out Ports by device path.
type Opener struct {
	mu      sync.Mutex
	ports   map[string]*Port
	errs    map[string]error
	configs []serial.Config
}

// NewOpener creates an Opener with no devices.
func NewOpener() *Opener {
	return &Opener{
		ports: make(map[string]*Port),
		errs:  make(map[string]error),
	}
}

// Add registers a device and returns its port.
func (o *Opener) Add(device string) *Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := NewPort()
	o.ports[device] = p
	return p
}

// Fail makes every open of device return err.
func (o *Opener) Fail(device string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[device] = err
}

// Port returns the port registered for device.
func (o *Opener) Port(device string) *Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[device]
}

// Configs returns every configuration passed to Open, in order.
func (o *Opener) Configs() []serial.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]serial.Config(nil), o.configs...)
}

// Open implements serial.Opener.
func (o *Opener) Open(device string, cfg serial.Config) (serial.Port, error) {
	o.mu.Lock()
	o.configs = append(o.configs, cfg)
	err := o.errs[device]
	p := o.ports[device]
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("serialtest: no such device %s", device)
	}
	if err := p.Open(cfg.ReadTimeout); err != nil {
		return nil, err
	}
	return p, nil
}

// Enumerator reports a fixed port list.
type Enumerator struct {
	List []serial.PortInfo
	Err  error
}

// Ports implements serial.Enumerator.
func (e *Enumerator) Ports() ([]serial.PortInfo, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return append([]serial.PortInfo(nil), e.List...), nil
}
