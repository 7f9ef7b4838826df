package serial

import (
	"errors"
	"io"
	"sync"
	"time"
)

var errMockClosed = errors.New("mock port closed")

// MockPort implements Port for testing
type MockPort struct {
	data       []byte
	readIndex  int
	readDelay  time.Duration
	readErr    error
	writeErr   error
	shortWrite bool
	written    []byte
	closed     bool
	closeCount int
	resets     int
	timeout    time.Duration
	mu         sync.Mutex
}

func NewMockPort(data []byte) *MockPort {
	return &MockPort{data: data}
}

func (m *MockPort) Read(p []byte) (n int, err error) {
	if m.readDelay > 0 {
		time.Sleep(m.readDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errMockClosed
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	if m.readIndex >= len(m.data) {
		return 0, nil
	}

	n = copy(p, m.data[m.readIndex:])
	m.readIndex += n
	return n, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errMockClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.shortWrite && len(p) > 1 {
		m.written = append(m.written, p[:1]...)
		return 1, nil
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCount++
	return nil
}

func (m *MockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = t
	return nil
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.readIndex = len(m.data)
	return nil
}

func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written...)
}

var _ io.ReadWriteCloser = (*MockPort)(nil)

// mockOpener returns a fresh MockPort per baud rate
type mockOpener struct {
	data    map[int][]byte
	failAll error
	opened  []Config
	mu      sync.Mutex
}

func (o *mockOpener) Open(device string, cfg Config) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, cfg)
	if o.failAll != nil {
		return nil, o.failAll
	}
	port := NewMockPort(nil)
	// data arrives after the reset so it survives ResetInputBuffer
	port.data = o.data[cfg.BaudRate]
	return &resetSafePort{MockPort: port}, nil
}

// resetSafePort ignores ResetInputBuffer so sampled data stays readable
type resetSafePort struct {
	*MockPort
}

func (p *resetSafePort) ResetInputBuffer() error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}
