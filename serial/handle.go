package serial

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrHandleClosed is returned by Handle operations after Close or Interrupt.
var ErrHandleClosed = errors.New("serial handle closed")

// Handle is the sole owner of an open Port.
//
// A driver port is not safe to use from the bridge's reader and writer
// goroutines at the same time, so every Read and Write holds the handle's
// one-slot semaphore for the duration of the driver call: exactly one
// goroutine touches the port at any instant, and the two directions take
// turns. Waiting for the slot honors the caller's context, so a cancelled
// goroutine never ends up holding it. Interrupt is the only call that reaches
// the port without the slot; it closes the driver, which is how
// go.bug.st/serial unblocks a Read parked in the kernel.
type Handle struct {
	port Port
	slot chan struct{}

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	bytesRead    int64
	bytesWritten int64
	readErrors   int64
	writeErrors  int64
	mu           sync.RWMutex
}

// NewHandle takes ownership of port.
func NewHandle(port Port) *Handle {
	return &Handle{
		port:   port,
		slot:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (h *Handle) acquire(ctx context.Context) error {
	select {
	case <-h.closed:
		return ErrHandleClosed
	default:
	}

	select {
	case h.slot <- struct{}{}:
	case <-h.closed:
		return ErrHandleClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// Close may have won the race while we were queued.
	select {
	case <-h.closed:
		h.release()
		return ErrHandleClosed
	default:
		return nil
	}
}

func (h *Handle) release() {
	<-h.slot
}

// Read performs a single driver read. A zero count with a nil error means
// the read timeout elapsed without data.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	if err := h.acquire(ctx); err != nil {
		return 0, err
	}
	n, err := h.port.Read(p)
	h.release()

	h.mu.Lock()
	h.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		h.readErrors++
	}
	h.mu.Unlock()

	return n, err
}

// Write writes all of p to the port before releasing it.
func (h *Handle) Write(ctx context.Context, p []byte) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	written, err := h.writeAll(p)
	h.release()

	h.mu.Lock()
	h.bytesWritten += int64(written)
	if err != nil {
		h.writeErrors++
	}
	h.mu.Unlock()

	return err
}

func (h *Handle) writeAll(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := h.port.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// ResetInput discards bytes the driver has buffered but not yet delivered.
func (h *Handle) ResetInput(ctx context.Context) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()
	return h.port.ResetInputBuffer()
}

// Close waits for the port to be idle and closes it. If ctx expires first
// the port is interrupted instead.
func (h *Handle) Close(ctx context.Context) error {
	if err := h.acquire(ctx); err != nil {
		return h.Interrupt()
	}
	defer h.release()
	return h.shutdown()
}

// Interrupt closes the port without waiting for the slot.
func (h *Handle) Interrupt() error {
	return h.shutdown()
}

func (h *Handle) shutdown() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.closeErr = h.port.Close()
	})
	return h.closeErr
}

// Stats returns the counters accumulated over the handle's lifetime.
func (h *Handle) Stats() (bytesRead, bytesWritten, readErrors, writeErrors int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bytesRead, h.bytesWritten, h.readErrors, h.writeErrors
}
