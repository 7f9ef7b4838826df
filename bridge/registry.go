package bridge

import (
	"errors"
	"sort"
	"sync"

	"serialbridge/api"
)

var (
	// ErrAlreadyOpen is returned when a path already has a device or an
	// open in progress.
	ErrAlreadyOpen = errors.New("device already open")

	// ErrNotFound is returned when no device is registered under a path.
	ErrNotFound = errors.New("device not open")

	// ErrRegistryClosed is returned by Reserve and Insert after Drain.
	ErrRegistryClosed = errors.New("registry closed")
)

// Registry maps device paths to open devices. The lock only guards map
// mutation and is never held across I/O.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	pending map[string]struct{}
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		pending: make(map[string]struct{}),
	}
}

// Reserve claims path for an open in progress. A reserved path is reported
// as already open until Insert or Release.
func (r *Registry) Reserve(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.devices[path]; ok {
		return ErrAlreadyOpen
	}
	if _, ok := r.pending[path]; ok {
		return ErrAlreadyOpen
	}
	r.pending[path] = struct{}{}
	return nil
}

// Release drops a reservation that did not lead to a device.
func (r *Registry) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, path)
}

// Insert registers dev under path, consuming any reservation for it.
func (r *Registry) Insert(path string, dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		delete(r.pending, path)
		return ErrRegistryClosed
	}
	if _, ok := r.devices[path]; ok {
		return ErrAlreadyOpen
	}
	delete(r.pending, path)
	r.devices[path] = dev
	return nil
}

// Remove unregisters and returns the device under path. The caller owns
// its teardown.
func (r *Registry) Remove(path string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[path]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.devices, path)
	return dev, nil
}

// Get returns the device under path.
func (r *Registry) Get(path string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[path]
	return dev, ok
}

// ManagedOptions returns a copy of every device's managed options keyed by
// path.
func (r *Registry) ManagedOptions() map[string]api.ManagedOptions {
	devices := r.Devices()
	out := make(map[string]api.ManagedOptions, len(devices))
	for _, dev := range devices {
		out[dev.Path()] = dev.Options()
	}
	return out
}

// Devices returns the registered devices sorted by path.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	devices := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	r.mu.Unlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path() < devices[j].Path()
	})
	return devices
}

// Snapshot returns the stats of every registered device sorted by path.
func (r *Registry) Snapshot() []DeviceStats {
	devices := r.Devices()
	stats := make([]DeviceStats, 0, len(devices))
	for _, dev := range devices {
		stats = append(stats, dev.Stats())
	}
	return stats
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Drain removes and returns every device and refuses further registrations.
// The caller closes them.
func (r *Registry) Drain() []*Device {
	r.mu.Lock()
	r.closed = true
	devices := make([]*Device, 0, len(r.devices))
	for path, dev := range r.devices {
		devices = append(devices, dev)
		delete(r.devices, path)
	}
	r.mu.Unlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path() < devices[j].Path()
	})
	return devices
}
