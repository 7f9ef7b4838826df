package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"serialbridge/api"
	"serialbridge/serial"
	"serialbridge/serial/serialtest"
)

// idleDevice builds an unstarted device over an open fake port.
func idleDevice(t *testing.T, path string, baud uint32) *Device {
	t.Helper()

	port := serialtest.NewPort()
	if err := port.Open(0); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	opts := DeviceOptions{
		Config: testConfig(),
		Managed: api.ManagedOptions{
			Options: &api.OpenOptions{Baud: baud},
			UDPPort: api.NoUDPPort,
		},
	}
	dev := NewDevice(path, serial.NewHandle(port), opts, discardLogger())
	t.Cleanup(func() {
		dev.Close(context.Background())
	})
	return dev
}

func TestRegistryInsertRemove(t *testing.T) {
	r := NewRegistry()
	dev := idleDevice(t, "/dev/ttyUSB0", 9600)

	if err := r.Insert("/dev/ttyUSB0", dev); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := r.Insert("/dev/ttyUSB0", dev); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Insert() error = %v, want ErrAlreadyOpen", err)
	}

	got, ok := r.Get("/dev/ttyUSB0")
	if !ok || got != dev {
		t.Errorf("Get() = %v, %v, want registered device", got, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	removed, err := r.Remove("/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed != dev {
		t.Error("Remove() returned a different device")
	}
	if _, err := r.Remove("/dev/ttyUSB0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
	if _, ok := r.Get("/dev/ttyUSB0"); ok {
		t.Error("Get() found removed device")
	}
}

func TestRegistryRemoveNeverOpened(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Remove("/dev/ttyS9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryReserve(t *testing.T) {
	r := NewRegistry()

	if err := r.Reserve("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := r.Reserve("/dev/ttyUSB0"); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Reserve() error = %v, want ErrAlreadyOpen", err)
	}

	r.Release("/dev/ttyUSB0")
	if err := r.Reserve("/dev/ttyUSB0"); err != nil {
		t.Errorf("Reserve() after Release error = %v", err)
	}

	dev := idleDevice(t, "/dev/ttyUSB0", 9600)
	if err := r.Insert("/dev/ttyUSB0", dev); err != nil {
		t.Fatalf("Insert() after Reserve error = %v", err)
	}
	if err := r.Reserve("/dev/ttyUSB0"); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("Reserve() of open path error = %v, want ErrAlreadyOpen", err)
	}
}

func TestRegistryConcurrentReserve(t *testing.T) {
	r := NewRegistry()

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Reserve("/dev/ttyACM0"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d reservations succeeded, want 1", wins)
	}
}

func TestRegistrySnapshots(t *testing.T) {
	r := NewRegistry()
	r.Insert("/dev/ttyUSB1", idleDevice(t, "/dev/ttyUSB1", 115200))
	r.Insert("/dev/ttyUSB0", idleDevice(t, "/dev/ttyUSB0", 9600))

	all := r.ManagedOptions()
	if len(all) != 2 || all["/dev/ttyUSB1"].Options.Baud != 115200 {
		t.Errorf("ManagedOptions() = %+v", all)
	}

	stats := r.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(stats))
	}
	if stats[0].Device != "/dev/ttyUSB0" || stats[1].Device != "/dev/ttyUSB1" {
		t.Errorf("Snapshot() not sorted: %s, %s", stats[0].Device, stats[1].Device)
	}
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry()
	r.Insert("/dev/ttyB", idleDevice(t, "/dev/ttyB", 9600))
	r.Insert("/dev/ttyA", idleDevice(t, "/dev/ttyA", 9600))

	devices := r.Drain()
	if len(devices) != 2 {
		t.Fatalf("Drain() len = %d, want 2", len(devices))
	}
	if devices[0].Path() != "/dev/ttyA" {
		t.Errorf("Drain()[0] = %s, want /dev/ttyA", devices[0].Path())
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", r.Len())
	}
}

func TestRegistryRefusesAfterDrain(t *testing.T) {
	r := NewRegistry()
	if err := r.Reserve("/dev/ttyA"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	r.Drain()

	if err := r.Reserve("/dev/ttyB"); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Reserve() after Drain error = %v, want ErrRegistryClosed", err)
	}
	if err := r.Insert("/dev/ttyA", idleDevice(t, "/dev/ttyA", 9600)); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Insert() after Drain error = %v, want ErrRegistryClosed", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
