package serial

import (
	"math"
	"testing"
	"time"

	"serialbridge/api"

	"go.bug.st/serial"
)

func TestParityFrom(t *testing.T) {
	tests := []struct {
		in   api.Parity
		want serial.Parity
	}{
		{api.NoParity, serial.NoParity},
		{api.OddParity, serial.OddParity},
		{api.EvenParity, serial.EvenParity},
		{api.Parity(7), serial.NoParity},
		{api.Parity(-1), serial.NoParity},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := ParityFrom(tt.in); got != tt.want {
				t.Errorf("ParityFrom(%d) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFlowControlFrom(t *testing.T) {
	tests := []struct {
		in   api.FlowControl
		want FlowControl
	}{
		{api.NoFlowControl, FlowNone},
		{api.SoftwareFlowControl, FlowSoftware},
		{api.HardwareFlowControl, FlowHardware},
		{api.FlowControl(42), FlowNone},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := FlowControlFrom(tt.in); got != tt.want {
				t.Errorf("FlowControlFrom(%d) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDataBitsFrom(t *testing.T) {
	tests := []struct {
		in   api.DataBits
		want int
	}{
		{api.DataBitsEight, 8},
		{api.DataBitsFive, 5},
		{api.DataBitsSix, 6},
		{api.DataBitsSeven, 7},
		{api.DataBits(4), 8},
		{api.DataBits(99), 8},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := DataBitsFrom(tt.in); got != tt.want {
				t.Errorf("DataBitsFrom(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestStopBitsFrom(t *testing.T) {
	tests := []struct {
		in   api.StopBits
		want serial.StopBits
	}{
		{api.OneStopBit, serial.OneStopBit},
		{api.TwoStopBits, serial.TwoStopBits},
		{api.StopBits(2), serial.OneStopBit},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := StopBitsFrom(tt.in); got != tt.want {
				t.Errorf("StopBitsFrom(%d) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeoutFrom(t *testing.T) {
	tests := []struct {
		name string
		in   *api.Duration
		want time.Duration
	}{
		{"absent", nil, 0},
		{"zero", &api.Duration{}, 0},
		{"seconds", &api.Duration{Seconds: 2}, 2 * time.Second},
		{"nanos", &api.Duration{Nanos: 500_000_000}, 500 * time.Millisecond},
		{"both", &api.Duration{Seconds: 1, Nanos: 250_000_000}, 1250 * time.Millisecond},
		{"negative clamps", &api.Duration{Seconds: -3, Nanos: -5}, 0},
		{"under limit", &api.Duration{Seconds: 4294966, Nanos: 999_999_999}, 4294966*time.Second + 999_999_999},
		{"longest accepted", &api.Duration{Seconds: 4294967, Nanos: 294_000_000}, MaxReadTimeout},
		{"seconds past limit", &api.Duration{Seconds: 4294967, Nanos: 999_999_999}, MaxReadTimeout},
		{"seconds overflow int64 nanos", &api.Duration{Seconds: math.MaxInt64}, MaxReadTimeout},
		{"seconds just over overflow", &api.Duration{Seconds: 9_223_372_037}, MaxReadTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TimeoutFrom(tt.in); got != tt.want {
				t.Errorf("TimeoutFrom() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigFrom8N1(t *testing.T) {
	cfg := ConfigFrom(api.OpenOptions{
		Baud:    9600,
		Timeout: api.NewDuration(100 * time.Millisecond),
	})

	if cfg.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", cfg.BaudRate)
	}
	if cfg.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", cfg.DataBits)
	}
	if cfg.Parity != serial.NoParity {
		t.Errorf("Parity = %v, want NoParity", cfg.Parity)
	}
	if cfg.StopBits != serial.OneStopBit {
		t.Errorf("StopBits = %v, want OneStopBit", cfg.StopBits)
	}
	if cfg.FlowControl != FlowNone {
		t.Errorf("FlowControl = %v, want none", cfg.FlowControl)
	}
	if cfg.ReadTimeout != 100*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 100ms", cfg.ReadTimeout)
	}

	mode := cfg.Mode()
	if mode.BaudRate != 9600 || mode.DataBits != 8 {
		t.Errorf("Mode() = %+v, want 9600 baud 8 data bits", mode)
	}
}

func TestConfigString(t *testing.T) {
	cfg := ConfigFrom(api.OpenOptions{Baud: 115200, Parity: api.EvenParity, StopBits: api.TwoStopBits, DataBits: api.DataBitsSeven})
	want := "115200/7/E/2 flow=none timeout=0s"
	if got := cfg.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
