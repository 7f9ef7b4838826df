package output

import "testing"

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/dev/ttyUSB0", "dev_ttyUSB0"},
		{"COM3", "COM3"},
		{"/dev/serial/by-id/usb-FTDI.0", "dev_serial_by-id_usb-FTDI_0"},
		{`\\.\COM10`, "COM10"},
		{"lab 01", "lab_01"},
		{"", "_"},
		{"/", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeToken(tt.in); got != tt.want {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildSubjects(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"events", BuildEventsSubject("serialbridge", "lab-01"), "serialbridge.events.lab-01"},
		{"health", BuildHealthSubject("serialbridge", "lab-01"), "serialbridge.health.lab-01"},
		{"health nested prefix", BuildHealthSubject("site.serial", "lab-01"), "site.serial.health.lab-01"},
		{"api", BuildAPIPrefix("serialbridge", "lab-01"), "serialbridge.api.lab-01"},
		{"data", BuildDataSubject("serialbridge", "lab-01", "/dev/ttyUSB0"), "serialbridge.data.lab-01.dev_ttyUSB0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
