package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Recorder captures the bytes read from one device to a rotating file and,
// when NATS is connected, to the device's data subject.
type Recorder struct {
	device      string
	logWriter   *lumberjack.Logger
	conn        *NATSConnection
	natsSubject string
	logger      *slog.Logger
	mu          sync.Mutex
}

// RecorderConfig contains configuration for Recorder
type RecorderConfig struct {
	Device        string
	LogBasePath   string // empty disables the file
	LogMaxSizeMB  int
	LogMaxBackups int
	LogCompress   bool
	Conn          *NATSConnection // nil disables publishing
	NATSSubject   string
	Logger        *slog.Logger
}

// NewRecorder creates a new Recorder
func NewRecorder(cfg *RecorderConfig) (*Recorder, error) {
	r := &Recorder{
		device:      cfg.Device,
		conn:        cfg.Conn,
		natsSubject: cfg.NATSSubject,
		logger:      cfg.Logger,
	}

	logPath := ""
	if cfg.LogBasePath != "" {
		if err := os.MkdirAll(cfg.LogBasePath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}

		// e.g., /dev/ttyUSB0 -> /var/log/serialbridge/dev_ttyUSB0.log
		logPath = filepath.Join(cfg.LogBasePath, CaptureFileName(cfg.Device))
		r.logWriter = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   cfg.LogCompress,
		}
	}

	cfg.Logger.Info("Initialized capture recorder",
		"device", cfg.Device,
		"log_path", logPath,
		"nats_subject", cfg.NATSSubject,
		"nats_enabled", cfg.Conn != nil)

	return r, nil
}

// CaptureFileName returns the capture file name for device.
func CaptureFileName(device string) string {
	return SanitizeToken(device) + ".log"
}

// Write records data. A NATS failure never fails the write when the file
// write succeeded.
func (r *Recorder) Write(data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error

	// Write to log file (primary output)
	if r.logWriter != nil {
		if _, err := r.logWriter.Write(data); err != nil {
			r.logger.Error("Failed to write capture file",
				"device", r.device,
				"error", err)
			lastErr = err
		}
	}

	// Publish to NATS (secondary output)
	if r.conn.IsConnected() {
		if err := r.conn.Publish(r.natsSubject, data); err != nil {
			r.logger.Warn("Failed to publish to NATS",
				"device", r.device,
				"subject", r.natsSubject,
				"error", err)
		}
	}

	if lastErr != nil {
		return 0, lastErr
	}
	return len(data), nil
}

// Close closes the capture file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.logWriter != nil {
		return r.logWriter.Close()
	}
	return nil
}

// RecorderSettings are the capture settings shared by every device.
type RecorderSettings struct {
	BasePath      string
	MaxSizeMB     int
	MaxBackups    int
	Compress      bool
	Conn          *NATSConnection
	SubjectPrefix string
	InstanceID    string
	Logger        *slog.Logger
}

// NewRecorderFactory returns a constructor of per-device recorders.
func NewRecorderFactory(s RecorderSettings) func(device string) (io.WriteCloser, error) {
	return func(device string) (io.WriteCloser, error) {
		return NewRecorder(&RecorderConfig{
			Device:        device,
			LogBasePath:   s.BasePath,
			LogMaxSizeMB:  s.MaxSizeMB,
			LogMaxBackups: s.MaxBackups,
			LogCompress:   s.Compress,
			Conn:          s.Conn,
			NATSSubject:   BuildDataSubject(s.SubjectPrefix, s.InstanceID, device),
			Logger:        s.Logger,
		})
	}
}
