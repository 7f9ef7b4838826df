package serial

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Detection constants - these control autobaud detection behavior
const (
	// DetectionSettlingTime is the delay between detection attempts so
	// USB-to-serial adapters can stabilize after close/reopen.
	DetectionSettlingTime = 100 * time.Millisecond

	// DetectionBufferSize is the size of the buffer used when sampling
	// data during baud rate detection.
	DetectionBufferSize = 4096

	// DetectionReadTimeout bounds each sampling read so the deadline is
	// checked regularly.
	DetectionReadTimeout = 100 * time.Millisecond

	// ValidityThreshold is the minimum ratio of valid ASCII characters
	// required for a baud rate to be considered correct (0.80 = 80%).
	ValidityThreshold = 0.80
)

// DetectionResult contains the results of autobaud detection
type DetectionResult struct {
	BaudRate      int
	ValidityRatio float64
	BytesRead     int
}

// Detector finds the baud rate of a device that is already transmitting.
type Detector struct {
	opener           Opener
	device           string
	base             Config
	baudRates        []int
	detectionTimeout time.Duration
	minBytesForValid int
	logger           *slog.Logger
}

// NewDetector creates a new Detector. base supplies the framing (data bits,
// parity, stop bits) used while sampling.
func NewDetector(opener Opener, device string, base Config, baudRates []int, detectionTimeout time.Duration, minBytesForValid int, logger *slog.Logger) *Detector {
	return &Detector{
		opener:           opener,
		device:           device,
		base:             base,
		baudRates:        baudRates,
		detectionTimeout: detectionTimeout,
		minBytesForValid: minBytesForValid,
		logger:           logger,
	}
}

// Detect tries each candidate rate in order and returns the first that
// yields mostly printable data.
func (d *Detector) Detect(ctx context.Context) (*DetectionResult, error) {
	d.logger.Info("Starting autobaud detection", "device", d.device, "rates", d.baudRates)

	var lastErr error
	for i, baudRate := range d.baudRates {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(DetectionSettlingTime):
			}
		}

		d.logger.Debug("Trying baud rate", "device", d.device, "baud", baudRate)

		cfg := d.base
		cfg.BaudRate = baudRate
		cfg.ReadTimeout = DetectionReadTimeout

		port, err := d.opener.Open(d.device, cfg)
		if err != nil {
			d.logger.Warn("Failed to open port", "device", d.device, "baud", baudRate, "error", err)
			lastErr = err
			continue
		}

		// Flush stale data from the previous rate so it does not skew the ratio
		if err := port.ResetInputBuffer(); err != nil {
			d.logger.Debug("Failed to reset input buffer", "device", d.device, "error", err)
		}

		validityRatio, bytesRead := d.testBaudRate(ctx, port)
		port.Close()

		d.logger.Debug("Baud rate test result",
			"device", d.device,
			"baud", baudRate,
			"validity", fmt.Sprintf("%.2f", validityRatio),
			"bytes", bytesRead)

		if validityRatio >= ValidityThreshold && bytesRead >= d.minBytesForValid {
			d.logger.Info("Detected baud rate",
				"device", d.device,
				"baud", baudRate,
				"validity", fmt.Sprintf("%.2f", validityRatio),
				"bytes", bytesRead)
			return &DetectionResult{
				BaudRate:      baudRate,
				ValidityRatio: validityRatio,
				BytesRead:     bytesRead,
			}, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("failed to detect baud rate for %s: %w", d.device, lastErr)
	}
	return nil, fmt.Errorf("failed to detect baud rate for %s after trying all rates", d.device)
}

// testBaudRate samples the port until the deadline or until enough bytes
// have arrived, and returns the validity ratio and byte count.
func (d *Detector) testBaudRate(ctx context.Context, port Port) (float64, int) {
	buf := make([]byte, DetectionBufferSize)
	totalBytes := 0
	validChars := 0
	deadline := time.Now().Add(d.detectionTimeout)

	for time.Now().Before(deadline) && ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			totalBytes += n
			validChars += countValidASCII(buf[:n])

			if totalBytes >= d.minBytesForValid {
				break
			}
		}
		if err != nil {
			break
		}
	}

	if totalBytes == 0 {
		return 0.0, 0
	}

	return float64(validChars) / float64(totalBytes), totalBytes
}

// countValidASCII counts printable ASCII and common control characters.
// At the correct rate text is ~95%+ printable; at a wrong rate random bit
// patterns yield ~35-50%.
func countValidASCII(data []byte) int {
	count := 0
	for _, b := range data {
		if (b >= 0x20 && b <= 0x7E) || b == 0x09 || b == 0x0A || b == 0x0D {
			count++
		}
	}
	return count
}
