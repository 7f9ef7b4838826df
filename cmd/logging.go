package cmd

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"serialbridge/config"
)

// logFileName is the process log inside logging.base_path
const logFileName = "serialbridge.log"

// setupLogging configures logging with optional file rotation. The returned
// closer releases the log file, if any.
func setupLogging(cfg *config.Config, debug bool) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level, debug),
	}

	// If log base path is configured, write to rotating log file
	if cfg.Logging.BasePath != "" {
		if err := os.MkdirAll(cfg.Logging.BasePath, 0755); err != nil {
			log.Printf("Warning: failed to create log directory: %v", err)
		} else {
			writer := &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Logging.BasePath, logFileName),
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				Compress:   cfg.Logging.Compress,
			}
			return slog.New(slog.NewJSONHandler(writer, opts)), writer
		}
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts)), io.NopCloser(nil)
}

func logLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
