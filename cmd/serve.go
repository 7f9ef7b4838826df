package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"serialbridge/bridge"
	"serialbridge/config"
	"serialbridge/httpapi"
	"serialbridge/metrics"
	"serialbridge/natsapi"
	"serialbridge/output"
	"serialbridge/serial"
	"serialbridge/service"
)

// shutdownTimeout bounds the graceful shutdown after a signal
const shutdownTimeout = 30 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Run the bridge until SIGINT or SIGTERM.

The HTTP API always starts. When nats.url is configured the NATS request-reply
API, lifecycle events and health heartbeats start as well.

Examples:
  serialbridge serve --config /etc/serialbridge/config.yaml
  SERIALBRIDGE_HTTP_PORT=9000 serialbridge serve --debug`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(configPath, debug)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(path string, debug bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logCloser := setupLogging(cfg, debug)
	defer logCloser.Close()

	logger.Info("Starting SerialBridge",
		"version", appVersion,
		"instance", cfg.App.InstanceID,
		"config", path)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// NATS is optional; the bridge runs without it
	var natsConn *output.NATSConnection
	if cfg.NATSEnabled() {
		natsConn, err = output.NewNATSConnection(
			cfg.NATS.URL,
			fmt.Sprintf("%s-%s", cfg.App.Name, cfg.App.InstanceID),
			cfg.NATS.MaxReconnects,
			cfg.NATS.ReconnectWait(),
			logger.With("component", "nats"))
		if err != nil {
			logger.Warn("NATS unavailable, continuing without it", "error", err)
			natsConn = nil
		}
	}

	var opts []service.Option

	var events *output.EventPublisher
	if natsConn != nil {
		events = output.NewEventPublisher(&output.EventPublisherConfig{
			Conn:       natsConn.Conn(),
			Subject:    output.BuildEventsSubject(cfg.NATS.SubjectPrefix, cfg.App.InstanceID),
			InstanceID: cfg.App.InstanceID,
			Logger:     logger.With("component", "events"),
		})
		if cfg.NATS.EventsStream != "" {
			events.CheckAndPublishUncleanShutdown(cfg.NATS.EventsStream)
		}
		events.PublishServiceStart(appVersion)
		opts = append(opts, service.WithEvents(events))
	}

	if cfg.Capture.Enabled {
		opts = append(opts, service.WithRecorder(output.NewRecorderFactory(output.RecorderSettings{
			BasePath:      cfg.Capture.BasePath,
			MaxSizeMB:     cfg.Capture.MaxSizeMB,
			MaxBackups:    cfg.Capture.MaxBackups,
			Compress:      cfg.Capture.Compress,
			Conn:          natsConn,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			InstanceID:    cfg.App.InstanceID,
			Logger:        logger.With("component", "capture"),
		})))
	}

	svc := service.New(
		serial.NewDriverOpener(logger.With("component", "driver")),
		serial.HostEnumerator{},
		serviceConfig(cfg),
		logger.With("component", "service"),
		opts...)

	httpServer := httpapi.NewServer(httpConfig(cfg), svc,
		metrics.Handler(metrics.NewRegistry(svc.Stats)),
		logger.With("component", "http"))
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP API: %w", err)
	}

	var natsServer *natsapi.Server
	var health *output.HealthPublisher
	if natsConn != nil {
		natsServer = natsapi.NewServer(natsConn.Conn(),
			output.BuildAPIPrefix(cfg.NATS.SubjectPrefix, cfg.App.InstanceID),
			svc, logger.With("component", "natsapi"))
		if err := natsServer.Start(); err != nil {
			logger.Error("Failed to start NATS API", "error", err)
			natsServer = nil
		}

		health = output.NewHealthPublisher(&output.HealthPublisherConfig{
			Conn:       natsConn,
			Subject:    output.BuildHealthSubject(cfg.NATS.SubjectPrefix, cfg.App.InstanceID),
			InstanceID: cfg.App.InstanceID,
			Version:    appVersion,
			Interval:   cfg.Health.Interval(),
			Logger:     logger.With("component", "health"),
			StatsFunc: func() output.HealthStats {
				return output.HealthStats{
					NATSConnected: natsConn.IsConnected(),
					Devices:       output.DeviceHealthFrom(svc.Stats(), time.Now()),
				}
			},
		})
		health.Start()
	}

	logger.Info("SerialBridge started successfully",
		"instance", cfg.App.InstanceID,
		"http_port", cfg.HTTP.Port,
		"nats", natsConn != nil)

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down gracefully...")

	if natsServer != nil {
		natsServer.Stop()
	}
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP API server", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error closing devices", "error", err)
	}
	if health != nil {
		health.Stop()
	}
	if events != nil {
		events.PublishServiceStop(sig.String())
	}
	if natsConn != nil {
		natsConn.Close()
	}

	logger.Info("SerialBridge stopped")
	return nil
}

// serviceConfig maps the file configuration onto the service tunables
func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		Bridge: bridge.Config{
			QueueCapacity:        cfg.Bridge.QueueCapacity,
			BufferSize:           cfg.Bridge.BufferSize,
			PollInterval:         cfg.Bridge.PollInterval(),
			ErrorBackoff:         cfg.Bridge.ErrorBackoff(),
			CloseGrace:           cfg.Bridge.CloseGrace(),
			MaxConsecutiveErrors: cfg.Bridge.MaxConsecutiveErrors,
		},
		UDPEnabled: cfg.UDP.IsEnabled(),
		UDP: bridge.UDPConfig{
			Host:     cfg.UDP.Host,
			PortMin:  cfg.UDP.PortMin,
			PortMax:  cfg.UDP.PortMax,
			Attempts: cfg.UDP.BindAttempts,
		},
		BaudRates:        cfg.Detection.BaudRates,
		DetectionTimeout: cfg.Detection.DetectionTimeout(),
		MinBytesForValid: cfg.Detection.MinBytesForValid,
	}
}

func httpConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{
		Port:     cfg.HTTP.Port,
		Username: cfg.HTTP.Username,
		Password: cfg.HTTP.Password,
	}
}
