// Package httpapi serves the serial port operations over HTTP/JSON, with a
// Server-Sent Events stream for reads.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"serialbridge/api"
	"serialbridge/bridge"
	"serialbridge/service"
)

const (
	// DefaultKeepaliveInterval is how often an idle read stream gets a
	// keepalive comment.
	DefaultKeepaliveInterval = 15 * time.Second

	maxBodyBytes = 1 << 20
)

// Service is the set of operations the server exposes.
type Service interface {
	List(ctx context.Context) ([]api.Serial, error)
	Open(ctx context.Context, req api.OpenRequest) (api.Serial, error)
	Close(ctx context.Context, device string) error
	Read(ctx context.Context, device string) (*service.Stream, error)
	Write(ctx context.Context, device string, data []byte) error
	Stats() []bridge.DeviceStats
}

// Config contains HTTP server configuration
type Config struct {
	Port     int
	Username string // Basic auth, enabled when both are set
	Password string
}

// Server provides the HTTP API
type Server struct {
	config    Config
	service   Service
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	keepalive time.Duration
	streams   atomic.Int64
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewServer creates a new HTTP API server. metrics may be nil.
func NewServer(cfg Config, svc Service, metrics http.Handler, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:    cfg,
		service:   svc,
		metrics:   metrics,
		logger:    logger,
		keepalive: DefaultKeepaliveInterval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handler returns the routed handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/serials", s.handleList)
	mux.HandleFunc("POST /api/serials/open", s.handleOpen)
	mux.HandleFunc("POST /api/serials/close", s.handleClose)
	mux.HandleFunc("GET /api/serials/read", s.handleRead)
	mux.HandleFunc("POST /api/serials/write", s.handleWrite)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	if s.config.Username != "" && s.config.Password != "" {
		s.logger.Info("Basic auth enabled for HTTP API")
		return s.basicAuth(mux)
	}
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP API server", "port", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP API server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server. Open read streams are ended first, then
// in-flight requests get until ctx is done to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	if s.server != nil {
		s.logger.Info("Stopping HTTP API server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// basicAuth wraps a handler with HTTP Basic Authentication
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.config.Username || pass != s.config.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="serialbridge"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch service.Code(err) {
	case service.CodeInvalidArgument:
		return http.StatusBadRequest
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeAlreadyOpen:
		return http.StatusConflict
	case service.CodeDeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  service.Code(err),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", service.ErrInvalidArgument, err)
	}
	return nil
}

// handleList returns the host's serial ports
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	serials, err := s.service.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ListResponse{Serials: serials})
}

// handleOpen opens a port
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req api.OpenRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	serial, err := s.service.Open(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, serial)
}

// handleClose closes a port
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req api.CloseRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.service.Close(r.Context(), req.Device); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// handleWrite queues bytes for a port
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req api.WriteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.service.Write(r.Context(), req.Device, req.Data); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// handleRead streams a port's bytes as Server-Sent Events. Each "data"
// event carries one base64 buffer; a "closed" event ends the stream when the
// device closes.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	device := r.URL.Query().Get("device")
	if device == "" {
		s.writeError(w, fmt.Errorf("%w: device parameter required", service.ErrInvalidArgument))
		return
	}

	stream, err := s.service.Read(r.Context(), device)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// End the stream on client disconnect or server stop
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.streams.Add(1)
	defer s.streams.Add(-1)
	s.logger.Debug("Read stream attached", "device", stream.Device(), "remote", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	hello, _ := json.Marshal(map[string]string{"device": device})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
	flusher.Flush()

	for {
		recvCtx, recvCancel := context.WithTimeout(ctx, s.keepalive)
		buf, err := stream.Recv(recvCtx)
		recvCancel()

		switch {
		case err == nil:
			fmt.Fprintf(w, "event: data\ndata: %s\n\n", base64.StdEncoding.EncodeToString(buf))
			flusher.Flush()

		case errors.Is(err, io.EOF):
			fmt.Fprint(w, "event: closed\ndata: {}\n\n")
			flusher.Flush()
			return

		case ctx.Err() != nil:
			return

		case errors.Is(err, context.DeadlineExceeded):
			fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()

		default:
			s.logger.Warn("Read stream failed", "device", stream.Device(), "error", err)
			return
		}
	}
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"open_devices": len(s.service.Stats()),
		"sse_clients":  s.streams.Load(),
	}
	writeJSON(w, http.StatusOK, health)
}

// handleStats returns device statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.service.Stats()
	if stats == nil {
		stats = []bridge.DeviceStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": stats,
	})
}
