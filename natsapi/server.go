// Package natsapi serves list, open, close and write as NATS request-reply
// subjects. Read is streaming and stays on the HTTP transport.
package natsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"serialbridge/api"
	"serialbridge/service"
)

// Operations served, appended to the subject prefix.
const (
	OpList  = "list"
	OpOpen  = "open"
	OpClose = "close"
	OpWrite = "write"
)

// QueueGroup lets several instances share the request subjects.
const QueueGroup = "serialbridge"

// DefaultRequestTimeout bounds one request, including autobaud and a write
// stalled by backpressure.
const DefaultRequestTimeout = 30 * time.Second

// Service is the subset of operations served over NATS.
type Service interface {
	List(ctx context.Context) ([]api.Serial, error)
	Open(ctx context.Context, req api.OpenRequest) (api.Serial, error)
	Close(ctx context.Context, device string) error
	Write(ctx context.Context, device string, data []byte) error
}

// Reply is the body of every response.
type Reply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Subject returns the request subject of op under prefix.
func Subject(prefix, op string) string {
	return prefix + "." + op
}

// Server subscribes the operations on a NATS connection.
type Server struct {
	conn    *nats.Conn
	prefix  string
	service Service
	timeout time.Duration
	logger  *slog.Logger

	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server for svc. Call Start to subscribe.
func NewServer(conn *nats.Conn, prefix string, svc Service, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		conn:    conn,
		prefix:  prefix,
		service: svc,
		timeout: DefaultRequestTimeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes every operation in the shared queue group.
func (s *Server) Start() error {
	for _, op := range []string{OpList, OpOpen, OpClose, OpWrite} {
		subject := Subject(s.prefix, op)
		sub, err := s.conn.QueueSubscribe(subject, QueueGroup, s.handler(op))
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("failed to subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("NATS API started", "prefix", s.prefix, "queue", QueueGroup)
	return nil
}

// Stop unsubscribes and waits for in-flight requests.
func (s *Server) Stop() {
	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
	s.logger.Info("NATS API stopped")
}

func (s *Server) unsubscribe() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("Unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	s.subs = nil
}

// handler serves each request on its own goroutine; a write stalled by a
// full queue must not hold up other requests on the subscription.
func (s *Server) handler(op string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
			defer cancel()

			reply := s.dispatch(ctx, op, msg.Data)
			data, err := json.Marshal(reply)
			if err != nil {
				s.logger.Error("Failed to marshal reply", "op", op, "error", err)
				return
			}
			if msg.Reply == "" {
				return
			}
			if err := msg.Respond(data); err != nil {
				s.logger.Warn("Failed to send reply", "op", op, "error", err)
			}
		}()
	}
}

// dispatch decodes one request and runs the operation.
func (s *Server) dispatch(ctx context.Context, op string, data []byte) Reply {
	result, err := s.call(ctx, op, data)
	if err != nil {
		s.logger.Debug("NATS request failed", "op", op, "error", err)
		return Reply{Error: err.Error(), Code: service.Code(err)}
	}
	return Reply{OK: true, Result: result}
}

func (s *Server) call(ctx context.Context, op string, data []byte) (any, error) {
	switch op {
	case OpList:
		serials, err := s.service.List(ctx)
		if err != nil {
			return nil, err
		}
		return api.ListResponse{Serials: serials}, nil

	case OpOpen:
		var req api.OpenRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return s.service.Open(ctx, req)

	case OpClose:
		var req api.CloseRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, s.service.Close(ctx, req.Device)

	case OpWrite:
		var req api.WriteRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, s.service.Write(ctx, req.Device, req.Data)

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", service.ErrInvalidArgument, op)
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", service.ErrInvalidArgument, err)
	}
	return nil
}
