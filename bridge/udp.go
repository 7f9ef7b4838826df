package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
)

// Side-channel port range: the IANA dynamic/private range.
const (
	UDPPortMin          = 49152
	UDPPortMax          = 65535
	DefaultBindAttempts = 16

	maxDatagramSize = 65535
)

// UDPConfig controls side-channel binding.
type UDPConfig struct {
	Host     string
	PortMin  int
	PortMax  int
	Attempts int
}

// ListenUDP binds a socket on a random port in [PortMin, PortMax], retrying
// on a different port up to Attempts times.
func ListenUDP(cfg UDPConfig) (*net.UDPConn, int, error) {
	portMin, portMax := cfg.PortMin, cfg.PortMax
	if portMin <= 0 {
		portMin = UDPPortMin
	}
	if portMax <= 0 || portMax > UDPPortMax {
		portMax = UDPPortMax
	}
	if portMax < portMin {
		return nil, -1, fmt.Errorf("invalid UDP port range %d-%d", portMin, portMax)
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultBindAttempts
	}

	var ip net.IP
	if cfg.Host != "" {
		ip = net.ParseIP(cfg.Host)
		if ip == nil {
			return nil, -1, fmt.Errorf("invalid UDP bind host %q", cfg.Host)
		}
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		port := portMin + rand.IntN(portMax-portMin+1)
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, port, nil
		}
		lastErr = err
	}

	return nil, -1, fmt.Errorf("failed to bind UDP side-channel after %d attempts: %w", attempts, lastErr)
}

// SideChannel mirrors a device's queues over UDP. Every datagram received is
// written to the device and makes its sender the peer; outbound buffers go
// to the most recent peer. Until a peer is known the outbound queue is left
// to other readers.
type SideChannel struct {
	conn     *net.UDPConn
	inbound  *Queue
	outbound *Queue
	logger   *slog.Logger

	mu        sync.RWMutex
	peer      *net.UDPAddr
	peerKnown chan struct{}
	peerOnce  sync.Once

	datagramsIn  atomic.Int64
	datagramsOut atomic.Int64
}

func newSideChannel(conn *net.UDPConn, inbound, outbound *Queue, logger *slog.Logger) *SideChannel {
	return &SideChannel{
		conn:      conn,
		inbound:   inbound,
		outbound:  outbound,
		logger:    logger,
		peerKnown: make(chan struct{}),
	}
}

// Counts returns the datagrams received from and sent to peers.
func (s *SideChannel) Counts() (in, out int64) {
	return s.datagramsIn.Load(), s.datagramsOut.Load()
}

// Peer returns the current peer, or nil before the first datagram.
func (s *SideChannel) Peer() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer
}

func (s *SideChannel) setPeer(addr *net.UDPAddr) {
	s.mu.Lock()
	changed := s.peer == nil || s.peer.String() != addr.String()
	s.peer = addr
	s.mu.Unlock()

	if changed {
		s.logger.Info("UDP peer attached", "peer", addr.String())
	}
	s.peerOnce.Do(func() { close(s.peerKnown) })
}

func (s *SideChannel) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go s.receiveLoop(ctx, wg)
	go s.sendLoop(ctx, wg)
}

// receiveLoop copies datagrams onto the inbound queue.
func (s *SideChannel) receiveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("UDP receive error", "error", err)
			continue
		}

		s.setPeer(addr)
		if n == 0 {
			continue
		}
		s.datagramsIn.Add(1)

		if err := s.inbound.Send(ctx, bytes.Clone(buf[:n])); err != nil {
			return
		}
	}
}

// sendLoop forwards outbound buffers to the peer once one is known.
func (s *SideChannel) sendLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	select {
	case <-s.peerKnown:
	case <-ctx.Done():
		return
	}

	for {
		buf, err := s.outbound.Receive(ctx)
		if err != nil {
			return
		}

		if _, err := s.conn.WriteToUDP(buf, s.Peer()); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("UDP send error", "error", err)
			continue
		}
		s.datagramsOut.Add(1)
	}
}

// Close closes the socket, which unblocks receiveLoop.
func (s *SideChannel) Close() error {
	return s.conn.Close()
}
