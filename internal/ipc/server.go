package ipc

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

const (
	// HeartbeatInterval is how often the server pings all companions.
	HeartbeatInterval = 30 * time.Second
	// HeartbeatTimeout declares a companion dead when no pong arrives.
	HeartbeatTimeout = 90 * time.Second
)

// Handler receives inbound frames from companions.
type Handler func(f domain.Frame)

// Server accepts companion connections, broadcasts outbound commands to all
// of them, and tracks liveness via ping/pong. Connection loss is detected by
// read errors; the accept loop keeps running for reconnects.
type Server struct {
	listener net.Listener
	handler  Handler
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]time.Time // last pong (or connect) per companion
}

// NewServer creates a server over the given listener.
func NewServer(listener net.Listener, handler Handler, logger *zap.Logger) *Server {
	return &Server{
		listener: listener,
		handler:  handler,
		logger:   logger,
		conns:    make(map[net.Conn]time.Time),
	}
}

// Run blocks, accepting connections until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	go s.heartbeatLoop(ctx)

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("ipc accept failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.conns[conn] = time.Now()
		n := len(s.conns)
		s.mu.Unlock()
		s.logger.Info("companion connected", zap.Int("connections", n))

		go s.readLoop(conn)
	}
}

// Broadcast queues one frame to every connected companion. Write failures
// drop the companion; the supervisor respawns it.
func (s *Server) Broadcast(f domain.Frame) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := WriteFrame(c, f); err != nil {
			s.logger.Warn("ipc write failed, dropping companion", zap.Error(err))
			s.drop(c)
		}
	}
}

// ConnectionCount returns the number of live companions.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) readLoop(conn net.Conn) {
	defer s.drop(conn)

	for {
		f, err := ReadFrame(conn)
		if err != nil {
			return
		}
		if f.Command == domain.CmdPong {
			s.mu.Lock()
			if _, ok := s.conns[conn]; ok {
				s.conns[conn] = time.Now()
			}
			s.mu.Unlock()
			continue
		}
		if s.handler != nil {
			s.handler(f)
		}
	}
}

// heartbeatLoop pings all companions and evicts the ones whose last pong is
// older than the timeout.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Broadcast(domain.Frame{Command: domain.CmdPing})

			s.mu.Lock()
			var dead []net.Conn
			for c, last := range s.conns {
				if time.Since(last) > HeartbeatTimeout {
					dead = append(dead, c)
				}
			}
			s.mu.Unlock()

			for _, c := range dead {
				s.logger.Info("companion missed heartbeat, dropping")
				s.drop(c)
			}
		}
	}
}

func (s *Server) drop(conn net.Conn) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
}
