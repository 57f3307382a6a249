package ipc

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

// ReconnectDelay is the fixed retry backoff after a lost connection.
const ReconnectDelay = 3 * time.Second

// DialFunc lets tests inject a transport.
type DialFunc func() (net.Conn, error)

// Client is the companion side of the transport. It keeps a single
// connection, answers pings with pongs automatically, and reconnects with a
// fixed delay on loss.
type Client struct {
	dial    DialFunc
	handler Handler
	logger  *zap.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a client using the platform dialer.
func NewClient(handler Handler, logger *zap.Logger) *Client {
	return NewClientWithDialer(Dial, handler, logger)
}

// NewClientWithDialer creates a client with a custom dialer (for tests).
func NewClientWithDialer(dial DialFunc, handler Handler, logger *zap.Logger) *Client {
	return &Client{dial: dial, handler: handler, logger: logger}
}

// Run blocks, maintaining the connection until the context is canceled.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := c.dial()
		if err != nil {
			c.logger.Debug("ipc dial failed, retrying", zap.Error(err))
			if !sleepCtx(ctx, ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.logger.Info("connected to service")

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if !sleepCtx(ctx, ReconnectDelay) {
			return ctx.Err()
		}
	}
}

// Send writes one frame to the service. Fails when disconnected.
func (c *Client) Send(f domain.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return WriteFrame(conn, f)
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		f, err := ReadFrame(conn)
		if err != nil {
			c.logger.Info("connection to service lost", zap.Error(err))
			return
		}

		if f.Command == domain.CmdPing {
			if err := WriteFrame(conn, domain.Frame{Command: domain.CmdPong}); err != nil {
				return
			}
			continue
		}
		if c.handler != nil {
			c.handler(f)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
