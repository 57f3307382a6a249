package backend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

const (
	pushPingInterval = 30 * time.Second
	pushDeadTimeout  = 90 * time.Second
	pushRetryDelay   = 10 * time.Second
)

// Push commands delivered over the live channel.
const (
	PushLockNow      = "LOCK_NOW"
	PushUnlockNow    = "UNLOCK_NOW"
	PushRefreshRules = "REFRESH_RULES"
	PushScreenshot   = "SCREENSHOT_NOW"
	PushResetPIN     = "RESET_PIN" // "RESET_PIN:<n>"
)

// PushChannel maintains the persistent websocket to the backend. Connecting
// (and every reconnect) fires onConnect so the enforcer refetches rules
// immediately instead of waiting out the poll interval.
type PushChannel struct {
	url       string
	creds     Credentials
	onCommand func(domain.BackendCommand)
	onConnect func()
	logger    *zap.Logger

	mu        sync.Mutex
	connected bool
}

// NewPushChannel creates the push channel client.
func NewPushChannel(url string, creds Credentials, onCommand func(domain.BackendCommand), onConnect func(), logger *zap.Logger) *PushChannel {
	return &PushChannel{
		url:       url,
		creds:     creds,
		onCommand: onCommand,
		onConnect: onConnect,
		logger:    logger,
	}
}

// Run blocks, maintaining the connection until the context is canceled.
func (p *PushChannel) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := p.runOnce(ctx)
		p.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("push channel disconnected, retrying", zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pushRetryDelay):
		}
	}
}

// IsConnected reports whether a live connection is up. The enforcer uses
// this to pick the long or short fetch interval.
func (p *PushChannel) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PushChannel) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *PushChannel) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	header := map[string][]string{
		"X-Device-ID":   {p.creds.DeviceID},
		"Authorization": {"Bearer " + p.creds.Token},
	}

	conn, _, err := dialer.DialContext(ctx, p.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	p.setConnected(true)
	p.logger.Info("push channel connected")
	if p.onConnect != nil {
		p.onConnect()
	}

	conn.SetReadDeadline(time.Now().Add(pushDeadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pushDeadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pushPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pushDeadTimeout))
		p.dispatch(strings.TrimSpace(string(data)))
	}
}

// dispatch maps a raw push command to a BackendCommand.
func (p *PushChannel) dispatch(raw string) {
	if raw == "" || p.onCommand == nil {
		return
	}

	var cmd domain.BackendCommand
	switch {
	case raw == PushLockNow:
		cmd = domain.BackendCommand{Type: "lock"}
	case raw == PushUnlockNow:
		cmd = domain.BackendCommand{Type: "unlock"}
	case raw == PushRefreshRules:
		cmd = domain.BackendCommand{Type: "refresh_rules"}
	case raw == PushScreenshot:
		cmd = domain.BackendCommand{Type: "screenshot"}
	case strings.HasPrefix(raw, PushResetPIN+":"):
		cmd = domain.BackendCommand{Type: "reset_pin", PIN: strings.TrimPrefix(raw, PushResetPIN+":")}
	default:
		p.logger.Warn("unknown push command", zap.String("command", raw))
		return
	}
	p.onCommand(cmd)
}
