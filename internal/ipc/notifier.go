package ipc

import (
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

// Notifier delivers user-facing notifications by broadcasting frames to the
// connected UI companions. Broadcasting with no companion connected is not
// an error; the service keeps enforcing regardless of whether anyone sees
// the message.
type Notifier struct {
	server *Server
	logger *zap.Logger
}

func NewNotifier(server *Server, logger *zap.Logger) *Notifier {
	return &Notifier{server: server, logger: logger}
}

func (n *Notifier) Notify(title, body string) error {
	n.broadcast(domain.Frame{
		Command: domain.CmdNotify,
		Payload: map[string]interface{}{"title": title, "body": body},
	})
	return nil
}

func (n *Notifier) Countdown(reason string, seconds int) error {
	n.broadcast(domain.Frame{
		Command: domain.CmdCountdown,
		Payload: map[string]interface{}{"reason": reason, "seconds": seconds},
	})
	return nil
}

func (n *Notifier) RequestScreenshot() error {
	n.broadcast(domain.Frame{Command: domain.CmdScreenshot})
	return nil
}

// LockScreen tells every companion to paint its full-screen lock overlay.
func (n *Notifier) LockScreen(message string) {
	n.broadcast(domain.Frame{
		Command: domain.CmdLockScreen,
		Payload: map[string]interface{}{"message": message},
	})
}

func (n *Notifier) broadcast(f domain.Frame) {
	if n.server.ConnectionCount() == 0 {
		n.logger.Debug("no companion connected, frame dropped",
			zap.String("command", f.Command))
		return
	}
	n.server.Broadcast(f)
}
