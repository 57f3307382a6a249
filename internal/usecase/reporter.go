package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

var eventRetryDelay = 2 * time.Second

// Reporter periodically drains the monitor's pending usage deltas and
// submits them as a batch. The drain is the single commit point: a failed
// submit refunds every entry so the next cycle retries the same seconds, and
// no second is ever reported twice.
type Reporter struct {
	backendClient domain.BackendClient
	monitor       *AppMonitor
	clock         Clock
	notifier      domain.Notifier
	logger        *zap.Logger

	onCommand func(domain.BackendCommand)

	mu         sync.Mutex
	authFailed bool
}

// NewReporter creates a reporter. onCommand receives every operator command
// returned in a report response; it may be nil.
func NewReporter(client domain.BackendClient, monitor *AppMonitor, clock Clock, notifier domain.Notifier, onCommand func(domain.BackendCommand), logger *zap.Logger) *Reporter {
	return &Reporter{
		backendClient: client,
		monitor:       monitor,
		clock:         clock,
		notifier:      notifier,
		onCommand:     onCommand,
		logger:        logger,
	}
}

// HaltNetwork stops all reporting after a credential rejection.
func (r *Reporter) HaltNetwork() {
	r.mu.Lock()
	r.authFailed = true
	r.mu.Unlock()
}

// Tick runs one report cycle.
func (r *Reporter) Tick(ctx context.Context) {
	r.mu.Lock()
	halted := r.authFailed
	r.mu.Unlock()
	if halted {
		return
	}

	entries := r.monitor.DrainPending(r.clock.Now())
	if len(entries) == 0 {
		return
	}

	commands, err := r.backendClient.ReportUsage(ctx, entries)
	if err != nil {
		r.monitor.RefundPending(entries)
		r.logger.Warn("usage report failed, entries refunded",
			zap.Int("entries", len(entries)), zap.Error(err))
		return
	}

	r.logger.Debug("usage batch reported", zap.Int("entries", len(entries)))
	for _, cmd := range commands {
		r.handleCommand(cmd)
	}
}

// handleCommand forwards report-response commands to the companion.
func (r *Reporter) handleCommand(cmd domain.BackendCommand) {
	switch cmd.Type {
	case "screenshot":
		if err := r.notifier.RequestScreenshot(); err != nil {
			r.logger.Warn("screenshot request not delivered", zap.Error(err))
		}
	case "message":
		if err := r.notifier.Notify("Message", cmd.Message); err != nil {
			r.logger.Debug("message not delivered", zap.Error(err))
		}
	default:
		if r.onCommand != nil {
			r.onCommand(cmd)
			return
		}
		r.logger.Debug("unhandled report command", zap.String("type", cmd.Type))
	}
}

// ReportEvent sends a single critical event immediately, outside the batch
// cadence, retrying once on transient failure.
func (r *Reporter) ReportEvent(ctx context.Context, ev domain.CriticalEvent) error {
	r.mu.Lock()
	halted := r.authFailed
	r.mu.Unlock()
	if halted {
		return errors.New("reporting halted")
	}

	err := r.backendClient.ReportEvent(ctx, ev)
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(eventRetryDelay):
	}
	return r.backendClient.ReportEvent(ctx, ev)
}
