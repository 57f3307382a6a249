package daemon

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/backend"
	"github.com/guardline/agent/internal/domain"
	"github.com/guardline/agent/internal/ipc"
	"github.com/guardline/agent/internal/usecase"
)

// vpnAlertGap throttles repeated VPN detection reports for the same tools.
const vpnAlertGap = time.Hour

// AgentConfig holds the runtime loop intervals.
type AgentConfig struct {
	MonitorInterval    time.Duration
	EnforceInterval    time.Duration
	ReportInterval     time.Duration
	SupervisorInterval time.Duration
	VPNScanInterval    time.Duration
}

// Agent is the privileged service runtime. It owns every loop: usage
// sampling, rule enforcement, batch reporting, companion supervision, VPN
// scanning, plus the IPC server and the push channel. Run blocks until the
// context is canceled and flushes pending usage on the way out.
type Agent struct {
	config     AgentConfig
	monitor    *usecase.AppMonitor
	enforcer   *usecase.RuleEnforcer
	reporter   *usecase.Reporter
	supervisor *Supervisor
	vpn        domain.VPNDetector
	ipcServer  *ipc.Server
	push       *backend.PushChannel
	clock      usecase.Clock
	logger     *zap.Logger

	mu           sync.Mutex
	lastVPNAlert time.Time
}

// NewAgent assembles the runtime from already-constructed parts.
func NewAgent(
	config AgentConfig,
	monitor *usecase.AppMonitor,
	enforcer *usecase.RuleEnforcer,
	reporter *usecase.Reporter,
	supervisor *Supervisor,
	vpn domain.VPNDetector,
	ipcServer *ipc.Server,
	push *backend.PushChannel,
	clock usecase.Clock,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		config:     config,
		monitor:    monitor,
		enforcer:   enforcer,
		reporter:   reporter,
		supervisor: supervisor,
		vpn:        vpn,
		ipcServer:  ipcServer,
		push:       push,
		clock:      clock,
		logger:     logger,
	}
}

// Run starts every loop and blocks until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent runtime starting")

	go func() {
		if err := a.ipcServer.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("ipc server stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := a.push.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("push channel stopped", zap.Error(err))
		}
	}()

	// First cycle immediately: enforcement must hold before the first tick
	// interval elapses.
	a.monitor.Tick()
	a.enforcer.Tick(ctx)
	a.supervisor.Check()

	monitorTicker := time.NewTicker(a.config.MonitorInterval)
	enforceTicker := time.NewTicker(a.config.EnforceInterval)
	reportTicker := time.NewTicker(a.config.ReportInterval)
	supervisorTicker := time.NewTicker(a.config.SupervisorInterval)
	vpnTicker := time.NewTicker(a.config.VPNScanInterval)

	defer func() {
		monitorTicker.Stop()
		enforceTicker.Stop()
		reportTicker.Stop()
		supervisorTicker.Stop()
		vpnTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent runtime stopping, flushing usage")
			a.monitor.Flush()
			return ctx.Err()

		case <-monitorTicker.C:
			a.monitor.Tick()

		case <-enforceTicker.C:
			a.enforcer.Tick(ctx)

		case <-reportTicker.C:
			a.reporter.Tick(ctx)

		case <-supervisorTicker.C:
			a.supervisor.Check()

		case <-vpnTicker.C:
			a.scanVPN(ctx)
		}
	}
}

// scanVPN reports detected circumvention tools. Detection is informational:
// the tool keeps running, the parent decides what to do about it.
func (a *Agent) scanVPN(ctx context.Context) {
	detected, err := a.vpn.Scan()
	if err != nil {
		a.logger.Debug("vpn scan failed", zap.Error(err))
		return
	}
	if len(detected) == 0 {
		return
	}

	a.mu.Lock()
	throttled := time.Since(a.lastVPNAlert) < vpnAlertGap
	if !throttled {
		a.lastVPNAlert = time.Now()
	}
	a.mu.Unlock()
	if throttled {
		return
	}

	a.logger.Warn("vpn or proxy tools detected", zap.Strings("tools", detected))
	err = a.reporter.ReportEvent(ctx, domain.CriticalEvent{
		Type:      domain.EventVPNDetected,
		Message:   strings.Join(detected, ", "),
		Timestamp: a.clock.Now().Unix(),
	})
	if err != nil {
		a.logger.Warn("failed to report vpn detection", zap.Error(err))
	}
}
