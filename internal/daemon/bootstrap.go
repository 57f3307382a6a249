package daemon

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/backend"
	"github.com/guardline/agent/internal/clock"
	"github.com/guardline/agent/internal/domain"
	"github.com/guardline/agent/internal/infra"
	"github.com/guardline/agent/internal/ipc"
	"github.com/guardline/agent/internal/usecase"
)

// Runtime bundles the assembled agent with the resources that need explicit
// teardown.
type Runtime struct {
	Agent   *Agent
	Secrets domain.SecretStore
	close   func()
}

// Close releases held resources. Safe to call once Run has returned.
func (r *Runtime) Close() {
	if r.close != nil {
		r.close()
	}
}

// Build assembles the full service runtime from configuration. Construction
// order matters only for the auth-failure callback, which is wired through
// late-bound pointers because the backend client and its consumers reference
// each other.
func Build(cfg *infra.Config, logger *zap.Logger) (*Runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}

	runner := infra.NewExecRunner()
	pm := infra.NewProcessManager()
	wd := infra.NewWindowDetector(runner)
	detector := infra.NewAppDetector(pm, wd)
	session := infra.NewSessionController(runner)
	hosts := infra.NewHostsManager()
	vpn := infra.NewVPNDetector(pm)
	launcher := infra.NewCompanionLauncher(runner, pm, cfg.CompanionPath, logger)

	bootEpoch, hostID := bootIdentity(logger)
	cache, err := infra.NewFileCacheStore(cfg.DataDir, bootEpoch, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	key, err := infra.NewMachineKeyProvider(cfg.DataDir, logger).EnsureKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	secrets, err := infra.NewSecretStore(cfg.DataDir, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}
	creds, err := bootstrapCredentials(secrets, cfg)
	if err != nil {
		secrets.Close()
		return nil, err
	}

	trusted := clock.New(logger)
	monitor := usecase.NewAppMonitor(detector, cache, trusted.DateString, cfg.FlushInterval, logger)
	firewall := infra.NewFirewallManager(runner, backendHost(cfg.BackendURL), logger)

	// Late-bound so the auth-failure callback can reach consumers that are
	// constructed after the client.
	var enforcer *usecase.RuleEnforcer
	var reporter *usecase.Reporter
	onAuthFailure := func() {
		logger.Error("backend rejected device credentials, halting network activity")
		if enforcer != nil {
			enforcer.HaltNetwork()
		}
		if reporter != nil {
			reporter.HaltNetwork()
		}
	}
	client := backend.NewClient(cfg.BackendURL, creds, onAuthFailure, logger)

	listener, err := ipc.Listen()
	if err != nil {
		secrets.Close()
		return nil, fmt.Errorf("failed to open ipc endpoint: %w", err)
	}
	server := ipc.NewServer(listener, companionFrameHandler(logger), logger)
	notifier := ipc.NewNotifier(server, logger)

	handleCommand := func(cmd domain.BackendCommand) {
		dispatchCommand(cmd, session, notifier, secrets, func() {
			if enforcer != nil {
				enforcer.RequestRefresh()
			}
		}, logger)
	}
	push := backend.NewPushChannel(cfg.PushURL, creds, handleCommand, func() {
		// Reconnect means missed pushes: refetch immediately.
		if enforcer != nil {
			enforcer.RequestRefresh()
		}
	}, logger)

	enforcer = usecase.NewRuleEnforcer(usecase.EnforcerDeps{
		Backend:  client,
		Cache:    cache,
		Clock:    trusted,
		Monitor:  monitor,
		Procs:    pm,
		Session:  session,
		Firewall: firewall,
		Hosts:    hosts,
		Notifier: notifier,
		Logger:   logger,
	}, cfg.FetchIntervalShort, cfg.FetchIntervalLong, push.IsConnected)
	reporter = usecase.NewReporter(client, monitor, trusted, notifier, handleCommand, logger)
	supervisor := NewSupervisor(launcher, session, logger)

	agent := NewAgent(AgentConfig{
		MonitorInterval:    cfg.MonitorInterval,
		EnforceInterval:    cfg.EnforceInterval,
		ReportInterval:     cfg.ReportInterval,
		SupervisorInterval: cfg.SupervisorInterval,
		VPNScanInterval:    cfg.VPNScanInterval,
	}, monitor, enforcer, reporter, supervisor, vpn, server, push, trusted, logger)

	return &Runtime{
		Agent:   agent,
		Secrets: secrets,
		close: func() {
			secrets.Close()
			listener.Close()
		},
	}, nil
}

// bootstrapCredentials moves plaintext pairing values from the config file
// into the encrypted store on first start, then always reads from the store.
func bootstrapCredentials(secrets domain.SecretStore, cfg *infra.Config) (backend.Credentials, error) {
	id, err := secrets.GetSecret(infra.SecretDeviceID)
	if err != nil || id == "" {
		if cfg.DeviceID == "" {
			return backend.Credentials{}, fmt.Errorf("device not paired: no device_id in store or config")
		}
		if err := secrets.SetSecret(infra.SecretDeviceID, cfg.DeviceID); err != nil {
			return backend.Credentials{}, fmt.Errorf("failed to store device id: %w", err)
		}
		if err := secrets.SetSecret(infra.SecretDeviceToken, cfg.DeviceToken); err != nil {
			return backend.Credentials{}, fmt.Errorf("failed to store device token: %w", err)
		}
		id = cfg.DeviceID
	}
	token, err := secrets.GetSecret(infra.SecretDeviceToken)
	if err != nil {
		return backend.Credentials{}, fmt.Errorf("failed to read device token: %w", err)
	}
	return backend.Credentials{DeviceID: id, Token: token}, nil
}

// dispatchCommand applies an operator command, pushed or returned in a
// report response.
func dispatchCommand(
	cmd domain.BackendCommand,
	session domain.SessionController,
	notifier *ipc.Notifier,
	secrets domain.SecretStore,
	refresh func(),
	logger *zap.Logger,
) {
	switch cmd.Type {
	case "lock":
		notifier.LockScreen("Device locked by your parent")
		if err := session.Lock(); err != nil {
			logger.Warn("failed to lock session", zap.Error(err))
		}
	case "unlock", "refresh_rules":
		refresh()
	case "screenshot":
		if err := notifier.RequestScreenshot(); err != nil {
			logger.Warn("screenshot request not delivered", zap.Error(err))
		}
	case "message":
		if err := notifier.Notify("Message", cmd.Message); err != nil {
			logger.Debug("message not delivered", zap.Error(err))
		}
	case "reset_pin":
		if err := secrets.SetSecret(infra.SecretParentPIN, cmd.PIN); err != nil {
			logger.Error("failed to store new pin", zap.Error(err))
		} else {
			logger.Info("parent pin updated")
		}
	default:
		logger.Debug("unknown backend command", zap.String("type", cmd.Type))
	}
}

// companionFrameHandler processes frames sent by the UI companion.
func companionFrameHandler(logger *zap.Logger) ipc.Handler {
	return func(f domain.Frame) {
		switch f.Command {
		case domain.CmdScreenshotDone:
			path, _ := f.Payload["path"].(string)
			logger.Info("screenshot captured", zap.String("path", path))
		default:
			logger.Debug("unhandled companion frame", zap.String("command", f.Command))
		}
	}
}

// bootIdentity resolves the boot epoch and host id pair used to validate the
// usage cache across restarts. Failures degrade to zero values, which the
// cache treats as a cold start.
func bootIdentity(logger *zap.Logger) (int64, string) {
	var epoch int64
	if bt, err := host.BootTime(); err == nil {
		epoch = int64(bt)
	} else {
		logger.Warn("failed to read boot time", zap.Error(err))
	}
	id, err := host.HostID()
	if err != nil {
		logger.Warn("failed to read host id", zap.Error(err))
	}
	return epoch, id
}

func backendHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}

// StartDetached re-executes the current binary with the hidden run command,
// fully detached so the parent console can exit.
func StartDetached(args ...string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(executable, append([]string{"run"}, args...)...)
	cmd.SysProcAttr = detachedProcAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}
