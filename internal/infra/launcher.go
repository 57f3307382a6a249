package infra

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

// companionTaskName is the one-shot scheduled task used to start the
// companion inside the interactive session.
const companionTaskName = "GuardlineHelperLaunch"

// CompanionLauncherImpl implements domain.CompanionLauncher.
//
// The service runs in session 0 and must never run the UI binary under the
// service account. A one-shot scheduled task registered for the logged-on
// user (/ru <user> /it) makes the task scheduler perform the token duplication
// into the interactive session.
type CompanionLauncherImpl struct {
	runner        Runner
	pm            domain.ProcessManager
	companionPath string
	companionName string
	logger        *zap.Logger
}

// NewCompanionLauncher creates a launcher for the companion binary.
func NewCompanionLauncher(runner Runner, pm domain.ProcessManager, companionPath string, logger *zap.Logger) *CompanionLauncherImpl {
	name := companionPath
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	return &CompanionLauncherImpl{
		runner:        runner,
		pm:            pm,
		companionPath: companionPath,
		companionName: name,
		logger:        logger,
	}
}

// Launch starts the companion as the given session user via a transient
// scheduled task, then removes the task.
func (l *CompanionLauncherImpl) Launch(user string) error {
	ctx := context.Background()

	// Stale task from a previous crash; removal failure is not fatal.
	_, _ = l.runner.Run(ctx, "schtasks", "/delete", "/tn", companionTaskName, "/f")

	if _, err := l.runner.Run(ctx, "schtasks", "/create",
		"/tn", companionTaskName,
		"/tr", l.companionPath,
		"/sc", "once", "/st", "00:00",
		"/ru", user, "/it", "/f"); err != nil {
		return fmt.Errorf("failed to create launch task: %w", err)
	}

	if _, err := l.runner.Run(ctx, "schtasks", "/run", "/tn", companionTaskName); err != nil {
		return fmt.Errorf("failed to run launch task: %w", err)
	}

	_, _ = l.runner.Run(ctx, "schtasks", "/delete", "/tn", companionTaskName, "/f")

	l.logger.Info("companion launched", zap.String("user", user))
	return nil
}

// IsCompanionRunning reports whether the companion process is alive.
func (l *CompanionLauncherImpl) IsCompanionRunning() (bool, error) {
	procs, err := l.pm.List()
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		if strings.EqualFold(p.Name, l.companionName) {
			return true, nil
		}
	}
	return false, nil
}

// Ensure CompanionLauncherImpl implements domain.CompanionLauncher.
var _ domain.CompanionLauncher = (*CompanionLauncherImpl)(nil)
