// Package daemon wires the agent runtime: the enforcement loops and the
// companion supervisor.
package daemon

import (
	"time"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

const (
	// relaunchWindow bounds the period over which companion restarts count
	// toward discipline.
	relaunchWindow = time.Hour
	// relaunchLimit is how many restarts within the window are tolerated
	// before the session gets locked.
	relaunchLimit = 3
)

// Supervisor keeps the UI companion alive in the interactive session. Its
// only job is relaunching the helper when it dies, with an escalation when
// someone keeps killing it.
type Supervisor struct {
	launcher domain.CompanionLauncher
	session  domain.SessionController
	logger   *zap.Logger

	relaunches []time.Time
	now        func() time.Time
}

// NewSupervisor creates a supervisor.
func NewSupervisor(launcher domain.CompanionLauncher, session domain.SessionController, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		session:  session,
		logger:   logger,
		now:      time.Now,
	}
}

// Check runs one supervision pass. No interactive session means nothing to
// supervise; a healthy companion means nothing to do.
func (s *Supervisor) Check() {
	user, err := s.session.ActiveSessionUser()
	if err != nil {
		s.logger.Debug("failed to resolve active session", zap.Error(err))
		return
	}
	if user == "" {
		return
	}

	running, err := s.launcher.IsCompanionRunning()
	if err != nil {
		s.logger.Warn("companion liveness check failed", zap.Error(err))
		return
	}
	if running {
		return
	}

	s.logger.Info("companion not running, relaunching", zap.String("user", user))
	if err := s.launcher.Launch(user); err != nil {
		s.logger.Error("failed to relaunch companion", zap.Error(err))
		return
	}

	s.recordRelaunch()
}

// recordRelaunch tracks restart frequency. Repeated kills inside the window
// escalate to a session lock, so killing the helper buys nothing.
func (s *Supervisor) recordRelaunch() {
	now := s.now()
	cutoff := now.Add(-relaunchWindow)

	kept := s.relaunches[:0]
	for _, t := range s.relaunches {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.relaunches = append(kept, now)

	if len(s.relaunches) > relaunchLimit {
		s.logger.Warn("companion killed repeatedly, locking session",
			zap.Int("relaunches", len(s.relaunches)))
		if err := s.session.Lock(); err != nil {
			s.logger.Error("failed to lock session", zap.Error(err))
		}
		s.relaunches = s.relaunches[:0]
	}
}
