package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/guardline/agent/internal/domain"
)

// SessionControllerImpl drives the interactive session through standard
// system tools, so the privileged service needs no desktop access itself.
type SessionControllerImpl struct {
	runner Runner
}

// NewSessionController creates a session controller.
func NewSessionController(runner Runner) *SessionControllerImpl {
	return &SessionControllerImpl{runner: runner}
}

// Lock locks the interactive session immediately.
func (s *SessionControllerImpl) Lock() error {
	_, err := s.runner.Run(context.Background(), "rundll32.exe", "user32.dll,LockWorkStation")
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}
	return nil
}

// ScheduleShutdown forces a shutdown after the countdown.
func (s *SessionControllerImpl) ScheduleShutdown(seconds int) error {
	_, err := s.runner.Run(context.Background(), "shutdown",
		"/s", "/f", "/t", strconv.Itoa(seconds),
		"/c", "Screen time is over for today")
	if err != nil {
		return fmt.Errorf("failed to schedule shutdown: %w", err)
	}
	return nil
}

// CancelShutdown aborts a previously scheduled shutdown. A missing pending
// shutdown is not an error.
func (s *SessionControllerImpl) CancelShutdown() error {
	_, err := s.runner.Run(context.Background(), "shutdown", "/a")
	if err != nil && !strings.Contains(err.Error(), "1116") {
		return err
	}
	return nil
}

// ActiveSessionUser parses `query session` output for the active console
// session's username. Returns "" when nobody is logged in.
func (s *SessionControllerImpl) ActiveSessionUser() (string, error) {
	out, err := s.runner.Run(context.Background(), "query", "session")
	if err != nil {
		return "", fmt.Errorf("failed to query sessions: %w", err)
	}
	return parseActiveSession(out), nil
}

// parseActiveSession scans query-session rows for state "Active" and returns
// the username column. The active row is marked with a leading '>'.
func parseActiveSession(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), ">"))
		// SESSIONNAME USERNAME ID STATE ...
		if len(fields) < 4 {
			continue
		}
		if !strings.EqualFold(fields[3], "Active") {
			continue
		}
		// Second column is the username; rows without one collapse to 3+
		// fields where column 2 is the numeric id.
		if _, err := strconv.Atoi(fields[1]); err == nil {
			continue
		}
		return fields[1]
	}
	return ""
}

// Ensure SessionControllerImpl implements domain.SessionController.
var _ domain.SessionController = (*SessionControllerImpl)(nil)
