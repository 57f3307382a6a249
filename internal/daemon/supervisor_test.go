package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubLauncher struct {
	running    bool
	runningErr error
	launches   []string
	launchErr  error
}

func (l *stubLauncher) Launch(user string) error {
	l.launches = append(l.launches, user)
	return l.launchErr
}

func (l *stubLauncher) IsCompanionRunning() (bool, error) { return l.running, l.runningErr }

type stubSession struct {
	user    string
	userErr error
	locks   int
}

func (s *stubSession) Lock() error { s.locks++; return nil }

func (s *stubSession) ScheduleShutdown(seconds int) error { return nil }

func (s *stubSession) CancelShutdown() error { return nil }

func (s *stubSession) ActiveSessionUser() (string, error) { return s.user, s.userErr }

// TestSupervisorCheck_RelaunchesDeadCompanion verifies the basic restart path
func TestSupervisorCheck_RelaunchesDeadCompanion(t *testing.T) {
	launcher := &stubLauncher{}
	session := &stubSession{user: "alice"}
	sup := NewSupervisor(launcher, session, zap.NewNop())

	sup.Check()

	assert.Equal(t, []string{"alice"}, launcher.launches)
	assert.Zero(t, session.locks)
}

// TestSupervisorCheck_NoSessionNoLaunch verifies an empty console is left alone
func TestSupervisorCheck_NoSessionNoLaunch(t *testing.T) {
	launcher := &stubLauncher{}
	sup := NewSupervisor(launcher, &stubSession{user: ""}, zap.NewNop())

	sup.Check()

	assert.Empty(t, launcher.launches)
}

// TestSupervisorCheck_HealthyCompanionUntouched verifies a live helper is not
// launched again
func TestSupervisorCheck_HealthyCompanionUntouched(t *testing.T) {
	launcher := &stubLauncher{running: true}
	sup := NewSupervisor(launcher, &stubSession{user: "alice"}, zap.NewNop())

	sup.Check()

	assert.Empty(t, launcher.launches)
}

// TestSupervisorCheck_SessionLookupFailure verifies a failed session query
// skips the pass
func TestSupervisorCheck_SessionLookupFailure(t *testing.T) {
	launcher := &stubLauncher{}
	session := &stubSession{userErr: errors.New("query session failed")}
	sup := NewSupervisor(launcher, session, zap.NewNop())

	sup.Check()

	assert.Empty(t, launcher.launches)
}

// TestSupervisorCheck_LocksAfterRepeatedKills verifies the escalation when the
// helper keeps getting killed inside the window
func TestSupervisorCheck_LocksAfterRepeatedKills(t *testing.T) {
	launcher := &stubLauncher{}
	session := &stubSession{user: "alice"}
	sup := NewSupervisor(launcher, session, zap.NewNop())

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.Local)
	sup.now = func() time.Time { return now }

	for i := 0; i < relaunchLimit; i++ {
		sup.Check()
		now = now.Add(time.Minute)
	}
	assert.Zero(t, session.locks)

	sup.Check()

	assert.Equal(t, 1, session.locks)
	assert.Empty(t, sup.relaunches)
}

// TestSupervisorCheck_OldRelaunchesExpire verifies restarts outside the window
// do not count toward the lock
func TestSupervisorCheck_OldRelaunchesExpire(t *testing.T) {
	launcher := &stubLauncher{}
	session := &stubSession{user: "alice"}
	sup := NewSupervisor(launcher, session, zap.NewNop())

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.Local)
	sup.now = func() time.Time { return now }

	for i := 0; i < relaunchLimit; i++ {
		sup.Check()
		now = now.Add(25 * time.Minute)
	}

	// The first relaunch has aged out of the window by now.
	sup.Check()

	assert.Zero(t, session.locks)
	assert.Len(t, launcher.launches, relaunchLimit+1)
}

// TestSupervisorCheck_LaunchFailureNotCounted verifies a failed launch does not
// feed the escalation counter
func TestSupervisorCheck_LaunchFailureNotCounted(t *testing.T) {
	launcher := &stubLauncher{launchErr: errors.New("schtasks failed")}
	session := &stubSession{user: "alice"}
	sup := NewSupervisor(launcher, session, zap.NewNop())

	for i := 0; i < relaunchLimit+2; i++ {
		sup.Check()
	}

	assert.Zero(t, session.locks)
	assert.Empty(t, sup.relaunches)
}
