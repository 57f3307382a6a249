//go:build integration

package integration

import (
	"context"

	"github.com/guardline/agent/internal/domain"
)

// recordingProcs implements domain.ProcessManager without touching real
// processes.
type recordingProcs struct {
	killedPIDs  []int32
	killedNames []string
}

func (p *recordingProcs) List() ([]domain.ProcessInfo, error) { return nil, nil }

func (p *recordingProcs) Kill(pid int32) error {
	p.killedPIDs = append(p.killedPIDs, pid)
	return nil
}

func (p *recordingProcs) KillByName(pattern string) (int, error) {
	p.killedNames = append(p.killedNames, pattern)
	return 1, nil
}

func (p *recordingProcs) IsRunning(pid int) bool { return false }

type recordingSession struct {
	locks     int
	shutdowns []int
}

func (s *recordingSession) Lock() error { s.locks++; return nil }

func (s *recordingSession) ScheduleShutdown(seconds int) error {
	s.shutdowns = append(s.shutdowns, seconds)
	return nil
}

func (s *recordingSession) CancelShutdown() error { return nil }

func (s *recordingSession) ActiveSessionUser() (string, error) { return "alice", nil }

type recordingFirewall struct {
	blocked bool
}

func (f *recordingFirewall) BlockOutbound(ctx context.Context) error {
	f.blocked = true
	return nil
}

func (f *recordingFirewall) UnblockOutbound(ctx context.Context) error {
	f.blocked = false
	return nil
}

func (f *recordingFirewall) IsBlocked() bool { return f.blocked }

type silentNotifier struct{}

func (silentNotifier) Notify(title, body string) error        { return nil }
func (silentNotifier) Countdown(reason string, sec int) error { return nil }
func (silentNotifier) RequestScreenshot() error               { return nil }

// staticMonitorView feeds the enforcer a fixed picture of the machine.
type staticMonitorView struct {
	detections  []domain.Detection
	usage       map[string]int64
	deviceUsage int64
}

func (v *staticMonitorView) Detections() []domain.Detection { return v.detections }
func (v *staticMonitorView) UsageFor(app string) int64      { return v.usage[app] }
func (v *staticMonitorView) DeviceUsage() int64             { return v.deviceUsage }
