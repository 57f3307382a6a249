package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/guardline/agent/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// List returns all running processes with basic metadata. Fields that a
// process refuses to expose (exited, access denied) are left empty rather
// than dropping the entry.
func (pm *ProcessManagerImpl) List() ([]domain.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		info := domain.ProcessInfo{PID: p.Pid, Name: name}
		info.ExePath, _ = p.Exe()
		info.Username, _ = p.Username()
		info.CreateTime, _ = p.CreateTime()
		infos = append(infos, info)
	}
	return infos, nil
}

// Kill terminates a process by PID (hard kill).
func (pm *ProcessManagerImpl) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// KillByName terminates every process whose name matches the pattern, exact
// or prefix, case-insensitive. Returns how many were killed; the last kill
// error is returned but does not stop the sweep.
func (pm *ProcessManagerImpl) KillByName(pattern string) (int, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, err
	}

	patternLower := strings.ToLower(strings.TrimSuffix(pattern, ".exe"))
	killed := 0
	var lastErr error

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		nameLower := strings.ToLower(strings.TrimSuffix(name, ".exe"))
		if nameLower != patternLower && !strings.HasPrefix(nameLower, patternLower) {
			continue
		}
		if err := p.Kill(); err != nil {
			lastErr = err
			continue
		}
		killed++
	}
	return killed, lastErr
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without touching the process.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
