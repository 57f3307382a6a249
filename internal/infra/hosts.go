package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/guardline/agent/internal/domain"
)

// hostsMarker tags every line the agent writes. Only marked lines are ever
// removed, so user-authored entries survive untouched.
const hostsMarker = "# guardline-agent"

// HostsManagerImpl implements domain.HostsManager against the system hosts
// file using loopback redirection entries.
type HostsManagerImpl struct {
	path string
}

// NewHostsManager targets the platform's system hosts file.
func NewHostsManager() *HostsManagerImpl {
	path := "/etc/hosts"
	if runtime.GOOS == "windows" {
		path = filepath.Join(os.Getenv("SystemRoot"), "System32", "drivers", "etc", "hosts")
	}
	return &HostsManagerImpl{path: path}
}

// NewHostsManagerWithPath targets a specific file (for tests).
func NewHostsManagerWithPath(path string) *HostsManagerImpl {
	return &HostsManagerImpl{path: path}
}

// Apply replaces the agent-owned block with entries for the given domains.
// Idempotent: applying the same list twice leaves one block.
func (h *HostsManagerImpl) Apply(domains []string) error {
	lines, err := h.readUnmarked()
	if err != nil {
		return err
	}

	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("127.0.0.1 %s %s", d, hostsMarker))
	}

	return h.write(lines)
}

// Clear removes all agent-owned entries.
func (h *HostsManagerImpl) Clear() error {
	lines, err := h.readUnmarked()
	if err != nil {
		return err
	}
	return h.write(lines)
}

// readUnmarked returns the hosts file without agent-owned lines.
func (h *HostsManagerImpl) readUnmarked() ([]string, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		if strings.Contains(line, hostsMarker) {
			continue
		}
		kept = append(kept, line)
	}
	// Drop a single trailing blank line so repeated rewrites don't grow it.
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	return kept, nil
}

// write replaces the hosts file atomically (write temp + rename).
func (h *HostsManagerImpl) write(lines []string) error {
	content := strings.Join(lines, "\n") + "\n"

	tmpPath := fmt.Sprintf("%s.%d.tmp", h.path, os.Getpid())
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write hosts temp file: %w", err)
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace hosts file: %w", err)
	}
	return nil
}

// Ensure HostsManagerImpl implements domain.HostsManager.
var _ domain.HostsManager = (*HostsManagerImpl)(nil)
