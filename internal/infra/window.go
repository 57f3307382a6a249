package infra

import (
	"context"
	"encoding/csv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guardline/agent/internal/domain"
)

// DefaultWindowCacheTTL bounds how often the window enumeration pass runs.
// Multiple callers inside one monitor tick share a single pass.
const DefaultWindowCacheTTL = 500 * time.Millisecond

// foregroundProbe is a PowerShell snippet returning the PID that owns the
// foreground window.
const foregroundProbe = `Add-Type 'using System;using System.Runtime.InteropServices;public class FG{[DllImport("user32.dll")]public static extern IntPtr GetForegroundWindow();[DllImport("user32.dll")]public static extern uint GetWindowThreadProcessId(IntPtr h,out uint p);}';$h=[FG]::GetForegroundWindow();$p=0;[FG]::GetWindowThreadProcessId($h,[ref]$p)|Out-Null;$p`

// WindowDetectorImpl implements domain.WindowDetector by parsing the verbose
// output of tasklist, which carries the main window title per process.
// Entries whose title column is "N/A" own no visible top-level window.
type WindowDetectorImpl struct {
	runner Runner
	ttl    time.Duration

	mu        sync.Mutex
	cached    map[int32]string
	cachedAt  time.Time
	focused   int32
	focusedAt time.Time
}

// NewWindowDetector creates a detector with the default cache TTL.
func NewWindowDetector(runner Runner) *WindowDetectorImpl {
	return NewWindowDetectorWithTTL(runner, DefaultWindowCacheTTL)
}

// NewWindowDetectorWithTTL creates a detector with a custom TTL (for tests).
func NewWindowDetectorWithTTL(runner Runner, ttl time.Duration) *WindowDetectorImpl {
	return &WindowDetectorImpl{runner: runner, ttl: ttl}
}

// VisibleWindows returns pid -> window title for processes owning a visible
// top-level window. The enumeration is cached for the TTL.
func (d *WindowDetectorImpl) VisibleWindows() (map[int32]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && time.Since(d.cachedAt) < d.ttl {
		return d.cached, nil
	}

	out, err := d.runner.Run(context.Background(), "tasklist", "/v", "/fo", "csv", "/nh")
	if err != nil {
		return nil, err
	}

	windows := parseTasklist(out)
	d.cached = windows
	d.cachedAt = time.Now()
	return windows, nil
}

// FocusedPID returns the PID owning the foreground window, or 0. Cached with
// the same TTL as the window pass.
func (d *WindowDetectorImpl) FocusedPID() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.focusedAt) < d.ttl {
		return d.focused
	}

	out, err := d.runner.Run(context.Background(),
		"powershell", "-NoProfile", "-NonInteractive", "-Command", foregroundProbe)
	if err != nil {
		return 0
	}

	pid, err := strconv.ParseInt(strings.TrimSpace(out), 10, 32)
	if err != nil {
		return 0
	}
	d.focused = int32(pid)
	d.focusedAt = time.Now()
	return d.focused
}

// parseTasklist extracts pid -> window title from tasklist verbose CSV.
// Columns: image name, PID, session name, session#, mem usage, status,
// user name, cpu time, window title.
func parseTasklist(out string) map[int32]string {
	windows := make(map[int32]string)
	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1

	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		if len(rec) < 9 {
			continue
		}
		pid, err := strconv.ParseInt(strings.TrimSpace(rec[1]), 10, 32)
		if err != nil {
			continue
		}
		title := strings.TrimSpace(rec[8])
		if title == "" || title == "N/A" {
			continue
		}
		windows[int32(pid)] = title
	}
	return windows
}

// Ensure WindowDetectorImpl implements domain.WindowDetector.
var _ domain.WindowDetector = (*WindowDetectorImpl)(nil)
