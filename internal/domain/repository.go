package domain

import "context"

// ProcessInfo is the raw enumeration record for one OS process.
type ProcessInfo struct {
	PID        int32
	Name       string
	ExePath    string
	Username   string
	CreateTime int64 // unix ms
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// List returns all running processes with basic metadata.
	List() ([]ProcessInfo, error)

	// Kill terminates a process by PID (hard kill).
	Kill(pid int32) error

	// KillByName terminates every process whose name matches the pattern
	// (exact or prefix, case-insensitive). Fallback for helpers that the
	// enumeration pass missed. Returns the number of processes killed.
	KillByName(pattern string) (int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// WindowDetector resolves which processes own visible windows and which one
// is focused. Implementations cache the enumeration pass with a short TTL.
type WindowDetector interface {
	// VisibleWindows returns pid -> window title for processes that own a
	// visible, non-minimized top-level window.
	VisibleWindows() (map[int32]string, error)

	// FocusedPID returns the PID owning the foreground window, or 0.
	FocusedPID() int32
}

// AppDetector yields one Detection per running user application.
type AppDetector interface {
	Detect() ([]Detection, error)
}

// SessionController drives the interactive user session.
type SessionController interface {
	// Lock locks the interactive session immediately.
	Lock() error

	// ScheduleShutdown forces a shutdown after the given countdown seconds.
	ScheduleShutdown(seconds int) error

	// CancelShutdown aborts a previously scheduled shutdown.
	CancelShutdown() error

	// ActiveSessionUser returns the username owning the active console
	// session, or "" if no interactive session exists.
	ActiveSessionUser() (string, error)
}

// FirewallManager applies the outbound network block.
type FirewallManager interface {
	// BlockOutbound flips default outbound policy to deny and installs the
	// agent-owned allow rules (agent exe, DNS, LAN, pinned backend IP).
	BlockOutbound(ctx context.Context) error

	// UnblockOutbound restores default-allow and removes agent-owned rules.
	UnblockOutbound(ctx context.Context) error

	// IsBlocked reports whether the agent-owned block is currently applied.
	IsBlocked() bool
}

// HostsManager edits agent-owned entries in the system hosts file.
type HostsManager interface {
	// Apply replaces the agent-owned block with loopback entries for the
	// given domains. User-authored entries are never touched.
	Apply(domains []string) error

	// Clear removes all agent-owned entries.
	Clear() error
}

// CacheStore persists the usage state and rule snapshot across restarts.
type CacheStore interface {
	LoadUsage() (*CachedUsage, error)
	SaveUsage(u *CachedUsage) error
	LoadRules() ([]Rule, error)
	SaveRules(rules []Rule) error
}

// SecretStore provides encrypted persistent storage for device credentials.
// Secrets are generated once on pairing and persist across restarts.
type SecretStore interface {
	GetSecret(key string) (string, error)
	SetSecret(key, value string) error
	Close() error
}

// KeyProvider abstracts the source of the secret store encryption key.
type KeyProvider interface {
	// EnsureKey returns the store key, creating the backing material on
	// first use.
	EnsureKey() ([]byte, error)
}

// BackendClient talks to the remote parent-control backend.
type BackendClient interface {
	// FetchRules requests the current rule snapshot.
	FetchRules(ctx context.Context) (*FetchResult, error)

	// ReportUsage submits a usage batch; the response may carry commands.
	ReportUsage(ctx context.Context, entries []UsageLogEntry) ([]BackendCommand, error)

	// ReportEvent submits a critical event, fire-and-forget with retry.
	ReportEvent(ctx context.Context, ev CriticalEvent) error
}

// Notifier delivers structured display commands to the UI companion.
// The visual rendering is the companion's concern.
type Notifier interface {
	// Notify shows a one-shot notification.
	Notify(title, body string) error

	// Countdown shows a shutdown countdown for the given seconds.
	Countdown(reason string, seconds int) error

	// RequestScreenshot asks the companion for a screenshot; the companion
	// answers with a file path on its own time.
	RequestScreenshot() error
}

// VPNDetector scans for known VPN/proxy tooling.
type VPNDetector interface {
	// Scan returns the names of detected VPN/proxy processes.
	Scan() ([]string, error)
}

// CompanionLauncher starts the UI companion inside the active user session.
type CompanionLauncher interface {
	// Launch starts the companion binary as the given session user.
	Launch(user string) error

	// IsCompanionRunning reports whether the companion process is alive.
	IsCompanionRunning() (bool, error)
}
