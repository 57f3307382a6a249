// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// RuleKind identifies the enforcement category of a rule.
type RuleKind string

const (
	KindAppBlock     RuleKind = "app_block"
	KindTimeLimit    RuleKind = "time_limit"
	KindDailyLimit   RuleKind = "daily_limit"
	KindSchedule     RuleKind = "schedule"
	KindLockDevice   RuleKind = "lock_device"
	KindNetworkBlock RuleKind = "network_block"
	KindWebsiteBlock RuleKind = "website_block"
)

// Rule is a single parent-defined policy rule, decoded once at fetch time.
// Only the fields relevant to Kind are populated.
type Rule struct {
	ID           int64          `json:"id"`
	Kind         RuleKind       `json:"kind"`
	Apps         []string       `json:"apps,omitempty"` // normalized app names
	WebsiteURL   string         `json:"website_url,omitempty"`
	LimitSeconds int64          `json:"limit_seconds,omitempty"`
	Window       ScheduleWindow `json:"window,omitempty"`
	Enabled      bool           `json:"enabled"`
}

// ScheduleWindow is an allowed-time window with optional day restriction.
// Start/End are minutes since local midnight. Empty Days means every day.
type ScheduleWindow struct {
	StartMin int            `json:"start_min"`
	EndMin   int            `json:"end_min"`
	Days     []time.Weekday `json:"days,omitempty"`
}

// Zero reports whether the window is unset.
func (w ScheduleWindow) Zero() bool {
	return w.StartMin == 0 && w.EndMin == 0 && len(w.Days) == 0
}

// WorkingSet is the enforcer's derived, type-specific view of a rule snapshot.
// Rebuilt atomically exactly once per successful fetch.
type WorkingSet struct {
	BlockedApps     map[string]struct{}
	BlockedSites    []string         // fully expanded domain list
	AppLimits       map[string]int64 // app -> seconds
	DeviceLimit     int64            // 0 = no device-wide limit
	DeviceSchedules []ScheduleWindow
	AppSchedules    map[string][]ScheduleWindow
	LockDevice      bool
	NetworkBlocks   []ScheduleWindow // zero window = always active
	HasNetworkBlock bool
}

// Detection is the per-tick record for one observed user application.
// Populated once per tick and passed immutably to all sub-enforcers.
type Detection struct {
	PID              int32
	App              string // canonical app name
	OriginalFilename string // PE version-info original filename, lowercased
	WindowTitle      string
	HasVisibleWindow bool
	IsFocused        bool
	ExePath          string
}

// UsageSnapshot is a point-in-time copy of the monitor's counters.
type UsageSnapshot struct {
	UsageToday    map[string]int64 `json:"usage_today"`
	UsagePending  map[string]int64 `json:"usage_pending"`
	DeviceToday   int64            `json:"device_today"`
	DevicePending int64            `json:"device_pending"`
	Date          string           `json:"date"` // trusted local date, YYYY-MM-DD
}

// CachedUsage is the durable form of UsageSnapshot, keyed by a boot pair so a
// reboot or stale cache is detected on load.
type CachedUsage struct {
	UsageSnapshot
	BootEpoch int64  `json:"boot_epoch"` // host boot time, unix seconds
	HostID    string `json:"host_id"`
	SavedAt   int64  `json:"saved_at"`
}

// KillRecord is one audit entry for a terminated application.
type KillRecord struct {
	App          string    `json:"app"`
	Reason       string    `json:"reason"`
	UsedSeconds  int64     `json:"used_seconds"`
	LimitSeconds int64     `json:"limit_seconds"`
	Timestamp    time.Time `json:"timestamp"`
	UptimeSec    int64     `json:"uptime_sec"`
}

// UsageLogEntry is one reported usage delta for a single app.
type UsageLogEntry struct {
	App         string `json:"app_name"`
	WindowTitle string `json:"window_title"`
	ExePath     string `json:"exe_path"`
	Duration    int64  `json:"duration_seconds"`
	IsFocused   bool   `json:"is_focused"`
	Timestamp   int64  `json:"timestamp"`
}

// CriticalEvent is reported out-of-band, immediately.
type CriticalEvent struct {
	Type         string `json:"event_type"`
	App          string `json:"app_name,omitempty"`
	UsedSeconds  int64  `json:"used_seconds,omitempty"`
	LimitSeconds int64  `json:"limit_seconds,omitempty"`
	Message      string `json:"message,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// Critical event types.
const (
	EventLimitExceeded   = "limit_exceeded"
	EventOutsideSchedule = "outside_schedule"
	EventDeviceLimit     = "device_limit_exceeded"
	EventVPNDetected     = "vpn_detected"
)

// FetchResult is the decoded response of a successful rule fetch.
type FetchResult struct {
	Rules           []Rule           `json:"rules"`
	AppUsageToday   map[string]int64 `json:"app_usage_today"`
	DeviceUsage     int64            `json:"device_usage_today"`
	ServerTimestamp int64            `json:"server_timestamp"` // unix seconds, anchors the trusted clock
	Protection      string           `json:"protection_level"`
}

// BackendCommand is an operator command returned in a report response or
// pushed over the live channel.
type BackendCommand struct {
	Type    string `json:"type"` // screenshot, message, lock, unlock, refresh_rules, reset_pin
	Message string `json:"message,omitempty"`
	PIN     string `json:"pin,omitempty"`
}

// Frame is one IPC message: stateless, one-shot, length-delimited on the wire.
type Frame struct {
	Command string                 `json:"command"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// IPC commands exchanged with the UI companion.
const (
	CmdPing           = "PING"
	CmdPong           = "PONG"
	CmdNotify         = "NOTIFY"
	CmdCountdown      = "COUNTDOWN"
	CmdLockScreen     = "LOCK_SCREEN"
	CmdScreenshot     = "SCREENSHOT"
	CmdScreenshotDone = "SCREENSHOT_DONE" // companion -> service, payload carries file path
	CmdMessage        = "MESSAGE"
)
