package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
	"github.com/guardline/agent/internal/policy"
)

const (
	// warnThreshold fires the early per-app limit warning.
	warnThreshold = 0.70
	// deviceWarnThreshold fires the repeating device-limit warning.
	deviceWarnThreshold = 0.80
	// deviceWarnGap throttles the repeating device warning.
	deviceWarnGap = 5 * time.Minute
	// shutdownCountdown is the grace period before a forced shutdown.
	shutdownCountdown = 60
)

// hostsUnsynced marks the hosts file as not yet reconciled with the working
// set, so the first cycle always applies or clears. The value can never
// collide with a real fingerprint.
const hostsUnsynced = "\x00unsynced"

// Clock is the read-only trusted-time view handed to the enforcer's
// consumers. The enforcer owns the clock; everyone else gets accessors.
type Clock interface {
	Now() time.Time
	DateString() string
	Sync(serverEpoch int64)
}

// MonitorView is the enforcer's read-only window into the monitor.
type MonitorView interface {
	Detections() []domain.Detection
	UsageFor(app string) int64
	DeviceUsage() int64
}

// RuleEnforcer fetches rules, rebuilds working sets, and applies every
// enforcement category each tick. A failed action is logged and retried next
// tick; it never aborts the remaining actions in the same cycle. A failed
// fetch keeps the last known policy (fail-safe, not fail-open).
type RuleEnforcer struct {
	backendClient domain.BackendClient
	cache         domain.CacheStore
	clock         Clock
	monitor       MonitorView
	pm            domain.ProcessManager
	session       domain.SessionController
	firewall      domain.FirewallManager
	hosts         domain.HostsManager
	notifier      domain.Notifier
	killLog       *KillLog
	dedup         *notifyDeduper
	logger        *zap.Logger

	fetchShort    time.Duration
	fetchLong     time.Duration
	pushConnected func() bool

	mu           sync.Mutex
	ws           *domain.WorkingSet
	backendUsage map[string]int64
	backendDev   int64
	lastFetch    time.Time
	refreshAsked bool
	authFailed   bool
	hostsApplied string            // fingerprint of the last applied domain list
	shutdownDone map[string]string // shutdown sequence key -> date it completed
	bootTime     time.Time
}

// EnforcerDeps bundles the enforcer's collaborators.
type EnforcerDeps struct {
	Backend  domain.BackendClient
	Cache    domain.CacheStore
	Clock    Clock
	Monitor  MonitorView
	Procs    domain.ProcessManager
	Session  domain.SessionController
	Firewall domain.FirewallManager
	Hosts    domain.HostsManager
	Notifier domain.Notifier
	Logger   *zap.Logger
}

// NewRuleEnforcer creates an enforcer. The cached rule snapshot, when
// present, seeds the working set so enforcement holds before the first
// successful fetch.
func NewRuleEnforcer(deps EnforcerDeps, fetchShort, fetchLong time.Duration, pushConnected func() bool) *RuleEnforcer {
	e := &RuleEnforcer{
		backendClient: deps.Backend,
		cache:         deps.Cache,
		clock:         deps.Clock,
		monitor:       deps.Monitor,
		pm:            deps.Procs,
		session:       deps.Session,
		firewall:      deps.Firewall,
		hosts:         deps.Hosts,
		notifier:      deps.Notifier,
		killLog:       NewKillLog(),
		dedup:         newNotifyDeduper(),
		logger:        deps.Logger,
		fetchShort:    fetchShort,
		fetchLong:     fetchLong,
		pushConnected: pushConnected,
		backendUsage:  make(map[string]int64),
		hostsApplied:  hostsUnsynced,
		shutdownDone:  make(map[string]string),
		bootTime:      time.Now(),
	}

	if rules, err := deps.Cache.LoadRules(); err == nil && rules != nil {
		e.ws = policy.BuildWorkingSet(rules)
		e.logger.Info("rule snapshot restored from cache", zap.Int("rules", len(rules)))
	}
	return e
}

// RequestRefresh forces a fetch on the next tick (reconnect, push command).
func (e *RuleEnforcer) RequestRefresh() {
	e.mu.Lock()
	e.refreshAsked = true
	e.mu.Unlock()
}

// HaltNetwork stops all fetches after a credential rejection.
func (e *RuleEnforcer) HaltNetwork() {
	e.mu.Lock()
	e.authFailed = true
	e.mu.Unlock()
}

// KillLog exposes the audit buffer.
func (e *RuleEnforcer) KillLog() *KillLog {
	return e.killLog
}

// Tick runs one enforcement cycle: fetch when due, then apply all steps.
func (e *RuleEnforcer) Tick(ctx context.Context) {
	if e.fetchDue() {
		e.fetch(ctx)
	}

	e.mu.Lock()
	ws := e.ws
	e.mu.Unlock()
	if ws == nil {
		return // no policy yet, nothing to enforce
	}

	now := e.clock.Now()
	date := e.clock.DateString()
	detections := e.monitor.Detections()

	if ws.LockDevice {
		// Lock short-circuits app blocking entirely.
		if err := e.session.Lock(); err != nil {
			e.logger.Warn("failed to lock session", zap.Error(err))
		}
	} else {
		e.applyAppBlocking(ws, detections)
		e.applyAppSchedules(ws, detections, now)
	}
	e.applyAppLimits(ctx, ws, detections, date)
	e.applyDeviceLimit(ctx, ws, now, date)
	e.applyDeviceSchedule(ctx, ws, now, date)
	e.applyNetwork(ctx, ws, now)
}

// fetchDue picks the short interval while disconnected from the push
// channel and the long one while the live channel covers urgent changes.
func (e *RuleEnforcer) fetchDue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.authFailed {
		return false
	}
	if e.refreshAsked {
		return true
	}
	interval := e.fetchShort
	if e.pushConnected != nil && e.pushConnected() {
		interval = e.fetchLong
	}
	return e.lastFetch.IsZero() || time.Since(e.lastFetch) >= interval
}

// fetch requests rules and atomically replaces the working sets. Exactly one
// rebuild happens per successful fetch; a failed fetch changes nothing.
func (e *RuleEnforcer) fetch(ctx context.Context) {
	result, err := e.backendClient.FetchRules(ctx)

	e.mu.Lock()
	e.lastFetch = time.Now()
	e.refreshAsked = false
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("rule fetch failed, keeping last snapshot", zap.Error(err))
		return
	}

	if result.ServerTimestamp > 0 {
		e.clock.Sync(result.ServerTimestamp)
	}
	if err := e.cache.SaveRules(result.Rules); err != nil {
		e.logger.Warn("failed to cache rule snapshot", zap.Error(err))
	}

	ws := policy.BuildWorkingSet(result.Rules)
	usage := make(map[string]int64, len(result.AppUsageToday))
	for app, sec := range result.AppUsageToday {
		usage[policy.NormalizeApp(app)] = sec
	}

	e.mu.Lock()
	e.ws = ws
	e.backendUsage = usage
	e.backendDev = result.DeviceUsage
	e.mu.Unlock()

	e.logger.Debug("working sets rebuilt",
		zap.Int("rules", len(result.Rules)),
		zap.Int("blocked_apps", len(ws.BlockedApps)))
}

// applyAppBlocking kills every detection matching a blocked-app rule by
// canonical name, original filename, or window-title substring. First hit
// wins.
func (e *RuleEnforcer) applyAppBlocking(ws *domain.WorkingSet, detections []domain.Detection) {
	for _, d := range detections {
		target, matched := matchBlocked(ws.BlockedApps, d)
		if !matched {
			continue
		}
		e.killApp(d, target, "blocked", 0, 0)
	}
}

// applyAppSchedules treats an app outside all of its allowed windows exactly
// like a blocked app. A day no window covers means no enforcement for that
// day.
func (e *RuleEnforcer) applyAppSchedules(ws *domain.WorkingSet, detections []domain.Detection, now time.Time) {
	for _, d := range detections {
		windows, ok := ws.AppSchedules[d.App]
		if !ok {
			continue
		}
		if !policy.CoversDay(windows, now.Weekday()) {
			continue
		}
		if policy.InAnyWindow(windows, now) {
			continue
		}
		e.killApp(d, d.App, "outside_schedule", 0, 0)
	}
}

// applyAppLimits enforces per-app daily limits. Usage is the max of the
// backend-reported total and the local session total, so a report/fetch
// interleaving never double counts.
func (e *RuleEnforcer) applyAppLimits(ctx context.Context, ws *domain.WorkingSet, detections []domain.Detection, date string) {
	e.mu.Lock()
	backendUsage := e.backendUsage
	e.mu.Unlock()

	for _, d := range detections {
		limit, ok := ws.AppLimits[d.App]
		if !ok || limit <= 0 {
			continue
		}

		used := e.monitor.UsageFor(d.App)
		if b := backendUsage[d.App]; b > used {
			used = b
		}

		if used >= limit {
			e.killApp(d, d.App, "limit_exceeded", used, limit)
			if e.dedup.oncePerDay("limit:"+d.App, date) {
				e.notify("Time limit reached",
					fmt.Sprintf("%s is done for today (%d min used)", d.App, used/60))
				e.reportEvent(ctx, domain.CriticalEvent{
					Type:         domain.EventLimitExceeded,
					App:          d.App,
					UsedSeconds:  used,
					LimitSeconds: limit,
					Timestamp:    e.clock.Now().Unix(),
				})
			}
			continue
		}

		if float64(used) >= float64(limit)*warnThreshold {
			if e.dedup.oncePerDay("limit-warn:"+d.App, date) {
				remaining := (limit - used) / 60
				e.notify("Time limit approaching",
					fmt.Sprintf("%s has about %d minutes left today", d.App, remaining))
			}
		}
	}
}

// applyDeviceLimit enforces the device-wide daily limit against the device
// wall-clock counter, with the same max() merge.
func (e *RuleEnforcer) applyDeviceLimit(ctx context.Context, ws *domain.WorkingSet, now time.Time, date string) {
	if ws.DeviceLimit <= 0 {
		return
	}

	used := e.monitor.DeviceUsage()
	e.mu.Lock()
	if e.backendDev > used {
		used = e.backendDev
	}
	e.mu.Unlock()

	if used >= ws.DeviceLimit {
		e.enforceShutdown(ctx, "device-limit-shutdown", date,
			"Screen time is over for today", domain.CriticalEvent{
				Type:         domain.EventDeviceLimit,
				UsedSeconds:  used,
				LimitSeconds: ws.DeviceLimit,
				Timestamp:    now.Unix(),
			})
		return
	}

	if float64(used) >= float64(ws.DeviceLimit)*deviceWarnThreshold {
		if e.dedup.throttled("device-limit-warn", date, now, deviceWarnGap) {
			remaining := (ws.DeviceLimit - used) / 60
			e.notify("Screen time almost up",
				fmt.Sprintf("About %d minutes of screen time left today", remaining))
		}
	}
}

// applyDeviceSchedule forces the shutdown sequence when today has schedule
// coverage and the trusted time is inside no window. A day without entries
// means no schedule enforcement at all.
func (e *RuleEnforcer) applyDeviceSchedule(ctx context.Context, ws *domain.WorkingSet, now time.Time, date string) {
	if len(ws.DeviceSchedules) == 0 {
		return
	}
	if !policy.CoversDay(ws.DeviceSchedules, now.Weekday()) {
		return
	}
	if policy.InAnyWindow(ws.DeviceSchedules, now) {
		return
	}

	e.enforceShutdown(ctx, "outside-schedule-shutdown", date,
		"Outside allowed hours", domain.CriticalEvent{
			Type:      domain.EventOutsideSchedule,
			Timestamp: now.Unix(),
		})
}

// applyNetwork drives hosts-file domain blocking and the outbound firewall
// block from the current working set.
func (e *RuleEnforcer) applyNetwork(ctx context.Context, ws *domain.WorkingSet, now time.Time) {
	fingerprint := strings.Join(ws.BlockedSites, ",")
	e.mu.Lock()
	hostsDirty := fingerprint != e.hostsApplied
	e.mu.Unlock()

	if hostsDirty {
		var err error
		if len(ws.BlockedSites) == 0 {
			err = e.hosts.Clear()
		} else {
			err = e.hosts.Apply(ws.BlockedSites)
		}
		if err != nil {
			e.logger.Warn("hosts update failed", zap.Error(err))
		} else {
			e.mu.Lock()
			e.hostsApplied = fingerprint
			e.mu.Unlock()
			e.logger.Info("hosts entries updated", zap.Int("domains", len(ws.BlockedSites)))
		}
	}

	shouldBlock := ws.HasNetworkBlock && policy.NetworkBlockActive(ws.NetworkBlocks, now)
	blocked := e.firewall.IsBlocked()
	switch {
	case shouldBlock && !blocked:
		if err := e.firewall.BlockOutbound(ctx); err != nil {
			e.logger.Warn("failed to block outbound traffic", zap.Error(err))
		}
	case !shouldBlock && blocked:
		if err := e.firewall.UnblockOutbound(ctx); err != nil {
			e.logger.Warn("failed to unblock outbound traffic", zap.Error(err))
		}
	}
}

// killApp terminates the detected process plus every same-named process,
// with the kill-by-name sweep as fallback for helpers the enumeration pass
// missed.
func (e *RuleEnforcer) killApp(d domain.Detection, target, reason string, used, limit int64) {
	if err := e.pm.Kill(d.PID); err != nil {
		e.logger.Warn("failed to kill process",
			zap.Int32("pid", d.PID), zap.String("app", d.App), zap.Error(err))
	}
	if _, err := e.pm.KillByName(target); err != nil {
		e.logger.Debug("kill-by-name sweep incomplete",
			zap.String("target", target), zap.Error(err))
	}

	e.killLog.Append(domain.KillRecord{
		App:          d.App,
		Reason:       reason,
		UsedSeconds:  used,
		LimitSeconds: limit,
		Timestamp:    e.clock.Now(),
		UptimeSec:    int64(time.Since(e.bootTime).Seconds()),
	})
	e.logger.Info("killed application",
		zap.String("app", d.App), zap.String("reason", reason))
}

// enforceShutdown drives the shutdown sequence for an over-limit or
// outside-schedule day. The countdown notification and critical event fire
// once per day, but the lock and scheduled shutdown are retried every tick
// until both succeed.
func (e *RuleEnforcer) enforceShutdown(ctx context.Context, key, date, reason string, ev domain.CriticalEvent) {
	if e.dedup.oncePerDay(key+"-alert", date) {
		if err := e.notifier.Countdown(reason, shutdownCountdown); err != nil {
			e.logger.Warn("failed to show countdown", zap.Error(err))
		}
		e.reportEvent(ctx, ev)
	}

	e.mu.Lock()
	done := e.shutdownDone[key] == date
	e.mu.Unlock()
	if done {
		return
	}

	ok := true
	if err := e.session.Lock(); err != nil {
		e.logger.Warn("failed to lock session", zap.Error(err))
		ok = false
	}
	if err := e.session.ScheduleShutdown(shutdownCountdown); err != nil {
		e.logger.Warn("failed to schedule shutdown", zap.Error(err))
		ok = false
	}
	if ok {
		e.mu.Lock()
		e.shutdownDone[key] = date
		e.mu.Unlock()
	}
}

func (e *RuleEnforcer) notify(title, body string) {
	if err := e.notifier.Notify(title, body); err != nil {
		e.logger.Debug("notification not delivered", zap.Error(err))
	}
}

// reportEvent sends a critical event out-of-band, immediately.
func (e *RuleEnforcer) reportEvent(ctx context.Context, ev domain.CriticalEvent) {
	e.mu.Lock()
	halted := e.authFailed
	e.mu.Unlock()
	if halted {
		return
	}
	if err := e.backendClient.ReportEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to report critical event",
			zap.String("type", ev.Type), zap.Error(err))
	}
}

// matchBlocked applies the three match strategies in order: canonical name,
// original filename, window-title substring.
func matchBlocked(blocked map[string]struct{}, d domain.Detection) (string, bool) {
	if _, ok := blocked[d.App]; ok {
		return d.App, true
	}
	orig := policy.NormalizeApp(d.OriginalFilename)
	if _, ok := blocked[orig]; ok && orig != "" {
		return orig, true
	}
	title := strings.ToLower(d.WindowTitle)
	if title != "" {
		for name := range blocked {
			if strings.Contains(title, name) {
				return d.App, true
			}
		}
	}
	return "", false
}
