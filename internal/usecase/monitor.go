// Package usecase contains application business logic: the app monitor, the
// rule enforcer and the reporter.
package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
)

// flushInterval bounds how often the usage state is persisted.
const defaultFlushInterval = 60 * time.Second

// AppMonitor owns the usage counters. Each tick it detects running user
// apps, attributes elapsed wall time to them, and periodically persists the
// state. All mutable state sits behind one coarse lock; other components
// read through accessor methods, never shared references.
type AppMonitor struct {
	detector      domain.AppDetector
	cache         domain.CacheStore
	trustedDate   func() string // read-only trusted-time accessor
	flushInterval time.Duration
	logger        *zap.Logger

	mu            sync.Mutex
	usageToday    map[string]int64
	usagePending  map[string]int64
	deviceToday   int64
	devicePending int64
	drainedDevice int64 // device delta of the last drain, for refunds
	date          string
	detections    []domain.Detection
	lastMeta      map[string]domain.Detection // last detection per app, for report metadata
	lastTick      time.Time
	lastFlush     time.Time
}

// NewAppMonitor creates a monitor, warm-starting from the cache when the
// boot pair and date still match.
func NewAppMonitor(
	detector domain.AppDetector,
	cache domain.CacheStore,
	trustedDate func() string,
	flushInterval time.Duration,
	logger *zap.Logger,
) *AppMonitor {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	m := &AppMonitor{
		detector:      detector,
		cache:         cache,
		trustedDate:   trustedDate,
		flushInterval: flushInterval,
		logger:        logger,
		usageToday:    make(map[string]int64),
		usagePending:  make(map[string]int64),
		lastMeta:      make(map[string]domain.Detection),
		date:          trustedDate(),
	}
	m.restore()
	return m
}

// restore loads cached counters. The cache store already applied the
// boot/staleness rules; a date mismatch here means the cache is from
// yesterday and the day starts cold.
func (m *AppMonitor) restore() {
	cached, err := m.cache.LoadUsage()
	if err != nil {
		m.logger.Warn("failed to load usage cache, starting cold", zap.Error(err))
		return
	}
	if cached == nil || cached.Date != m.date {
		return
	}

	for app, sec := range cached.UsageToday {
		m.usageToday[app] = sec
	}
	for app, sec := range cached.UsagePending {
		m.usagePending[app] = sec
	}
	m.deviceToday = cached.DeviceToday
	m.devicePending = cached.DevicePending
	m.logger.Info("usage state restored from cache",
		zap.Int64("device_today", m.deviceToday),
		zap.Int("apps", len(m.usageToday)))
}

// Tick runs one monitor cycle: detect, accumulate, clamp, roll over,
// periodically flush.
func (m *AppMonitor) Tick() {
	detections, err := m.detector.Detect()
	if err != nil {
		m.logger.Warn("app detection failed", zap.Error(err))
		return
	}

	now := time.Now()
	today := m.trustedDate()

	m.mu.Lock()
	defer m.mu.Unlock()

	if today != m.date {
		m.logger.Info("date rollover, resetting usage counters",
			zap.String("from", m.date), zap.String("to", today))
		m.resetLocked(today)
	}

	var elapsed int64
	if !m.lastTick.IsZero() {
		elapsed = int64(now.Sub(m.lastTick).Seconds())
	}
	m.lastTick = now

	m.detections = detections
	for _, d := range detections {
		m.lastMeta[d.App] = d
	}

	if elapsed > 0 && len(detections) > 0 {
		seen := make(map[string]struct{}, len(detections))
		for _, d := range detections {
			if _, dup := seen[d.App]; dup {
				continue // helpers collapse into one logical app
			}
			seen[d.App] = struct{}{}
			m.usageToday[d.App] += elapsed
			m.usagePending[d.App] += elapsed
		}

		// Device wall-clock counter moves once per tick regardless of
		// how many apps are active.
		m.deviceToday += elapsed
		m.devicePending += elapsed

		// Time paradox clamp: no single app may exceed the device
		// wall-clock total.
		for app, sec := range m.usageToday {
			if sec > m.deviceToday {
				m.usageToday[app] = m.deviceToday
			}
		}
	}

	if time.Since(m.lastFlush) >= m.flushInterval {
		m.flushLocked()
	}
}

// Detections returns a copy of the latest per-tick detections.
func (m *AppMonitor) Detections() []domain.Detection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Detection, len(m.detections))
	copy(out, m.detections)
	return out
}

// Snapshot returns a copy of the current counters.
func (m *AppMonitor) Snapshot() domain.UsageSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// UsageFor returns today's accumulated seconds for one app.
func (m *AppMonitor) UsageFor(app string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usageToday[app]
}

// DeviceUsage returns today's device wall-clock seconds.
func (m *AppMonitor) DeviceUsage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceToday
}

// DrainPending atomically snapshots and clears the pending deltas, returning
// report entries for every non-trivial delta. This is the reporter's single
// commit point.
func (m *AppMonitor) DrainPending(now time.Time) []domain.UsageLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]domain.UsageLogEntry, 0, len(m.usagePending))
	for app, sec := range m.usagePending {
		if sec < 1 {
			continue
		}
		meta := m.lastMeta[app]
		entries = append(entries, domain.UsageLogEntry{
			App:         app,
			WindowTitle: meta.WindowTitle,
			ExePath:     meta.ExePath,
			Duration:    sec,
			IsFocused:   meta.IsFocused,
			Timestamp:   now.Unix(),
		})
	}

	m.usagePending = make(map[string]int64)
	m.drainedDevice = m.devicePending
	m.devicePending = 0
	m.flushLocked()
	return entries
}

// RefundPending restores drained deltas after a failed report so nothing is
// silently dropped. Usage accumulated meanwhile is added on top. The device
// delta comes from the drain itself: it moves once per tick, not once per
// app, so summing the per-app entries would inflate it.
func (m *AppMonitor) RefundPending(entries []domain.UsageLogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.usagePending[e.App] += e.Duration
	}
	m.devicePending += m.drainedDevice
	m.drainedDevice = 0
	m.flushLocked()
}

// Reset clears all counters (explicit operator request).
func (m *AppMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(m.trustedDate())
	m.flushLocked()
}

// Flush persists the current state (graceful shutdown).
func (m *AppMonitor) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushLocked()
}

func (m *AppMonitor) resetLocked(date string) {
	m.usageToday = make(map[string]int64)
	m.usagePending = make(map[string]int64)
	m.deviceToday = 0
	m.devicePending = 0
	m.date = date
	m.flushLocked()
}

func (m *AppMonitor) snapshotLocked() domain.UsageSnapshot {
	snap := domain.UsageSnapshot{
		UsageToday:    make(map[string]int64, len(m.usageToday)),
		UsagePending:  make(map[string]int64, len(m.usagePending)),
		DeviceToday:   m.deviceToday,
		DevicePending: m.devicePending,
		Date:          m.date,
	}
	for app, sec := range m.usageToday {
		snap.UsageToday[app] = sec
	}
	for app, sec := range m.usagePending {
		snap.UsagePending[app] = sec
	}
	return snap
}

func (m *AppMonitor) flushLocked() {
	m.lastFlush = time.Now()
	if err := m.cache.SaveUsage(&domain.CachedUsage{UsageSnapshot: m.snapshotLocked()}); err != nil {
		m.logger.Warn("failed to persist usage cache", zap.Error(err))
	}
}
