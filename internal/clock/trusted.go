// Package clock derives a tamper-resistant wall-clock time from a backend
// timestamp anchored to the runtime monotonic clock.
//
// The OS wall clock can be rolled back by the monitored user to defeat
// schedules and limits. Go's monotonic reading cannot, so every enforcement
// decision routes through TrustedClock instead of raw time.Now.
package clock

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAge is how long a server anchor stays valid without a refresh.
const DefaultMaxAge = time.Hour

// TrustedClock computes "now" as server anchor + monotonic elapsed.
type TrustedClock struct {
	mu        sync.Mutex
	refServer time.Time // server wall-clock at anchor
	refMono   time.Time // carries the monotonic reading
	maxAge    time.Duration
	logger    *zap.Logger

	fallbackLogged bool
}

// New creates an unsynced clock. Until the first Sync, Now falls back to the
// OS wall clock.
func New(logger *zap.Logger) *TrustedClock {
	return &TrustedClock{maxAge: DefaultMaxAge, logger: logger}
}

// NewWithMaxAge creates a clock with a custom anchor expiry (for tests).
func NewWithMaxAge(maxAge time.Duration, logger *zap.Logger) *TrustedClock {
	return &TrustedClock{maxAge: maxAge, logger: logger}
}

// Sync anchors the clock to a server unix timestamp. Called on every rule
// fetch that carries one.
func (c *TrustedClock) Sync(serverEpoch int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refServer = time.Unix(serverEpoch, 0)
	c.refMono = time.Now()
	c.fallbackLogged = false
}

// IsSynced reports whether a fresh server anchor is available.
func (c *TrustedClock) IsSynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncedLocked()
}

func (c *TrustedClock) syncedLocked() bool {
	return !c.refMono.IsZero() && time.Since(c.refMono) < c.maxAge
}

// Now returns the trusted local time. After maxAge without a refresh the
// anchor expires and the OS clock is used, logged once per desync.
func (c *TrustedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.syncedLocked() {
		if !c.fallbackLogged && c.logger != nil {
			c.logger.Warn("trusted clock not synced, falling back to OS time",
				zap.Bool("ever_synced", !c.refMono.IsZero()))
			c.fallbackLogged = true
		}
		return time.Now()
	}

	// time.Since uses the monotonic reading of refMono, so a wall-clock
	// rollback between Sync and Now does not shift the result.
	return c.refServer.Add(time.Since(c.refMono)).Local()
}

// UTCNow returns the trusted time in UTC.
func (c *TrustedClock) UTCNow() time.Time {
	return c.Now().UTC()
}

// DateString returns the trusted local date as YYYY-MM-DD, used for the
// midnight rollover and per-day notification dedup.
func (c *TrustedClock) DateString() string {
	return c.Now().Format("2006-01-02")
}
