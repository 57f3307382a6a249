package usecase

import (
	"sync"
	"time"
)

// notifyDeduper suppresses repeat notifications: once-per-day conditions and
// throttled repeating warnings. The day set clears at the trusted-date
// rollover so conditions fire again the next day.
type notifyDeduper struct {
	mu        sync.Mutex
	date      string
	shownOnce map[string]struct{}
	lastShown map[string]time.Time
}

func newNotifyDeduper() *notifyDeduper {
	return &notifyDeduper{
		shownOnce: make(map[string]struct{}),
		lastShown: make(map[string]time.Time),
	}
}

// oncePerDay returns true the first time key is seen on the given date.
func (d *notifyDeduper) oncePerDay(key, date string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollLocked(date)
	if _, seen := d.shownOnce[key]; seen {
		return false
	}
	d.shownOnce[key] = struct{}{}
	return true
}

// throttled returns true when at least minGap elapsed since key last fired.
func (d *notifyDeduper) throttled(key, date string, now time.Time, minGap time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollLocked(date)
	if last, ok := d.lastShown[key]; ok && now.Sub(last) < minGap {
		return false
	}
	d.lastShown[key] = now
	return true
}

func (d *notifyDeduper) rollLocked(date string) {
	if date == d.date {
		return
	}
	d.date = date
	d.shownOnce = make(map[string]struct{})
	d.lastShown = make(map[string]time.Time)
}
