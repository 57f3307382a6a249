package policy

import (
	"time"

	"github.com/guardline/agent/internal/domain"
)

// BuildWorkingSet classifies one rule snapshot into the enforcer's derived
// sets. Disabled rules are dropped here so sub-enforcers never see them.
// The result is immutable once returned; a new fetch builds a new set.
func BuildWorkingSet(rules []domain.Rule) *domain.WorkingSet {
	ws := &domain.WorkingSet{
		BlockedApps:  make(map[string]struct{}),
		AppLimits:    make(map[string]int64),
		AppSchedules: make(map[string][]domain.ScheduleWindow),
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		switch r.Kind {
		case domain.KindAppBlock:
			for _, app := range r.Apps {
				ws.BlockedApps[app] = struct{}{}
			}

		case domain.KindTimeLimit:
			for _, app := range r.Apps {
				// Strictest limit wins when an app appears twice.
				if cur, ok := ws.AppLimits[app]; !ok || r.LimitSeconds < cur {
					ws.AppLimits[app] = r.LimitSeconds
				}
			}

		case domain.KindDailyLimit:
			if ws.DeviceLimit == 0 || r.LimitSeconds < ws.DeviceLimit {
				ws.DeviceLimit = r.LimitSeconds
			}

		case domain.KindSchedule:
			if len(r.Apps) == 0 {
				ws.DeviceSchedules = append(ws.DeviceSchedules, r.Window)
				continue
			}
			for _, app := range r.Apps {
				ws.AppSchedules[app] = append(ws.AppSchedules[app], r.Window)
			}

		case domain.KindLockDevice:
			ws.LockDevice = true

		case domain.KindNetworkBlock:
			ws.HasNetworkBlock = true
			ws.NetworkBlocks = append(ws.NetworkBlocks, r.Window)

		case domain.KindWebsiteBlock:
			ws.BlockedSites = append(ws.BlockedSites, ExpandWebsite(r.WebsiteURL)...)
		}
	}

	return ws
}

// InWindow reports whether the trusted local time falls inside the window.
// Windows wrapping midnight (end < start) cover the overnight span.
func InWindow(w domain.ScheduleWindow, now time.Time) bool {
	if !dayMatches(w.Days, now.Weekday()) {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if w.EndMin < w.StartMin {
		return minute >= w.StartMin || minute < w.EndMin
	}
	return minute >= w.StartMin && minute < w.EndMin
}

// CoversDay reports whether any window in the list applies to the given day.
// A day with no covering window at all means no schedule enforcement.
func CoversDay(windows []domain.ScheduleWindow, day time.Weekday) bool {
	for _, w := range windows {
		if dayMatches(w.Days, day) {
			return true
		}
	}
	return false
}

// InAnyWindow reports whether now falls inside at least one window.
func InAnyWindow(windows []domain.ScheduleWindow, now time.Time) bool {
	for _, w := range windows {
		if InWindow(w, now) {
			return true
		}
	}
	return false
}

// NetworkBlockActive reports whether any network-block rule is active at the
// trusted time. A rule without a window is always active.
func NetworkBlockActive(blocks []domain.ScheduleWindow, now time.Time) bool {
	for _, w := range blocks {
		if w.Zero() {
			return true
		}
		if InWindow(w, now) {
			return true
		}
	}
	return false
}

func dayMatches(days []time.Weekday, day time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
