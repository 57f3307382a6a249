package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardline/agent/internal/domain"
)

func weekdayWindow(start, end int, days ...time.Weekday) domain.ScheduleWindow {
	return domain.ScheduleWindow{StartMin: start, EndMin: end, Days: days}
}

// TestBuildWorkingSet_Classification verifies each rule kind lands in its set
func TestBuildWorkingSet_Classification(t *testing.T) {
	rules := []domain.Rule{
		{Kind: domain.KindAppBlock, Apps: []string{"steam"}, Enabled: true},
		{Kind: domain.KindTimeLimit, Apps: []string{"chrome"}, LimitSeconds: 3600, Enabled: true},
		{Kind: domain.KindDailyLimit, LimitSeconds: 7200, Enabled: true},
		{Kind: domain.KindSchedule, Window: weekdayWindow(540, 1020), Enabled: true},
		{Kind: domain.KindSchedule, Apps: []string{"minecraft"}, Window: weekdayWindow(600, 660), Enabled: true},
		{Kind: domain.KindLockDevice, Enabled: true},
		{Kind: domain.KindNetworkBlock, Window: weekdayWindow(1320, 420), Enabled: true},
		{Kind: domain.KindWebsiteBlock, WebsiteURL: "youtube.com", Enabled: true},
	}

	ws := BuildWorkingSet(rules)

	assert.Contains(t, ws.BlockedApps, "steam")
	assert.Equal(t, int64(3600), ws.AppLimits["chrome"])
	assert.Equal(t, int64(7200), ws.DeviceLimit)
	assert.Len(t, ws.DeviceSchedules, 1)
	assert.Len(t, ws.AppSchedules["minecraft"], 1)
	assert.True(t, ws.LockDevice)
	assert.True(t, ws.HasNetworkBlock)
	assert.Equal(t, []string{"youtube.com", "www.youtube.com"}, ws.BlockedSites)
}

// TestBuildWorkingSet_DisabledDropped verifies disabled rules never apply
func TestBuildWorkingSet_DisabledDropped(t *testing.T) {
	rules := []domain.Rule{
		{Kind: domain.KindAppBlock, Apps: []string{"steam"}, Enabled: false},
		{Kind: domain.KindLockDevice, Enabled: false},
	}

	ws := BuildWorkingSet(rules)

	assert.Empty(t, ws.BlockedApps)
	assert.False(t, ws.LockDevice)
}

// TestBuildWorkingSet_StrictestLimitWins verifies duplicate limits keep the
// smaller value
func TestBuildWorkingSet_StrictestLimitWins(t *testing.T) {
	rules := []domain.Rule{
		{Kind: domain.KindTimeLimit, Apps: []string{"chrome"}, LimitSeconds: 3600, Enabled: true},
		{Kind: domain.KindTimeLimit, Apps: []string{"chrome"}, LimitSeconds: 1800, Enabled: true},
		{Kind: domain.KindDailyLimit, LimitSeconds: 7200, Enabled: true},
		{Kind: domain.KindDailyLimit, LimitSeconds: 5400, Enabled: true},
	}

	ws := BuildWorkingSet(rules)

	assert.Equal(t, int64(1800), ws.AppLimits["chrome"])
	assert.Equal(t, int64(5400), ws.DeviceLimit)
}

// TestInWindow_Boundaries verifies start is inclusive and end exclusive
func TestInWindow_Boundaries(t *testing.T) {
	// Monday 2026-01-05
	w := weekdayWindow(9*60, 17*60, time.Monday)

	before := time.Date(2026, 1, 5, 8, 59, 0, 0, time.UTC)
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC)

	assert.False(t, InWindow(w, before))
	assert.True(t, InWindow(w, start))
	assert.False(t, InWindow(w, end))
}

// TestInWindow_DayMismatch verifies the window only applies on listed days
func TestInWindow_DayMismatch(t *testing.T) {
	w := weekdayWindow(9*60, 17*60, time.Monday)

	// Saturday 2026-01-10, inside the hour range
	saturday := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	assert.False(t, InWindow(w, saturday))
}

// TestInWindow_MidnightWrap verifies overnight windows cover both sides
func TestInWindow_MidnightWrap(t *testing.T) {
	w := weekdayWindow(22*60, 7*60)

	lateNight := time.Date(2026, 1, 5, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 1, 6, 6, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	assert.True(t, InWindow(w, lateNight))
	assert.True(t, InWindow(w, earlyMorning))
	assert.False(t, InWindow(w, midday))
}

// TestCoversDay verifies a day with no covering window means no enforcement
func TestCoversDay(t *testing.T) {
	windows := []domain.ScheduleWindow{
		weekdayWindow(9*60, 17*60, time.Monday, time.Tuesday),
	}

	assert.True(t, CoversDay(windows, time.Monday))
	assert.False(t, CoversDay(windows, time.Saturday))
}

// TestNetworkBlockActive_ZeroWindow verifies a rule without a window is
// always active
func TestNetworkBlockActive_ZeroWindow(t *testing.T) {
	blocks := []domain.ScheduleWindow{{}}
	require.True(t, blocks[0].Zero())

	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	assert.True(t, NetworkBlockActive(blocks, now))
}

// TestNetworkBlockActive_Windowed verifies windowed blocks follow the window
func TestNetworkBlockActive_Windowed(t *testing.T) {
	blocks := []domain.ScheduleWindow{weekdayWindow(22*60, 7*60)}

	inside := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	assert.True(t, NetworkBlockActive(blocks, inside))
	assert.False(t, NetworkBlockActive(blocks, outside))
}
