package profile

import (
	"sync"
	"time"

	"riskgate/internal/logger"
)

// Snapshot is the consistent (profile, version, lastChange, dailyCount) tuple
// observed by every admission and exit evaluation.
type Snapshot struct {
	Profile       Profile
	Version       int64
	LastChange    time.Time
	DailySwitches int
}

// ActiveState holds the single mutable "active profile" cell. Reads are
// lock-cheap snapshots; writes go through TrySwitch under the stability
// guard, at most hourly in practice.
type ActiveState struct {
	cooldown    time.Duration
	maxPerDay   int
	nowFn       func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
	resetDay time.Time
}

// NewActiveState starts on the given profile with a zeroed switch history.
func NewActiveState(initial Profile, cooldown time.Duration, maxPerDay int) *ActiveState {
	now := time.Now()
	return &ActiveState{
		cooldown:  cooldown,
		maxPerDay: maxPerDay,
		nowFn:     time.Now,
		snapshot: Snapshot{
			Profile:    initial,
			Version:    1,
			LastChange: now,
		},
		resetDay: dayOf(now),
	}
}

// Current returns the active snapshot.
func (a *ActiveState) Current() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// SwitchOutcome reports what TrySwitch decided and why.
type SwitchOutcome struct {
	Switched bool
	Reason   string
	Active   Snapshot
}

// TrySwitch is the single serialized write path. A denial is a normal,
// logged no-change outcome, not an error.
func (a *ActiveState) TrySwitch(target Profile, reason string) SwitchOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFn()
	a.resetDailyLocked(now)

	if target.Name == a.snapshot.Profile.Name {
		return SwitchOutcome{Switched: false, Reason: "already active", Active: a.snapshot}
	}
	if elapsed := now.Sub(a.snapshot.LastChange); elapsed < a.cooldown {
		logger.Infof("profile switch to %s denied: cooldown %s remaining", target.Name, (a.cooldown - elapsed).Truncate(time.Second))
		return SwitchOutcome{Switched: false, Reason: "cooldown active", Active: a.snapshot}
	}
	if a.snapshot.DailySwitches >= a.maxPerDay {
		logger.Infof("profile switch to %s denied: daily switch limit %d reached", target.Name, a.maxPerDay)
		return SwitchOutcome{Switched: false, Reason: "daily switch limit reached", Active: a.snapshot}
	}

	a.snapshot = Snapshot{
		Profile:       target,
		Version:       a.snapshot.Version + 1,
		LastChange:    now,
		DailySwitches: a.snapshot.DailySwitches + 1,
	}
	logger.Infof("active profile switched to %s (%s), version=%d", target.Name, reason, a.snapshot.Version)
	return SwitchOutcome{Switched: true, Reason: reason, Active: a.snapshot}
}

// resetDailyLocked zeroes the counter exactly once per calendar day.
// Idempotent: repeated calls within the same day are no-ops.
func (a *ActiveState) resetDailyLocked(now time.Time) {
	day := dayOf(now)
	if day.Equal(a.resetDay) {
		return
	}
	a.resetDay = day
	a.snapshot.DailySwitches = 0
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
