package state

import "time"

// Bounds are the time markers of a run. All of them only move forward
// except LastStartTime, which follows the most recent commit, and the
// ordering LastStartTime <= LastKnownTick <= LastTick always holds.
type Bounds struct {
	// LastTick is the end of the latest processed segment.
	LastTick time.Time
	// LastKnownTick is the point up to which time has been committed.
	LastKnownTick time.Time
	// LastStartTime is the start of the latest commit.
	LastStartTime time.Time
	// LastNotAFK is when the user last became active; zero while away.
	LastNotAFK time.Time
}

func (b Bounds) validate() error {
	if !b.LastKnownTick.IsZero() && !b.LastTick.IsZero() && b.LastKnownTick.After(b.LastTick) {
		return NewConsistencyError(CodeTimeBounds, "last known tick is after last tick", map[string]string{
			"last_known_tick": b.LastKnownTick.Format(time.RFC3339),
			"last_tick":       b.LastTick.Format(time.RFC3339),
		})
	}
	if !b.LastStartTime.IsZero() && !b.LastKnownTick.IsZero() && b.LastStartTime.After(b.LastKnownTick) {
		return NewConsistencyError(CodeTimeBounds, "last start time is after last known tick", map[string]string{
			"last_start_time": b.LastStartTime.Format(time.RFC3339),
			"last_known_tick": b.LastKnownTick.Format(time.RFC3339),
		})
	}
	return nil
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
