package domain

import "time"

type JoinPhase string

const (
	JoinWaiting JoinPhase = "waiting"
	JoinReady   JoinPhase = "ready"
	JoinActive  JoinPhase = "active"
	JoinEnded   JoinPhase = "ended"
)

// JoinPhaseAt reports where now sits relative to an interview's join window:
// the room opens joinBefore ahead of scheduled and closes joinAfter past it.
// It holds no state and is meant to be recomputed on every poll.
func JoinPhaseAt(now, scheduled time.Time, joinBefore, joinAfter time.Duration) JoinPhase {
	switch {
	case now.Before(scheduled.Add(-joinBefore)):
		return JoinWaiting
	case now.Before(scheduled):
		return JoinReady
	case now.Before(scheduled.Add(joinAfter)):
		return JoinActive
	default:
		return JoinEnded
	}
}

// CanJoin is true while the room is ready or active.
func (p JoinPhase) CanJoin() bool {
	return p == JoinReady || p == JoinActive
}
