package service

import (
	"math/big"
	"time"

	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/proposal"
)

// Tracker computes sliding-window action counts and accumulated daily
// volume. Resets are derived from the stored window start and the
// pipeline's clock reading; there are no background timers, so the same
// inputs always produce the same counters.
type Tracker struct {
	DailyWindow time.Duration
}

// ActionCount returns the action count effective at now: zero when the
// rate window has elapsed, the stored count otherwise.
func (t Tracker) ActionCount(st *agent.RuntimeState, now time.Time, windowSeconds int) int {
	if windowElapsed(st.WindowStart, now, time.Duration(windowSeconds)*time.Second) {
		return 0
	}
	return st.WindowActionCount
}

// DailyVolume returns the accumulated volume effective at now: zero when
// the daily window has elapsed, the stored volume otherwise.
func (t Tracker) DailyVolume(st *agent.RuntimeState, now time.Time) *big.Int {
	if windowElapsed(st.DailyWindowStart, now, t.DailyWindow) {
		return big.NewInt(0)
	}
	return st.DailyVolume
}

// Advance records an approved action on st, resetting either window first
// if it has elapsed. The caller passes a state copy and commits it
// atomically; st is mutated in place.
func (t Tracker) Advance(st *agent.RuntimeState, p *proposal.ActionProposal, now time.Time, windowSeconds int) {
	if windowElapsed(st.WindowStart, now, time.Duration(windowSeconds)*time.Second) {
		st.WindowStart = now
		st.WindowActionCount = 0
	}
	st.WindowActionCount++

	if windowElapsed(st.DailyWindowStart, now, t.DailyWindow) {
		st.DailyWindowStart = now
		st.DailyVolume = big.NewInt(0)
	}
	st.DailyVolume = new(big.Int).Add(st.DailyVolume, p.Value)
}

func windowElapsed(start, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return now.Sub(start) >= window
}
