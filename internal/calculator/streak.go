package calculator

import (
	"sync"

	"RTPSentinel/internal/model"
)

// StreakEnd reports a losing streak that was just ended by a non-losing round
// and reached the configured threshold.
type StreakEnd struct {
	Scope  model.Scope
	Length int
}

type streakState struct {
	current int
	longest int
}

// StreakTracker follows losing streaks per game and per client.
//
// Detection is retrospective: a streak is only judged when a non-losing round
// ends it, so a streak still running is never reported, however long.
type StreakTracker struct {
	mu        sync.Mutex
	threshold int
	scopes    map[model.Scope]*streakState
}

// NewStreakTracker creates a tracker reporting streaks of at least threshold losses.
func NewStreakTracker(threshold int) *StreakTracker {
	return &StreakTracker{
		threshold: threshold,
		scopes:    make(map[model.Scope]*streakState),
	}
}

// Update applies a round to its game and client scopes and returns the streaks
// it ended that reached the threshold.
func (t *StreakTracker) Update(r model.GameRound) []StreakEnd {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ended []StreakEnd
	for _, sc := range []model.Scope{model.GameScope(r.GameID), model.ClientScope(r.ClientID)} {
		st, ok := t.scopes[sc]
		if !ok {
			st = &streakState{}
			t.scopes[sc] = st
		}

		if r.IsLoss() {
			st.current++
			if st.current > st.longest {
				st.longest = st.current
			}
			continue
		}

		if st.current > 0 && st.current >= t.threshold {
			ended = append(ended, StreakEnd{Scope: sc, Length: st.current})
		}
		st.current = 0
	}
	return ended
}

// Get returns the current and longest losing streak of a scope.
func (t *StreakTracker) Get(sc model.Scope) (current, longest int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.scopes[sc]; ok {
		return st.current, st.longest
	}
	return 0, 0
}

// Reset clears all streaks.
func (t *StreakTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scopes = make(map[model.Scope]*streakState)
}
