package calculator

import (
	"sort"
	"sync"

	"RTPSentinel/internal/model"
)

// scopeState is the live, mutable state of one scope.
type scopeState struct {
	mu         sync.Mutex
	count      int64
	sumBets    float64
	sumPayouts float64
	rtp        Running
}

// Aggregator maintains streaming statistics for every scope it has seen.
// Updates to one scope are serialized; distinct scopes proceed in parallel.
type Aggregator struct {
	mu     sync.RWMutex
	scopes map[model.Scope]*scopeState
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{scopes: make(map[model.Scope]*scopeState)}
}

// AddRound folds a round into the overall, game and client scopes.
func (a *Aggregator) AddRound(r model.GameRound) {
	rtp, hasRTP := r.RoundRTP()
	for _, sc := range model.ScopesOf(r) {
		st := a.state(sc)
		st.mu.Lock()
		st.count++
		if r.BetAmount > 0 {
			st.sumBets += r.BetAmount
			st.sumPayouts += r.Payout
		}
		if hasRTP {
			st.rtp.Add(rtp)
		}
		st.mu.Unlock()
	}
}

// state returns the scope's state, creating it on first use.
func (a *Aggregator) state(sc model.Scope) *scopeState {
	a.mu.RLock()
	st, ok := a.scopes[sc]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.scopes[sc]; ok {
		return st
	}
	st = &scopeState{rtp: NewRunning()}
	a.scopes[sc] = st
	return st
}

// Snapshot returns a copy of a scope's statistics. ok is false if the scope
// has never received a round. Streak fields are left zero; they belong to
// the StreakTracker.
func (a *Aggregator) Snapshot(sc model.Scope) (model.ScopeStatistics, bool) {
	a.mu.RLock()
	st, ok := a.scopes[sc]
	a.mu.RUnlock()
	if !ok {
		return model.ScopeStatistics{Scope: sc}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return model.ScopeStatistics{
		Scope:        sc,
		Count:        st.count,
		SumBets:      st.sumBets,
		SumPayouts:   st.sumPayouts,
		RTPSamples:   st.rtp.N(),
		MeanRoundRTP: st.rtp.Mean(),
		Variance:     st.rtp.Variance(),
		StdDev:       st.rtp.StdDev(),
		MinRoundRTP:  st.rtp.Min(),
		MaxRoundRTP:  st.rtp.Max(),
	}, true
}

// Scopes returns the ids of all known scopes of the given kind, sorted.
func (a *Aggregator) Scopes(kind model.ScopeKind) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var ids []string
	for sc := range a.scopes {
		if sc.Kind == kind {
			ids = append(ids, sc.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reset drops every scope.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scopes = make(map[model.Scope]*scopeState)
}
