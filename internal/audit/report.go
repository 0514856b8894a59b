package audit

import (
	"RTPSentinel/internal/model"
)

// Generate builds a Report from the current state. It never mutates the run, and
// repeated calls without new rounds or snapshots return identical reports.
func (e *Engine) Generate() (model.Report, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == StateUninitialized {
		return model.Report{}, ErrUninitialized
	}

	settings := e.policy.Settings()
	overall := e.scopeStats(model.Overall())
	overallRes, _ := e.policy.Evaluate(overall)
	anomalies := e.anomalies.Records()

	history := make([]model.HistorySnapshot, len(e.history))
	copy(history, e.history)

	rep := model.Report{
		RunID:                e.runID,
		GeneratedAt:          e.lastChange,
		TotalRounds:          overall.Count,
		OverallTargetRTP:     settings.OverallTargetRTP,
		OverallTolerance:     settings.OverallTolerance,
		FinalActualRTP:       overallRes.ActualRTP,
		FinalMeanRoundRTP:    overall.MeanRoundRTP,
		FinalStdDev:          overall.StdDev,
		FinalDeviation:       overallRes.Deviation,
		IsValid:              overallRes.IsValid,
		CriticalErrorCount:   len(anomalies),
		CriticalErrorDetails: anomalies,
		HistorySnapshots:     history,
		PerGameSummary:       make(map[string]model.GameSummary),
		PerClientSummary:     make(map[string]model.ClientSummary),
		Confidence:           e.policy.Assess(overall),
	}

	for _, id := range e.agg.Scopes(model.ScopeGame) {
		s := e.scopeStats(model.GameScope(id))
		res, _ := e.policy.Evaluate(s)
		rep.PerGameSummary[id] = model.GameSummary{
			Rounds:              s.Count,
			ActualRTP:           res.ActualRTP,
			TargetRTP:           res.TargetRTP,
			MeanRoundRTP:        s.MeanRoundRTP,
			Deviation:           res.Deviation,
			IsValid:             res.IsValid,
			LosingStreak:        s.CurrentLosingStreak,
			LongestLosingStreak: s.LongestLosingStreak,
		}
	}
	for _, id := range e.agg.Scopes(model.ScopeClient) {
		s := e.scopeStats(model.ClientScope(id))
		rep.PerClientSummary[id] = model.ClientSummary{
			Rounds:              s.Count,
			ActualRTP:           s.CumulativeRTP(),
			MeanRoundRTP:        s.MeanRoundRTP,
			LosingStreak:        s.CurrentLosingStreak,
			LongestLosingStreak: s.LongestLosingStreak,
		}
	}
	return rep, nil
}
