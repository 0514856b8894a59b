package validator

import (
	"errors"
	"fmt"

	"RTPSentinel/internal/model"
)

// ErrInvalidSettings is returned when a Policy would be built from settings that
// could silently mask a compliance failure.
var ErrInvalidSettings = errors.New("invalid validation settings")

// Settings are the validation thresholds of an audit run.
type Settings struct {
	OverallTargetRTP      float64
	OverallTolerance      float64
	CriticalFactor        float64
	MinRounds             int64
	MaxLosingStreak       int
	ClientDeviationFactor float64
	GameTargets           map[string]float64
}

// Policy resolves targets per scope and decides when a deviation escalates.
type Policy struct {
	s Settings
}

// NewPolicy validates settings and builds a Policy.
func NewPolicy(s Settings) (*Policy, error) {
	switch {
	case s.OverallTargetRTP <= 0:
		return nil, fmt.Errorf("%w: overall target RTP must be positive, got %v", ErrInvalidSettings, s.OverallTargetRTP)
	case s.OverallTolerance <= 0:
		return nil, fmt.Errorf("%w: tolerance must be positive, got %v", ErrInvalidSettings, s.OverallTolerance)
	case s.CriticalFactor < 1:
		return nil, fmt.Errorf("%w: critical tolerance factor must be >= 1, got %v", ErrInvalidSettings, s.CriticalFactor)
	case s.MinRounds <= 0:
		return nil, fmt.Errorf("%w: min rounds for validation must be positive, got %d", ErrInvalidSettings, s.MinRounds)
	case s.MaxLosingStreak <= 0:
		return nil, fmt.Errorf("%w: max losing streak must be positive, got %d", ErrInvalidSettings, s.MaxLosingStreak)
	case s.ClientDeviationFactor < 1:
		return nil, fmt.Errorf("%w: client deviation factor must be >= 1, got %v", ErrInvalidSettings, s.ClientDeviationFactor)
	}

	targets := make(map[string]float64, len(s.GameTargets))
	for game, target := range s.GameTargets {
		if target <= 0 {
			return nil, fmt.Errorf("%w: target RTP for game %q must be positive, got %v", ErrInvalidSettings, game, target)
		}
		targets[game] = target
	}
	s.GameTargets = targets
	return &Policy{s: s}, nil
}

// Settings returns a copy of the policy's settings.
func (p *Policy) Settings() Settings {
	s := p.s
	s.GameTargets = make(map[string]float64, len(p.s.GameTargets))
	for k, v := range p.s.GameTargets {
		s.GameTargets[k] = v
	}
	return s
}

// TargetFor returns the target RTP of a scope: the game override when one is
// configured, the overall target otherwise. Clients never have their own target.
func (p *Policy) TargetFor(sc model.Scope) float64 {
	if sc.Kind == model.ScopeGame {
		if t, ok := p.s.GameTargets[sc.ID]; ok {
			return t
		}
	}
	return p.s.OverallTargetRTP
}

// criticalFactorFor widens the critical band for clients, who are expected to
// scatter more than the aggregate.
func (p *Policy) criticalFactorFor(sc model.Scope) float64 {
	if sc.Kind == model.ScopeClient {
		return p.s.CriticalFactor * p.s.ClientDeviationFactor
	}
	return p.s.CriticalFactor
}

// Evaluate validates a scope's cumulative RTP. escalate is true only when the
// result is critical and the scope has reached the minimum sample size.
func (p *Policy) Evaluate(stats model.ScopeStatistics) (res model.ValidationResult, escalate bool) {
	res = Validate(stats.CumulativeRTP(), p.TargetFor(stats.Scope), p.s.OverallTolerance, p.criticalFactorFor(stats.Scope))
	res.SampleSufficient = stats.Count >= p.s.MinRounds
	return res, res.IsCritical && res.SampleSufficient
}
