package audit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"RTPSentinel/internal/anomaly"
	"RTPSentinel/internal/calculator"
	"RTPSentinel/internal/model"
	"RTPSentinel/internal/validator"
)

// State is the lifecycle position of an audit run.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateAccumulating  State = "accumulating"
)

var (
	// ErrInvalidRound marks round data that cannot be aggregated.
	ErrInvalidRound = errors.New("invalid round")
	// ErrUninitialized is returned by reads before the first round was added.
	ErrUninitialized = errors.New("audit run has no rounds yet")
	// ErrUnknownScope is returned for a scope that never received a round.
	ErrUnknownScope = errors.New("unknown scope")
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAnomalyHook registers a callback invoked for every appended anomaly.
// It runs outside the engine lock and may call back into the engine.
func WithAnomalyHook(fn func(model.AnomalyRecord)) Option {
	return func(e *Engine) { e.onAnomaly = fn }
}

// Engine ties the aggregator, streak tracker, validator and anomaly log into one
// audit run. Adding a round updates statistics and streaks as a single step.
type Engine struct {
	mu        sync.RWMutex
	policy    *validator.Policy
	agg       *calculator.Aggregator
	streaks   *calculator.StreakTracker
	anomalies *anomaly.Log
	history   []model.HistorySnapshot

	runID      string
	state      State
	rounds     int64
	lastChange time.Time
	// escalatedAt is the round count of the last snapshot that escalated.
	escalatedAt int64

	now       func() time.Time
	log       *zap.Logger
	onAnomaly func(model.AnomalyRecord)
}

// New creates an Engine for the given policy.
func New(policy *validator.Policy, opts ...Option) *Engine {
	e := &Engine{
		policy:    policy,
		agg:       calculator.NewAggregator(),
		streaks:   calculator.NewStreakTracker(policy.Settings().MaxLosingStreak),
		anomalies: anomaly.NewLog(),
		runID:     uuid.NewString(),
		state:     StateUninitialized,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateRound checks that a round carries usable amounts and identifiers.
func ValidateRound(r model.GameRound) error {
	switch {
	case math.IsNaN(r.BetAmount) || math.IsInf(r.BetAmount, 0) || r.BetAmount < 0:
		return fmt.Errorf("%w: bet amount %v", ErrInvalidRound, r.BetAmount)
	case math.IsNaN(r.Payout) || math.IsInf(r.Payout, 0) || r.Payout < 0:
		return fmt.Errorf("%w: payout %v", ErrInvalidRound, r.Payout)
	case r.GameID == "":
		return fmt.Errorf("%w: missing game id", ErrInvalidRound)
	case r.ClientID == "":
		return fmt.Errorf("%w: missing client id", ErrInvalidRound)
	}
	return nil
}

// AddRound aggregates one round. Losing streaks it ends are logged as anomalies.
func (e *Engine) AddRound(r model.GameRound) error {
	if err := ValidateRound(r); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = e.now()
	}

	e.mu.Lock()
	e.agg.AddRound(r)
	ended := e.streaks.Update(r)
	e.rounds++
	e.state = StateAccumulating
	e.lastChange = e.now()

	var recs []model.AnomalyRecord
	for _, end := range ended {
		recs = append(recs, e.anomalies.Append(model.AnomalyRecord{
			Kind:  model.AnomalyLosingStreak,
			Scope: end.Scope,
			Message: fmt.Sprintf("losing streak of %d rounds ended on %s (threshold %d)",
				end.Length, end.Scope, e.policy.Settings().MaxLosingStreak),
			Value:                 float64(end.Length),
			RoundCountAtDetection: e.rounds,
			Timestamp:             r.Timestamp,
		}))
	}
	e.mu.Unlock()

	e.publish(recs)
	return nil
}

// AddRounds aggregates a batch, skipping invalid rounds. It returns how many
// rounds were accepted and a warning per skipped round.
func (e *Engine) AddRounds(rounds []model.GameRound) (accepted int, warnings []string) {
	for i, r := range rounds {
		if err := e.AddRound(r); err != nil {
			w := fmt.Sprintf("round %d skipped: %v", i, err)
			e.log.Warn("skipping round", zap.Int("index", i), zap.Error(err))
			warnings = append(warnings, w)
			continue
		}
		accepted++
	}
	return accepted, warnings
}

// Snapshot validates every scope, escalates critical deviations on scopes with
// enough rounds, and appends an overall history point. Scopes are escalated
// again only after new rounds arrived.
func (e *Engine) Snapshot() (model.HistorySnapshot, error) {
	e.mu.Lock()
	if e.state == StateUninitialized {
		e.mu.Unlock()
		return model.HistorySnapshot{}, ErrUninitialized
	}

	now := e.now()
	overall := e.scopeStats(model.Overall())
	overallRes, _ := e.policy.Evaluate(overall)

	var recs []model.AnomalyRecord
	var scopes []model.Scope
	if e.rounds != e.escalatedAt {
		scopes = append(scopes, model.Overall())
		for _, id := range e.agg.Scopes(model.ScopeGame) {
			scopes = append(scopes, model.GameScope(id))
		}
		for _, id := range e.agg.Scopes(model.ScopeClient) {
			scopes = append(scopes, model.ClientScope(id))
		}
		e.escalatedAt = e.rounds
	}
	for _, sc := range scopes {
		stats := e.scopeStats(sc)
		res, escalate := e.policy.Evaluate(stats)
		if !escalate {
			continue
		}
		recs = append(recs, e.anomalies.Append(model.AnomalyRecord{
			Kind:  model.AnomalyRTPDeviation,
			Scope: sc,
			Message: fmt.Sprintf("%s RTP %.4f%% deviates %.4f from target %.2f%% (critical above %.4f, %d rounds)",
				sc, res.ActualRTP, res.Deviation, res.TargetRTP, res.Threshold, stats.Count),
			Value:                 res.Deviation,
			RoundCountAtDetection: e.rounds,
			Timestamp:             now,
		}))
	}

	snap := model.HistorySnapshot{
		Timestamp:    now,
		TotalRounds:  overall.Count,
		ActualRTP:    overallRes.ActualRTP,
		MeanRoundRTP: overall.MeanRoundRTP,
		StdDev:       overall.StdDev,
		Deviation:    overallRes.Deviation,
		IsValid:      overallRes.IsValid,
		IsCritical:   overallRes.IsCritical,
	}
	e.history = append(e.history, snap)
	e.lastChange = now
	e.mu.Unlock()

	e.log.Info("snapshot taken",
		zap.Int64("rounds", snap.TotalRounds),
		zap.Float64("rtp", snap.ActualRTP),
		zap.Float64("deviation", snap.Deviation),
		zap.Bool("valid", snap.IsValid),
		zap.Int("new_anomalies", len(recs)),
	)
	e.publish(recs)
	return snap, nil
}

// GetSnapshot returns a copy of one scope's statistics, streaks included.
func (e *Engine) GetSnapshot(sc model.Scope) (model.ScopeStatistics, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == StateUninitialized {
		return model.ScopeStatistics{}, ErrUninitialized
	}
	if _, ok := e.agg.Snapshot(sc); !ok {
		return model.ScopeStatistics{}, fmt.Errorf("%w: %s", ErrUnknownScope, sc)
	}
	return e.scopeStats(sc), nil
}

// Anomalies returns a copy of the anomaly log.
func (e *Engine) Anomalies() []model.AnomalyRecord {
	return e.anomalies.Records()
}

// AnomalyCounts tallies the anomaly log per kind.
func (e *Engine) AnomalyCounts() map[model.AnomalyKind]int {
	return e.anomalies.CountByKind()
}

// State returns the run state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// RunID identifies the current run; it changes on Reset.
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// Policy returns the validation policy of the engine.
func (e *Engine) Policy() *validator.Policy { return e.policy }

// Reset clears statistics, streaks, anomalies and history and starts a new run.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agg.Reset()
	e.streaks.Reset()
	e.anomalies.Reset()
	e.history = nil
	e.rounds = 0
	e.escalatedAt = 0
	e.state = StateUninitialized
	e.lastChange = time.Time{}
	e.runID = uuid.NewString()
	e.log.Info("audit run reset", zap.String("run_id", e.runID))
}

// scopeStats merges aggregator and streak state. Callers hold e.mu.
func (e *Engine) scopeStats(sc model.Scope) model.ScopeStatistics {
	s, _ := e.agg.Snapshot(sc)
	s.CurrentLosingStreak, s.LongestLosingStreak = e.streaks.Get(sc)
	return s
}

func (e *Engine) publish(recs []model.AnomalyRecord) {
	for _, r := range recs {
		e.log.Warn("anomaly detected",
			zap.String("kind", string(r.Kind)),
			zap.String("scope", r.Scope.String()),
			zap.Float64("value", r.Value),
			zap.Int64("round", r.RoundCountAtDetection),
		)
		if e.onAnomaly != nil {
			e.onAnomaly(r)
		}
	}
}
