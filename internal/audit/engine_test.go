package audit

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"RTPSentinel/internal/model"
	"RTPSentinel/internal/validator"
)

func newTestEngine(t *testing.T, mutate func(*validator.Settings), opts ...Option) *Engine {
	t.Helper()
	s := validator.Settings{
		OverallTargetRTP:      96.0,
		OverallTolerance:      0.5,
		CriticalFactor:        2,
		MinRounds:             100,
		MaxLosingStreak:       50,
		ClientDeviationFactor: 2,
	}
	if mutate != nil {
		mutate(&s)
	}
	p, err := validator.NewPolicy(s)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})}, opts...)
	return New(p, opts...)
}

func rnd(bet, payout float64, game, client string) model.GameRound {
	return model.GameRound{BetAmount: bet, Payout: payout, GameID: game, ClientID: client}
}

func mustAdd(t *testing.T, e *Engine, rounds ...model.GameRound) {
	t.Helper()
	for _, r := range rounds {
		if err := e.AddRound(r); err != nil {
			t.Fatalf("AddRound(%+v): %v", r, err)
		}
	}
}

func TestEngine_ConcreteScenarioIsValid(t *testing.T) {
	e := newTestEngine(t, nil)
	mustAdd(t, e,
		rnd(100, 96, "dice", "c1"),
		rnd(50, 48, "dice", "c1"),
		rnd(200, 192, "dice", "c1"),
	)

	rep, err := e.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if rep.TotalRounds != 3 {
		t.Errorf("total rounds = %d, want 3", rep.TotalRounds)
	}
	if rep.FinalActualRTP != 96.0 {
		t.Errorf("final RTP = %v, want 96.0", rep.FinalActualRTP)
	}
	if !rep.IsValid || rep.FinalDeviation != 0 {
		t.Errorf("valid=%v deviation=%v, want valid with zero deviation", rep.IsValid, rep.FinalDeviation)
	}
	if got := rep.PerGameSummary["dice"]; got.Rounds != 3 || got.TargetRTP != 96.0 {
		t.Errorf("dice summary = %+v", got)
	}
}

func TestEngine_StreakAnomalyEmittedOnTheEndingRound(t *testing.T) {
	var hooked []model.AnomalyRecord
	e := newTestEngine(t, func(s *validator.Settings) { s.MaxLosingStreak = 2 },
		WithAnomalyHook(func(r model.AnomalyRecord) { hooked = append(hooked, r) }))

	// Distinct games keep game streaks at one; only the client streak matters here.
	mustAdd(t, e,
		rnd(10, 0, "g1", "alice"),
		rnd(10, 0, "g2", "alice"),
		rnd(10, 0, "g3", "alice"),
	)
	if n := len(e.Anomalies()); n != 0 {
		t.Fatalf("%d anomalies before the streak ended", n)
	}

	mustAdd(t, e, rnd(10, 20, "g4", "alice"))
	recs := e.Anomalies()
	if len(recs) != 1 {
		t.Fatalf("expected exactly one anomaly, got %+v", recs)
	}
	r := recs[0]
	if r.Kind != model.AnomalyLosingStreak || r.Value != 3 || r.RoundCountAtDetection != 4 {
		t.Errorf("unexpected anomaly %+v", r)
	}
	if r.Scope != model.ClientScope("alice") {
		t.Errorf("scope = %v, want client alice", r.Scope)
	}
	if len(hooked) != 1 || hooked[0].ID != r.ID {
		t.Errorf("hook received %+v", hooked)
	}
}

func TestEngine_StreakInProgressIsNotFlagged(t *testing.T) {
	e := newTestEngine(t, func(s *validator.Settings) { s.MaxLosingStreak = 2 })
	for i := 0; i < 10; i++ {
		mustAdd(t, e, rnd(1, 0, "g", "c"))
	}
	rep, _ := e.Generate()
	if rep.CriticalErrorCount != 0 {
		t.Errorf("running streak flagged: %+v", rep.CriticalErrorDetails)
	}
	if got := rep.PerClientSummary["c"].LosingStreak; got != 10 {
		t.Errorf("client losing streak = %d, want 10", got)
	}
}

func TestEngine_DeviationEscalatesOnlyWithEnoughRounds(t *testing.T) {
	e := newTestEngine(t, nil)
	// 97.5% RTP: critical, but only 99 rounds.
	for i := 0; i < 99; i++ {
		mustAdd(t, e, rnd(100, 97.5, "g", "c"))
	}
	if _, err := e.Snapshot(); err != nil {
		t.Fatal(err)
	}
	if n := len(e.Anomalies()); n != 0 {
		t.Fatalf("escalated below min sample: %+v", e.Anomalies())
	}

	mustAdd(t, e, rnd(100, 97.5, "g", "c"))
	snap, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !snap.IsCritical || snap.IsValid {
		t.Errorf("snapshot = %+v, want critical and invalid", snap)
	}

	var overall, game, client int
	for _, r := range e.Anomalies() {
		if r.Kind != model.AnomalyRTPDeviation {
			t.Errorf("unexpected kind %q", r.Kind)
		}
		switch r.Scope.Kind {
		case model.ScopeOverall:
			overall++
		case model.ScopeGame:
			game++
		case model.ScopeClient:
			client++
		}
	}
	// The client band is 0.5*2*2 = 2.0 points wide, so 1.5 points stays quiet there.
	if overall != 1 || game != 1 || client != 0 {
		t.Errorf("anomalies overall=%d game=%d client=%d, want 1/1/0", overall, game, client)
	}

	rep, _ := e.Generate()
	if rep.IsValid || rep.CriticalErrorCount != 2 || len(rep.HistorySnapshots) != 2 {
		t.Errorf("report valid=%v errors=%d history=%d", rep.IsValid, rep.CriticalErrorCount, len(rep.HistorySnapshots))
	}
}

func TestEngine_CriticalScopeEscalatesAgainOnlyAfterNewRounds(t *testing.T) {
	e := newTestEngine(t, nil)
	for i := 0; i < 100; i++ {
		mustAdd(t, e, rnd(100, 97.5, "g", "c"))
	}
	if _, err := e.Snapshot(); err != nil {
		t.Fatal(err)
	}
	if n := len(e.Anomalies()); n != 2 {
		t.Fatalf("first snapshot logged %d anomalies, want 2", n)
	}

	for i := 0; i < 3; i++ {
		if _, err := e.Snapshot(); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(e.Anomalies()); n != 2 {
		t.Errorf("idle snapshots logged %d anomalies, want 2", n)
	}

	mustAdd(t, e, rnd(100, 97.5, "g", "c"))
	if _, err := e.Snapshot(); err != nil {
		t.Fatal(err)
	}
	if n := len(e.Anomalies()); n != 4 {
		t.Errorf("after new rounds %d anomalies, want 4", n)
	}

	rep, _ := e.Generate()
	if len(rep.HistorySnapshots) != 5 {
		t.Errorf("history = %d, want a point per snapshot", len(rep.HistorySnapshots))
	}
}

func TestEngine_GameOverrideTarget(t *testing.T) {
	e := newTestEngine(t, func(s *validator.Settings) { s.GameTargets = map[string]float64{"blackjack": 99.5} })
	for i := 0; i < 200; i++ {
		mustAdd(t, e, rnd(10, 9.95, "blackjack", "c"))
	}
	rep, _ := e.Generate()
	sum := rep.PerGameSummary["blackjack"]
	if sum.TargetRTP != 99.5 || !sum.IsValid {
		t.Errorf("blackjack summary = %+v", sum)
	}
	if rep.IsValid {
		t.Error("overall 99.5 against 96 must be invalid")
	}
}

func TestEngine_IdempotentReads(t *testing.T) {
	e := newTestEngine(t, func(s *validator.Settings) { s.MaxLosingStreak = 1 })
	mustAdd(t, e,
		rnd(10, 0, "g", "a"),
		rnd(10, 30, "g", "b"),
		rnd(5, 1, "h", "a"),
	)
	if _, err := e.Snapshot(); err != nil {
		t.Fatal(err)
	}

	r1, _ := e.Generate()
	r2, _ := e.Generate()
	if !reflect.DeepEqual(r1, r2) {
		t.Errorf("reports differ:\n%+v\n%+v", r1, r2)
	}

	s1, _ := e.GetSnapshot(model.GameScope("g"))
	s2, _ := e.GetSnapshot(model.GameScope("g"))
	if s1 != s2 {
		t.Errorf("scope snapshots differ: %+v vs %+v", s1, s2)
	}
}

func TestEngine_ReportIsDetached(t *testing.T) {
	e := newTestEngine(t, func(s *validator.Settings) { s.MaxLosingStreak = 1 })
	mustAdd(t, e, rnd(10, 0, "g", "a"), rnd(10, 30, "g", "a"))
	_, _ = e.Snapshot()

	r1, _ := e.Generate()
	r1.CriticalErrorDetails[0].Message = "tampered"
	r1.HistorySnapshots[0].ActualRTP = -1
	r1.PerGameSummary["g"] = model.GameSummary{}

	r2, _ := e.Generate()
	if r2.CriticalErrorDetails[0].Message == "tampered" || r2.HistorySnapshots[0].ActualRTP == -1 {
		t.Error("mutating a report changed engine state")
	}
	if r2.PerGameSummary["g"].Rounds != 2 {
		t.Error("mutating a report map changed engine state")
	}
}

func TestEngine_InvalidRoundsSkipped(t *testing.T) {
	e := newTestEngine(t, nil)
	accepted, warnings := e.AddRounds([]model.GameRound{
		rnd(10, 9, "g", "c"),
		rnd(-1, 0, "g", "c"),
		rnd(10, math.NaN(), "g", "c"),
		rnd(10, 9, "", "c"),
		rnd(10, 9, "g", ""),
		rnd(0, 0, "g", "c"),
	})
	if accepted != 2 || len(warnings) != 4 {
		t.Fatalf("accepted=%d warnings=%v", accepted, warnings)
	}

	s, err := e.GetSnapshot(model.Overall())
	if err != nil {
		t.Fatal(err)
	}
	if s.Count != 2 || s.SumBets != 10 || s.RTPSamples != 1 {
		t.Errorf("overall = %+v", s)
	}
	if !errors.Is(e.AddRound(rnd(math.Inf(1), 0, "g", "c")), ErrInvalidRound) {
		t.Error("expected ErrInvalidRound for infinite bet")
	}
}

func TestEngine_StateMachine(t *testing.T) {
	e := newTestEngine(t, nil)
	if e.State() != StateUninitialized {
		t.Fatalf("initial state %q", e.State())
	}
	if _, err := e.Generate(); !errors.Is(err, ErrUninitialized) {
		t.Errorf("Generate before rounds: %v", err)
	}
	if _, err := e.Snapshot(); !errors.Is(err, ErrUninitialized) {
		t.Errorf("Snapshot before rounds: %v", err)
	}

	mustAdd(t, e, rnd(1, 1, "g", "c"))
	if e.State() != StateAccumulating {
		t.Fatalf("state after first round %q", e.State())
	}
	if _, err := e.GetSnapshot(model.GameScope("missing")); !errors.Is(err, ErrUnknownScope) {
		t.Errorf("unknown scope: %v", err)
	}

	run := e.RunID()
	e.Reset()
	if e.State() != StateUninitialized || e.RunID() == run {
		t.Errorf("after reset: state %q run %s", e.State(), e.RunID())
	}
	if _, err := e.GetSnapshot(model.Overall()); !errors.Is(err, ErrUninitialized) {
		t.Errorf("GetSnapshot after reset: %v", err)
	}
	if len(e.Anomalies()) != 0 {
		t.Error("anomalies survived reset")
	}
}

func TestEngine_ConfidenceInReport(t *testing.T) {
	e := newTestEngine(t, nil)
	for i := 0; i < 1000; i++ {
		payout := 0.0
		if i%2 == 0 {
			payout = 19.2
		}
		mustAdd(t, e, rnd(10, payout, "g", "c"))
	}
	rep, _ := e.Generate()
	if rep.Confidence.Label != "Moderate Confidence" {
		t.Errorf("label = %q", rep.Confidence.Label)
	}
	if rep.Confidence.IntervalLow >= 96 || rep.Confidence.IntervalHigh <= 96 {
		t.Errorf("interval [%v, %v] should contain 96", rep.Confidence.IntervalLow, rep.Confidence.IntervalHigh)
	}
}
