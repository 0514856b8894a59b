package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"RTPSentinel/internal/audit"
	"RTPSentinel/internal/collector"
	"RTPSentinel/internal/model"
	"RTPSentinel/internal/recorder"
	"RTPSentinel/internal/validator"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendWithRetry(_ context.Context, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeMetrics struct {
	snapshots, reports, anomalies, resets int
	errors                                []string
}

func (m *fakeMetrics) RecordSnapshot(model.HistorySnapshot) { m.snapshots++ }
func (m *fakeMetrics) RecordReport(model.Report)            { m.reports++ }
func (m *fakeMetrics) RecordAnomaly(model.AnomalyRecord)    { m.anomalies++ }
func (m *fakeMetrics) RecordError(stage string)             { m.errors = append(m.errors, stage) }
func (m *fakeMetrics) ResetRun()                            { m.resets++ }

type fixture struct {
	sched   *Scheduler
	engine  *audit.Engine
	sender  *fakeSender
	metrics *fakeMetrics
	report  string
}

func newFixture(t *testing.T, sup collector.Supplier) *fixture {
	t.Helper()
	policy, err := validator.NewPolicy(validator.Settings{
		OverallTargetRTP:      96,
		OverallTolerance:      0.5,
		CriticalFactor:        2,
		MinRounds:             100,
		MaxLosingStreak:       50,
		ClientDeviationFactor: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		sender:  &fakeSender{},
		metrics: &fakeMetrics{},
		report:  filepath.Join(t.TempDir(), "report.json"),
	}
	f.engine = audit.New(policy, audit.WithAnomalyHook(func(a model.AnomalyRecord) { f.sched.OnAnomaly(a) }))
	f.sched = NewScheduler(context.Background(), Deps{
		Engine:   f.engine,
		Ingestor: collector.NewIngestor(sup),
		Plans: []collector.FetchRequest{
			{GameID: "dice", ClientID: "alice", BetAmount: 1, Total: 200, BatchSize: 100},
			{GameID: "limbo", ClientID: "bob", BetAmount: 1, Total: 100, BatchSize: 50},
		},
		Recorder: recorder.NewFileRecorder(f.report),
		Notifier: f.sender,
		Metrics:  f.metrics,
	}, zap.NewNop())
	return f
}

func TestScheduler_IngestSnapshotReport(t *testing.T) {
	// 97.5% is critical once enough rounds are in.
	f := newFixture(t, &collector.MockSupplier{Bet: 1, Payout: 0.975})

	f.sched.RunIngestNow()
	if got := f.sched.roundCount(); got != 300 {
		t.Fatalf("rounds = %d, want 300", got)
	}

	f.sched.snapshotTask()
	if f.metrics.snapshots != 1 {
		t.Errorf("snapshots recorded = %d", f.metrics.snapshots)
	}
	// overall + dice + limbo
	if f.metrics.anomalies != 3 {
		t.Errorf("anomalies forwarded = %d, want 3", f.metrics.anomalies)
	}
	if len(f.sched.alerts) != 3 {
		t.Errorf("queued alerts = %d, want 3", len(f.sched.alerts))
	}

	f.sched.reportTask()
	rep, ok, err := recorder.LoadReport(f.report)
	if err != nil || !ok {
		t.Fatalf("report not recorded: ok=%v err=%v", ok, err)
	}
	if rep.TotalRounds != 300 || rep.IsValid || rep.CriticalErrorCount != 3 {
		t.Errorf("report rounds=%d valid=%v errors=%d", rep.TotalRounds, rep.IsValid, rep.CriticalErrorCount)
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "RTP audit report") {
		t.Errorf("sent %v", msgs)
	}
}

func TestScheduler_PartialIngestionIsReported(t *testing.T) {
	sup := &collector.MockSupplier{
		Bet: 1, Payout: 0.96,
		Script: []collector.MockBatch{
			{Batch: collector.Batch{Rounds: []model.GameRound{{BetAmount: 1, Payout: 1, GameID: "dice", ClientID: "alice"}}}},
			{Err: errors.New("status 502, body: <html>Bad Gateway</html>")},
		},
	}
	f := newFixture(t, sup)
	f.sched.Ingestor = collector.NewIngestor(sup, collector.WithConcurrency(1))
	f.sched.Plans = f.sched.Plans[:1]

	f.sched.RunIngestNow()
	if got := f.sched.roundCount(); got != 1 {
		t.Errorf("rounds = %d, want 1 committed before the failure", got)
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "after 1 rounds") {
		t.Fatalf("sent %v", msgs)
	}
	if strings.Contains(msgs[0], "<html>") || !strings.Contains(msgs[0], "&lt;html&gt;Bad Gateway") {
		t.Errorf("supplier error not escaped: %q", msgs[0])
	}
	if len(f.metrics.errors) != 1 || f.metrics.errors[0] != "ingest_partial" {
		t.Errorf("errors %v", f.metrics.errors)
	}
}

func TestScheduler_ReportBeforeRounds(t *testing.T) {
	f := newFixture(t, &collector.MockSupplier{})
	f.sched.snapshotTask()
	f.sched.reportTask()

	if _, ok, _ := recorder.LoadReport(f.report); ok {
		t.Error("report recorded for an empty run")
	}
	if msgs := f.sender.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "No rounds") {
		t.Errorf("sent %v", msgs)
	}
	if len(f.metrics.errors) != 0 {
		t.Errorf("errors %v", f.metrics.errors)
	}
}

func TestScheduler_HandleCommand(t *testing.T) {
	f := newFixture(t, &collector.MockSupplier{Bet: 1, Payout: 0.96})

	if reply := f.sched.HandleCommand("/scope overall"); !strings.Contains(reply, "no rounds yet") {
		t.Errorf("scope before rounds: %q", reply)
	}
	if reply := f.sched.HandleCommand("/ingest"); !strings.Contains(reply, "300 rounds") {
		t.Errorf("/ingest: %q", reply)
	}

	tests := []struct {
		cmd  string
		want string
	}{
		{"/scope game:dice", "game:dice"},
		{"/scope client:bob", "Rounds: 100"},
		{"/scope game:roulette", "unknown scope"},
		{"/scope table:1", "invalid scope kind"},
		{"/scope", "usage"},
		{"/snapshot", "Rounds: 300"},
		{"/anomalies", "no anomalies"},
		{"hello", "Available commands"},
	}
	for _, tt := range tests {
		if reply := f.sched.HandleCommand(tt.cmd); !strings.Contains(reply, tt.want) {
			t.Errorf("%s: reply %q, want it to contain %q", tt.cmd, reply, tt.want)
		}
	}

	run := f.engine.RunID()
	if reply := f.sched.HandleCommand("/reset"); !strings.Contains(reply, f.engine.RunID()) || f.engine.RunID() == run {
		t.Errorf("/reset: %q", reply)
	}
	if f.metrics.resets != 1 {
		t.Errorf("run gauges reset %d times, want 1", f.metrics.resets)
	}
	if f.engine.State() != audit.StateUninitialized {
		t.Error("engine not reset")
	}
}

func TestScheduler_AnomaliesCommandShowsTotals(t *testing.T) {
	f := newFixture(t, &collector.MockSupplier{Bet: 1, Payout: 0.975})
	f.sched.RunIngestNow()
	f.sched.snapshotTask()

	reply := f.sched.HandleCommand("/anomalies")
	if !strings.Contains(reply, "3 anomalies") || !strings.Contains(reply, "rtp_deviation: 3") {
		t.Errorf("/anomalies: %q", reply)
	}
	if n := strings.Count(reply, "Critical RTP deviation"); n != 3 {
		t.Errorf("listed %d anomalies, want 3", n)
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    model.Scope
		wantErr bool
	}{
		{"overall", model.Overall(), false},
		{"game:dice", model.GameScope("dice"), false},
		{"client:c:1", model.ClientScope("c:1"), false},
		{"game:", model.Scope{}, true},
		{"dice", model.Scope{}, true},
	}
	for _, tt := range tests {
		got, err := parseScope(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseScope(%q) = %v, %v", tt.in, got, err)
		}
	}
}
