package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"RTPSentinel/internal/model"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleReport() model.Report {
	streak := model.AnomalyRecord{
		ID: "a-1", Kind: model.AnomalyLosingStreak, Scope: model.ClientScope("alice"),
		Message: "streak", Value: 60, RoundCountAtDetection: 420, Timestamp: testTime,
	}
	return model.Report{
		RunID:                "run-1",
		GeneratedAt:          testTime,
		TotalRounds:          1000,
		OverallTargetRTP:     96,
		OverallTolerance:     0.5,
		FinalActualRTP:       96.2,
		FinalDeviation:       0.2,
		IsValid:              true,
		CriticalErrorCount:   1,
		CriticalErrorDetails: []model.AnomalyRecord{streak},
		HistorySnapshots: []model.HistorySnapshot{
			{Timestamp: testTime.Add(-time.Minute), TotalRounds: 500, ActualRTP: 95.9, IsValid: true},
			{Timestamp: testTime, TotalRounds: 1000, ActualRTP: 96.2, IsValid: true},
		},
		PerGameSummary: map[string]model.GameSummary{
			"dice":  {Rounds: 600, ActualRTP: 96.1, TargetRTP: 96, IsValid: true},
			"limbo": {Rounds: 400, ActualRTP: 96.4, TargetRTP: 96, IsValid: true},
		},
		PerClientSummary: map[string]model.ClientSummary{"alice": {Rounds: 1000}},
		Confidence:       model.Confidence{Label: "Moderate Confidence", Level: 40},
	}
}

func countRows(t *testing.T, r *SQLiteRecorder, table string) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSQLiteRecorder(t *testing.T) {
	ctx := context.Background()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "audit.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, ok, err := r.LatestReport(ctx); err != nil || ok {
		t.Fatalf("empty db: ok=%v err=%v", ok, err)
	}

	rep := sampleReport()
	if err := r.RecordAnomaly(ctx, rep.RunID, rep.CriticalErrorDetails[0]); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := r.RecordReport(ctx, rep); err != nil {
			t.Fatalf("RecordReport #%d: %v", i, err)
		}
	}

	tests := []struct {
		table string
		want  int
	}{
		{"reports", 2},
		{"history_snapshots", 2},
		{"anomalies", 1},
		{"game_summaries", 4},
	}
	for _, tt := range tests {
		if got := countRows(t, r, tt.table); got != tt.want {
			t.Errorf("%s rows = %d, want %d", tt.table, got, tt.want)
		}
	}

	latest, ok, err := r.LatestReport(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestReport: ok=%v err=%v", ok, err)
	}
	if latest.RunID != rep.RunID || latest.FinalActualRTP != rep.FinalActualRTP || !latest.GeneratedAt.Equal(rep.GeneratedAt) {
		t.Errorf("latest report %+v", latest)
	}
}

func TestFileRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if _, ok, err := LoadReport(path); ok || err != nil {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}

	f := NewFileRecorder(path)
	rep := sampleReport()
	if err := f.RecordReport(context.Background(), rep); err != nil {
		t.Fatal(err)
	}
	rep.TotalRounds = 2000
	if err := f.RecordReport(context.Background(), rep); err != nil {
		t.Fatal(err)
	}

	got, ok, err := LoadReport(path)
	if err != nil || !ok {
		t.Fatalf("LoadReport: ok=%v err=%v", ok, err)
	}
	if got.TotalRounds != 2000 || len(got.CriticalErrorDetails) != 1 || got.PerGameSummary["dice"].Rounds != 600 {
		t.Errorf("loaded report %+v", got)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaRecorder(t *testing.T) {
	reports, anomalies := &fakeWriter{}, &fakeWriter{}
	k := &KafkaRecorder{reports: reports, anomalies: anomalies, log: zap.NewNop()}
	rep := sampleReport()

	if err := k.RecordReport(context.Background(), rep); err != nil {
		t.Fatal(err)
	}
	if err := k.RecordAnomaly(context.Background(), rep.RunID, rep.CriticalErrorDetails[0]); err != nil {
		t.Fatal(err)
	}

	if len(reports.msgs) != 1 || string(reports.msgs[0].Key) != "run-1" {
		t.Fatalf("report messages %+v", reports.msgs)
	}
	if len(anomalies.msgs) != 1 || string(anomalies.msgs[0].Key) != "client:alice" {
		t.Fatalf("anomaly messages %+v", anomalies.msgs)
	}
	var evt map[string]any
	if err := json.Unmarshal(anomalies.msgs[0].Value, &evt); err != nil {
		t.Fatal(err)
	}
	if evt["run_id"] != "run-1" || evt["kind"] != "losing_streak" {
		t.Errorf("anomaly event %v", evt)
	}
}

type failingRecorder struct{ *NoopRecorder }

var errSink = errors.New("sink down")

func (failingRecorder) RecordReport(context.Context, model.Report) error { return errSink }

func TestMulti_CallsEveryRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	m := Multi{failingRecorder{NewNoopRecorder()}, NewFileRecorder(path)}

	err := m.RecordReport(context.Background(), sampleReport())
	if !errors.Is(err, errSink) {
		t.Errorf("err = %v, want sink error", err)
	}
	if _, ok, _ := LoadReport(path); !ok {
		t.Error("second recorder skipped after first failed")
	}
	if err := m.RecordAnomaly(context.Background(), "run", model.AnomalyRecord{}); err != nil {
		t.Errorf("RecordAnomaly: %v", err)
	}
}
