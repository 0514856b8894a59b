package recorder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := ConnectRedis(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("ConnectRedis: %v", err)
	}
	r := NewRedisRecorder(rdb, time.Hour, "rtp:anomalies")
	t.Cleanup(func() { r.Close() })
	return mr, r
}

func TestRedisRecorder_LatestReport(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	if _, ok, err := r.LatestReport(ctx); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	rep := sampleReport()
	if err := r.RecordReport(ctx, rep); err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if ttl := mr.TTL(latestReportKey); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}
	got, ok, err := r.LatestReport(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestReport: ok=%v err=%v", ok, err)
	}
	if got.RunID != rep.RunID || got.TotalRounds != rep.TotalRounds || len(got.PerGameSummary) != 2 {
		t.Errorf("cached report %+v", got)
	}

	mr.Set(latestReportKey, "{not json")
	if _, ok, err := r.LatestReport(ctx); err == nil || ok {
		t.Errorf("corrupt cache: ok=%v err=%v, want error and ok=false", ok, err)
	}
}

func TestRedisRecorder_PublishesAnomalies(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	sub := r.Client.Subscribe(ctx, r.Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	rec := sampleReport().CriticalErrorDetails[0]
	if err := r.RecordAnomaly(ctx, "run-1", rec); err != nil {
		t.Fatalf("RecordAnomaly: %v", err)
	}

	var msg *redis.Message
	select {
	case msg = <-sub.Channel():
	case <-time.After(2 * time.Second):
		t.Fatal("no anomaly published")
	}
	var ev anomalyEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.RunID != "run-1" || ev.ID != rec.ID || ev.Kind != rec.Kind {
		t.Errorf("event %+v", ev)
	}
}
