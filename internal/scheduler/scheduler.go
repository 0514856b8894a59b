package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"RTPSentinel/internal/audit"
	"RTPSentinel/internal/collector"
	"RTPSentinel/internal/model"
	"RTPSentinel/internal/notifier"
	"RTPSentinel/internal/recorder"
)

// Sender delivers chat messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Metrics receives pipeline measurements.
type Metrics interface {
	RecordSnapshot(s model.HistorySnapshot)
	RecordReport(rep model.Report)
	RecordAnomaly(a model.AnomalyRecord)
	RecordError(stage string)
	ResetRun()
}

// Deps are the components a Scheduler drives. Notifier and Metrics may be nil.
type Deps struct {
	Engine   *audit.Engine
	Ingestor *collector.Ingestor
	Plans    []collector.FetchRequest
	Recorder recorder.Recorder
	Notifier Sender
	Metrics  Metrics
}

const alertQueueSize = 64

// Scheduler runs ingestion, snapshot and report jobs on cron schedules.
type Scheduler struct {
	Cron *cron.Cron
	Deps
	Ctx context.Context

	alerts chan string
	log    *zap.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, deps Deps, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Cron:   cron.New(cron.WithSeconds()),
		Deps:   deps,
		Ctx:    ctx,
		alerts: make(chan string, alertQueueSize),
		log:    log,
	}
}

// RegisterAll registers the ingest, snapshot and report jobs.
func (s *Scheduler) RegisterAll(ingestCron, snapshotCron, reportCron string) error {
	if _, err := s.Cron.AddFunc(ingestCron, s.ingestTask); err != nil {
		return fmt.Errorf("register ingest task: %w", err)
	}
	if _, err := s.Cron.AddFunc(snapshotCron, s.snapshotTask); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	if _, err := s.Cron.AddFunc(reportCron, s.reportTask); err != nil {
		return fmt.Errorf("register report task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler and the alert sender.
func (s *Scheduler) Start() {
	go s.sendAlerts()
	s.Cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunIngestNow executes the ingest task immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunIngestNow() {
	s.ingestTask()
}

// OnAnomaly forwards a new anomaly to metrics and the recorder and queues a chat
// alert. It is meant to be the engine's anomaly hook.
func (s *Scheduler) OnAnomaly(a model.AnomalyRecord) {
	if s.Metrics != nil {
		s.Metrics.RecordAnomaly(a)
	}
	if err := s.Recorder.RecordAnomaly(s.Ctx, s.Engine.RunID(), a); err != nil {
		s.log.Error("record anomaly", zap.String("id", a.ID), zap.Error(err))
		s.recordError("record_anomaly")
	}
	if s.Notifier == nil {
		return
	}
	select {
	case s.alerts <- notifier.FormatAnomaly(a):
	default:
		s.log.Warn("alert queue full, dropping alert", zap.String("id", a.ID))
	}
}

func (s *Scheduler) sendAlerts() {
	for {
		select {
		case <-s.Ctx.Done():
			return
		case text := <-s.alerts:
			s.trySend(text)
		}
	}
}

func (s *Scheduler) ingestTask() {
	s.log.Info("running ingest task", zap.Int("plans", len(s.Plans)))
	results, err := s.Ingestor.StreamAll(s.Ctx, s.Plans, s.Engine)
	if err != nil {
		s.log.Error("ingest", zap.Error(err))
		s.recordError("ingest")
		return
	}

	var accepted int
	var failed []string
	for i, res := range results {
		accepted += res.Accepted
		if res.Partial {
			p := s.Plans[i]
			failed = append(failed, fmt.Sprintf("%s/%s after %d rounds: %s",
				html.EscapeString(p.GameID), html.EscapeString(p.ClientID), res.Collected, html.EscapeString(fmt.Sprint(res.Err))))
		}
	}
	s.log.Info("ingest task finished", zap.Int("accepted", accepted), zap.Int("partial_plans", len(failed)))
	if len(failed) > 0 {
		s.recordError("ingest_partial")
		s.trySend("⚠️ <b>Partial ingestion</b>\n" + strings.Join(failed, "\n"))
	}
}

func (s *Scheduler) snapshotTask() {
	if _, err := s.takeSnapshot(); err != nil && !errors.Is(err, audit.ErrUninitialized) {
		s.log.Error("snapshot", zap.Error(err))
	}
}

func (s *Scheduler) takeSnapshot() (model.HistorySnapshot, error) {
	snap, err := s.Engine.Snapshot()
	if errors.Is(err, audit.ErrUninitialized) {
		s.log.Info("no rounds yet, skipping snapshot")
		return snap, err
	}
	if err != nil {
		s.recordError("snapshot")
		return snap, err
	}
	if s.Metrics != nil {
		s.Metrics.RecordSnapshot(snap)
	}
	return snap, nil
}

func (s *Scheduler) reportTask() {
	s.log.Info("running report task")
	rep, err := s.Engine.Generate()
	if errors.Is(err, audit.ErrUninitialized) {
		s.trySend("📊 No rounds audited yet.")
		return
	}
	if err != nil {
		s.log.Error("generate report", zap.Error(err))
		s.recordError("report")
		return
	}

	if err := s.Recorder.RecordReport(s.Ctx, rep); err != nil {
		s.log.Error("record report", zap.Error(err))
		s.recordError("record_report")
	}
	if s.Metrics != nil {
		s.Metrics.RecordReport(rep)
	}
	s.trySend(notifier.FormatReport(rep))
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	switch fields[0] {
	case "/report":
		s.reportTask()
		return ""
	case "/snapshot":
		snap, err := s.takeSnapshot()
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatSnapshot(snap)
	case "/ingest":
		s.ingestTask()
		return fmt.Sprintf("✅ ingestion finished, %d rounds audited", s.roundCount())
	case "/scope":
		if len(fields) != 2 {
			return "usage: /scope overall | game:<id> | client:<id>"
		}
		sc, err := parseScope(fields[1])
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		stats, err := s.Engine.GetSnapshot(sc)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatScope(stats)
	case "/anomalies":
		return s.formatRecentAnomalies(5)
	case "/reset":
		s.Engine.Reset()
		if s.Metrics != nil {
			s.Metrics.ResetRun()
		}
		return fmt.Sprintf("♻️ audit run reset, new run %s", s.Engine.RunID())
	default:
		return helpText
	}
}

const helpText = "Available commands:\n" +
	"• /report\n• /snapshot\n• /ingest\n• /scope overall | game:&lt;id&gt; | client:&lt;id&gt;\n• /anomalies\n• /reset"

func parseScope(s string) (model.Scope, error) {
	if s == model.OverallID {
		return model.Overall(), nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return model.Scope{}, fmt.Errorf("invalid scope %q", s)
	}
	switch model.ScopeKind(kind) {
	case model.ScopeGame:
		return model.GameScope(id), nil
	case model.ScopeClient:
		return model.ClientScope(id), nil
	}
	return model.Scope{}, fmt.Errorf("invalid scope kind %q", kind)
}

func (s *Scheduler) roundCount() int64 {
	stats, err := s.Engine.GetSnapshot(model.Overall())
	if err != nil {
		return 0
	}
	return stats.Count
}

func (s *Scheduler) formatRecentAnomalies(n int) string {
	recs := s.Engine.Anomalies()
	if len(recs) == 0 {
		return "✅ no anomalies in this run"
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	parts := make([]string, 0, len(recs)+1)
	parts = append(parts, notifier.FormatAnomalyCounts(s.Engine.AnomalyCounts()))
	for _, r := range recs {
		parts = append(parts, notifier.FormatAnomaly(r))
	}
	return strings.Join(parts, "\n\n")
}

func (s *Scheduler) recordError(stage string) {
	if s.Metrics != nil {
		s.Metrics.RecordError(stage)
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.log.Error("send notification", zap.Error(err))
		s.recordError("notify")
	}
}
