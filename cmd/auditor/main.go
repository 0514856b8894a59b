package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"RTPSentinel/internal/audit"
	"RTPSentinel/internal/collector"
	"RTPSentinel/internal/config"
	"RTPSentinel/internal/logger"
	"RTPSentinel/internal/metrics"
	"RTPSentinel/internal/model"
	"RTPSentinel/internal/notifier"
	"RTPSentinel/internal/recorder"
	"RTPSentinel/internal/scheduler"
	"RTPSentinel/internal/validator"
)

const serviceName = "rtp-sentinel"

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(serviceName, cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("auditor failed", zap.Error(err))
	}
	log.Info("RTP sentinel stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	policy, err := validator.NewPolicy(validator.Settings{
		OverallTargetRTP:      cfg.Audit.OverallTargetRTP,
		OverallTolerance:      cfg.Audit.OverallTolerance,
		CriticalFactor:        cfg.Audit.CriticalToleranceFactor,
		MinRounds:             cfg.Audit.MinRoundsForValidation,
		MaxLosingStreak:       cfg.Audit.MaxLosingStreak,
		ClientDeviationFactor: cfg.Audit.ClientDeviationFactor,
		GameTargets:           cfg.Audit.GameSpecificRTPs,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mr := metrics.New(reg)

	supplier := newSupplier(cfg)
	log.Info("round supplier", zap.String("supplier", supplier.Name()))
	if cfg.Supplier.Type == "simulator" {
		checkSimulatedGames(cfg.Ingest.Games, log)
	}
	ingestor := collector.NewIngestor(supplier,
		collector.WithBatchTimeout(cfg.Ingest.BatchTimeout),
		collector.WithRetry(cfg.Ingest.RetryAttempts, cfg.Ingest.RetryBackoff),
		collector.WithConcurrency(cfg.Ingest.Concurrency),
		collector.WithIngestLogger(log.Named("ingest")),
		collector.WithObserver(mr),
	)

	rec := newRecorder(ctx, cfg, log)
	defer rec.Close()

	var sched *scheduler.Scheduler
	engine := audit.New(policy,
		audit.WithLogger(log.Named("audit")),
		audit.WithAnomalyHook(func(a model.AnomalyRecord) { sched.OnAnomaly(a) }),
	)
	log.Info("audit run started", zap.String("run_id", engine.RunID()))

	deps := scheduler.Deps{
		Engine:   engine,
		Ingestor: ingestor,
		Plans:    fetchPlans(cfg),
		Recorder: rec,
		Metrics:  mr,
	}
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Supplier.Proxy, log.Named("telegram"))
		deps.Notifier = tn
	}

	sched = scheduler.NewScheduler(ctx, deps, log.Named("scheduler"))
	if err := sched.RegisterAll(cfg.Schedule.IngestCron, cfg.Schedule.SnapshotCron, cfg.Schedule.ReportCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	go func() {
		h := metrics.NewHandler(reg, engine.Generate)
		if err := metrics.Serve(ctx, ":"+cfg.Metrics.Port, h, log); err != nil {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, ingesting now")
		go sched.RunIngestNow()
	}

	log.Info("RTP sentinel is running")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping")
	return nil
}

func newSupplier(cfg *config.Config) collector.Supplier {
	if cfg.Supplier.Type == "http" {
		return collector.NewHTTPSupplier(cfg.Supplier.BaseURL, cfg.Supplier.APIKey, cfg.Supplier.Proxy)
	}
	rtp := cfg.Simulator.TargetHitRTP
	if rtp == 0 {
		rtp = cfg.Audit.OverallTargetRTP
	}
	return collector.NewSimulatedSupplier(cfg.Simulator.ServerSeed, cfg.Simulator.ClientSeed, rtp)
}

// checkSimulatedGames warns about configured games the simulator cannot play;
// their plans fail on the first batch.
func checkSimulatedGames(games []string, log *zap.Logger) {
	known := collector.SimulatedGames()
	for _, g := range games {
		if !slices.Contains(known, g) {
			log.Warn("game not supported by the simulator", zap.String("game", g), zap.Strings("supported", known))
		}
	}
}

func fetchPlans(cfg *config.Config) []collector.FetchRequest {
	plans := make([]collector.FetchRequest, 0, len(cfg.Ingest.Games))
	for _, game := range cfg.Ingest.Games {
		plans = append(plans, collector.FetchRequest{
			Company:   cfg.Ingest.Company,
			GameID:    game,
			ClientID:  cfg.Ingest.ClientID,
			BetAmount: cfg.Ingest.BetAmount,
			Total:     cfg.Ingest.SpinsRequested,
			BatchSize: cfg.Ingest.BatchSize,
		})
	}
	return plans
}

// newRecorder wires every configured sink. A sink that fails to start is
// skipped with a warning rather than stopping the auditor.
func newRecorder(ctx context.Context, cfg *config.Config, log *zap.Logger) recorder.Recorder {
	var sinks recorder.Multi
	for _, path := range []string{cfg.Database.SQLitePath, cfg.ReportFile} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Warn("create data directory", zap.String("path", path), zap.Error(err))
		}
	}
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log.Named("sqlite"))
		if err != nil {
			log.Warn("init sqlite recorder failed, skipping", zap.Error(err))
		} else {
			sinks = append(sinks, sr)
		}
	}
	if cfg.ReportFile != "" {
		sinks = append(sinks, recorder.NewFileRecorder(cfg.ReportFile))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, recorder.NewKafkaRecorder(cfg.Kafka.Brokers, cfg.Kafka.ReportTopic, cfg.Kafka.AnomalyTopic, log.Named("kafka")))
	}
	if cfg.Redis.Addr != "" {
		rdb, err := recorder.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("init redis recorder failed, skipping", zap.Error(err))
		} else {
			sinks = append(sinks, recorder.NewRedisRecorder(rdb, cfg.Redis.TTL, cfg.Redis.Channel))
		}
	}
	if len(sinks) == 0 {
		return recorder.NewNoopRecorder()
	}
	return sinks
}
