package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"RTPSentinel/internal/model"
)

// SQLiteRecorder persists reports, history and anomalies to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *zap.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the auditor writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id           TEXT NOT NULL,
			generated_at     INTEGER NOT NULL,
			total_rounds     INTEGER,
			target_rtp       REAL,
			tolerance        REAL,
			actual_rtp       REAL,
			mean_round_rtp   REAL,
			std_dev          REAL,
			deviation        REAL,
			is_valid         INTEGER,
			critical_errors  INTEGER,
			confidence_label TEXT,
			confidence_level REAL,
			payload          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_run ON reports(run_id, generated_at)`,

		`CREATE TABLE IF NOT EXISTS history_snapshots (
			run_id         TEXT NOT NULL,
			timestamp      INTEGER NOT NULL,
			total_rounds   INTEGER NOT NULL,
			actual_rtp     REAL,
			mean_round_rtp REAL,
			std_dev        REAL,
			deviation      REAL,
			is_valid       INTEGER,
			is_critical    INTEGER,
			UNIQUE(run_id, timestamp, total_rounds)
		)`,

		`CREATE TABLE IF NOT EXISTS anomalies (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			kind        TEXT,
			scope_kind  TEXT,
			scope_id    TEXT,
			message     TEXT,
			value       REAL,
			round_count INTEGER,
			timestamp   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_run ON anomalies(run_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS game_summaries (
			report_id             INTEGER NOT NULL,
			game_id               TEXT NOT NULL,
			rounds                INTEGER,
			actual_rtp            REAL,
			target_rtp            REAL,
			mean_round_rtp        REAL,
			deviation             REAL,
			is_valid              INTEGER,
			losing_streak         INTEGER,
			longest_losing_streak INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_summaries_report ON game_summaries(report_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordReport stores the report with its history, anomalies and game summaries
// in one transaction. History points and anomalies already stored are skipped.
func (r *SQLiteRecorder) RecordReport(ctx context.Context, rep model.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO reports
		(run_id, generated_at, total_rounds, target_rtp, tolerance, actual_rtp,
		 mean_round_rtp, std_dev, deviation, is_valid, critical_errors,
		 confidence_label, confidence_level, payload)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.RunID, rep.GeneratedAt.UnixMilli(), rep.TotalRounds,
		rep.OverallTargetRTP, rep.OverallTolerance, rep.FinalActualRTP,
		rep.FinalMeanRoundRTP, rep.FinalStdDev, rep.FinalDeviation,
		rep.IsValid, rep.CriticalErrorCount,
		rep.Confidence.Label, rep.Confidence.Level, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	reportID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, h := range rep.HistorySnapshots {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO history_snapshots
			(run_id, timestamp, total_rounds, actual_rtp, mean_round_rtp, std_dev, deviation, is_valid, is_critical)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			rep.RunID, h.Timestamp.UnixMilli(), h.TotalRounds, h.ActualRTP,
			h.MeanRoundRTP, h.StdDev, h.Deviation, h.IsValid, h.IsCritical,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	for _, a := range rep.CriticalErrorDetails {
		if err := insertAnomaly(ctx, tx, rep.RunID, a); err != nil {
			return err
		}
	}
	for game, s := range rep.PerGameSummary {
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_summaries
			(report_id, game_id, rounds, actual_rtp, target_rtp, mean_round_rtp,
			 deviation, is_valid, losing_streak, longest_losing_streak)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			reportID, game, s.Rounds, s.ActualRTP, s.TargetRTP, s.MeanRoundRTP,
			s.Deviation, s.IsValid, s.LosingStreak, s.LongestLosingStreak,
		); err != nil {
			return fmt.Errorf("insert game summary: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordAnomaly(ctx context.Context, runID string, rec model.AnomalyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return insertAnomaly(ctx, r.db, runID, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAnomaly(ctx context.Context, db execer, runID string, a model.AnomalyRecord) error {
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO anomalies
		(id, run_id, kind, scope_kind, scope_id, message, value, round_count, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, runID, string(a.Kind), string(a.Scope.Kind), a.Scope.ID,
		a.Message, a.Value, a.RoundCountAtDetection, a.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert anomaly %s: %w", a.ID, err)
	}
	return nil
}

// LatestReport returns the most recently stored report. ok is false when the
// database holds none.
func (r *SQLiteRecorder) LatestReport(ctx context.Context) (rep model.Report, ok bool, err error) {
	var payload string
	err = r.db.QueryRowContext(ctx, `SELECT payload FROM reports ORDER BY id DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Report{}, false, nil
	}
	if err != nil {
		return model.Report{}, false, err
	}
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return model.Report{}, false, fmt.Errorf("decode report: %w", err)
	}
	return rep, true, nil
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}
