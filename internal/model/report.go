package model

import "time"

// HistorySnapshot is one periodic validation of the overall scope.
type HistorySnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	TotalRounds  int64     `json:"total_rounds"`
	ActualRTP    float64   `json:"actual_rtp"`
	MeanRoundRTP float64   `json:"mean_round_rtp"`
	StdDev       float64   `json:"std_dev"`
	Deviation    float64   `json:"deviation"`
	IsValid      bool      `json:"is_valid"`
	IsCritical   bool      `json:"is_critical"`
}

// GameSummary is the per-game section of a Report.
type GameSummary struct {
	Rounds              int64   `json:"rounds"`
	ActualRTP           float64 `json:"actual_rtp"`
	TargetRTP           float64 `json:"target_rtp"`
	MeanRoundRTP        float64 `json:"mean_round_rtp"`
	Deviation           float64 `json:"deviation"`
	IsValid             bool    `json:"is_valid"`
	LosingStreak        int     `json:"losing_streak"`
	LongestLosingStreak int     `json:"longest_losing_streak"`
}

// ClientSummary is the per-client section of a Report.
type ClientSummary struct {
	Rounds              int64   `json:"rounds"`
	ActualRTP           float64 `json:"actual_rtp"`
	MeanRoundRTP        float64 `json:"mean_round_rtp"`
	LosingStreak        int     `json:"losing_streak"`
	LongestLosingStreak int     `json:"longest_losing_streak"`
}

// Confidence carries both confidence notions side by side: a qualitative label
// derived from sample size, and a numeric level derived from a z-score.
type Confidence struct {
	Label        string  `json:"label"`
	Level        float64 `json:"level"` // percent
	ZScore       float64 `json:"z_score"`
	IntervalLow  float64 `json:"interval_low"`
	IntervalHigh float64 `json:"interval_high"`
}

// Report is a read-only snapshot of an audit run.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	TotalRounds      int64   `json:"total_rounds"`
	OverallTargetRTP float64 `json:"overall_target_rtp"`
	OverallTolerance float64 `json:"overall_tolerance"`

	FinalActualRTP    float64 `json:"final_actual_rtp"`
	FinalMeanRoundRTP float64 `json:"final_mean_round_rtp"`
	FinalStdDev       float64 `json:"final_std_dev"`
	FinalDeviation    float64 `json:"final_deviation"`
	IsValid           bool    `json:"is_valid"`

	CriticalErrorCount   int               `json:"critical_error_count"`
	CriticalErrorDetails []AnomalyRecord   `json:"critical_error_details"`
	HistorySnapshots     []HistorySnapshot `json:"history_snapshots"`

	PerGameSummary   map[string]GameSummary   `json:"per_game_summary"`
	PerClientSummary map[string]ClientSummary `json:"per_client_summary"`

	Confidence Confidence `json:"confidence"`
}
