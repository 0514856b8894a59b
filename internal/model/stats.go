package model

// ScopeStatistics is a point-in-time copy of the running statistics of one scope.
type ScopeStatistics struct {
	Scope      Scope   `json:"scope"`
	Count      int64   `json:"count"`
	SumBets    float64 `json:"sum_bets"`
	SumPayouts float64 `json:"sum_payouts"`

	// Distribution of per-round RTP percentages, zero-bet rounds excluded.
	RTPSamples   int64   `json:"rtp_samples"`
	MeanRoundRTP float64 `json:"mean_round_rtp"`
	Variance     float64 `json:"variance"`
	StdDev       float64 `json:"std_dev"`
	MinRoundRTP  float64 `json:"min_round_rtp"`
	MaxRoundRTP  float64 `json:"max_round_rtp"`

	CurrentLosingStreak int `json:"current_losing_streak"`
	LongestLosingStreak int `json:"longest_losing_streak"`
}

// CumulativeRTP is the bet-weighted RTP, SumPayouts / SumBets * 100.
// It returns 0 until some money has been wagered.
func (s ScopeStatistics) CumulativeRTP() float64 {
	if s.SumBets == 0 {
		return 0
	}
	return s.SumPayouts / s.SumBets * 100
}

// ValidationResult is the outcome of comparing an actual RTP with its target.
type ValidationResult struct {
	ActualRTP  float64 `json:"actual_rtp"`
	TargetRTP  float64 `json:"target_rtp"`
	Tolerance  float64 `json:"tolerance"`
	Threshold  float64 `json:"critical_threshold"`
	Deviation  float64 `json:"deviation"`
	IsValid    bool    `json:"is_valid"`
	IsCritical bool    `json:"is_critical"`

	// SampleSufficient is false while the scope is below the minimum sample size;
	// such results are informational and never escalate.
	SampleSufficient bool `json:"sample_sufficient"`
}
