package validator

import (
	"math"

	"RTPSentinel/internal/model"
)

// z95 is the two-sided 95% normal quantile.
const z95 = 1.959963984540054

// confidenceTiers maps sample size to a qualitative label, checked top-down.
// A zero MinRounds entry means "at least the configured validation minimum".
var confidenceTiers = []struct {
	MinRounds int64
	Label     string
}{
	{100000, "Very High Confidence"},
	{10000, "High Confidence"},
	{1000, "Moderate Confidence"},
	{0, "Low Confidence"},
}

// InsufficientData is the label used below the validation minimum.
const InsufficientData = "Insufficient Data"

// ConfidenceLabel returns a qualitative confidence label for a sample of the
// given size. It says nothing about the observed deviation.
func ConfidenceLabel(rounds, minRounds int64) string {
	if rounds < minRounds {
		return InsufficientData
	}
	for _, t := range confidenceTiers {
		if rounds >= t.MinRounds {
			return t.Label
		}
	}
	return InsufficientData
}

// StatisticalConfidence tests the mean per-round RTP against a target. It returns
// the z-score, the two-sided confidence (percent) that the mean differs from the
// target, and the 95% confidence interval of the mean. With fewer than two
// samples or no spread, z and level are 0 and the interval collapses to the mean.
func StatisticalConfidence(stats model.ScopeStatistics, target float64) (z, level, low, high float64) {
	mean := stats.MeanRoundRTP
	if stats.RTPSamples < 2 || stats.StdDev == 0 {
		return 0, 0, mean, mean
	}
	se := stats.StdDev / math.Sqrt(float64(stats.RTPSamples))
	z = (mean - target) / se
	level = math.Erf(math.Abs(z)/math.Sqrt2) * 100
	return z, level, mean - z95*se, mean + z95*se
}

// Assess combines both confidence notions for a scope.
func (p *Policy) Assess(stats model.ScopeStatistics) model.Confidence {
	z, level, low, high := StatisticalConfidence(stats, p.TargetFor(stats.Scope))
	return model.Confidence{
		Label:        ConfidenceLabel(stats.Count, p.s.MinRounds),
		Level:        level,
		ZScore:       z,
		IntervalLow:  low,
		IntervalHigh: high,
	}
}
