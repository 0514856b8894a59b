package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"RTPSentinel/internal/model"
)

func validMark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// FormatReport formats an audit report into a Telegram message.
func FormatReport(rep model.Report) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>RTP audit report</b> | %s\n", rep.GeneratedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Run: <code>%s</code>\n\n", rep.RunID))

	b.WriteString(fmt.Sprintf("Rounds: %d\n", rep.TotalRounds))
	b.WriteString(fmt.Sprintf("RTP: %.4f%% (target %.2f%% ± %.2f) %s\n",
		rep.FinalActualRTP, rep.OverallTargetRTP, rep.OverallTolerance, validMark(rep.IsValid)))
	b.WriteString(fmt.Sprintf("Deviation: %.4f | mean round RTP %.2f%% | σ %.2f\n",
		rep.FinalDeviation, rep.FinalMeanRoundRTP, rep.FinalStdDev))
	c := rep.Confidence
	b.WriteString(fmt.Sprintf("Confidence: %s | z %.2f (%.1f%%) | 95%% CI [%.2f, %.2f]\n\n",
		c.Label, c.ZScore, c.Level, c.IntervalLow, c.IntervalHigh))

	if len(rep.PerGameSummary) > 0 {
		b.WriteString("🎲 <b>Games:</b>\n")
		games := make([]string, 0, len(rep.PerGameSummary))
		for g := range rep.PerGameSummary {
			games = append(games, g)
		}
		sort.Strings(games)
		for _, g := range games {
			s := rep.PerGameSummary[g]
			b.WriteString(fmt.Sprintf("  %s: %.2f%% / %.2f%% (%d rounds) %s\n",
				html.EscapeString(g), s.ActualRTP, s.TargetRTP, s.Rounds, validMark(s.IsValid)))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("⚠️ <b>Critical errors:</b> %d\n", rep.CriticalErrorCount))
	const maxListed = 5
	for i, a := range rep.CriticalErrorDetails {
		if i == maxListed {
			b.WriteString(fmt.Sprintf("  … and %d more\n", len(rep.CriticalErrorDetails)-maxListed))
			break
		}
		b.WriteString(fmt.Sprintf("  • %s\n", html.EscapeString(a.Message)))
	}
	return b.String()
}

// FormatAnomaly formats a single anomaly for an immediate alert.
func FormatAnomaly(a model.AnomalyRecord) string {
	var b strings.Builder
	switch a.Kind {
	case model.AnomalyRTPDeviation:
		b.WriteString("🚨 <b>Critical RTP deviation</b>\n")
	case model.AnomalyLosingStreak:
		b.WriteString("🚨 <b>Losing streak</b>\n")
	default:
		b.WriteString("🚨 <b>Anomaly</b>\n")
	}
	b.WriteString(fmt.Sprintf("Scope: %s\n", html.EscapeString(a.Scope.String())))
	b.WriteString(html.EscapeString(a.Message) + "\n")
	b.WriteString(fmt.Sprintf("At round %d, %s", a.RoundCountAtDetection, a.Timestamp.Format(time.RFC3339)))
	return b.String()
}

// FormatAnomalyCounts formats the per-kind totals of a run's anomaly log.
func FormatAnomalyCounts(counts map[model.AnomalyKind]int) string {
	kinds := make([]string, 0, len(counts))
	total := 0
	for k, n := range counts {
		kinds = append(kinds, fmt.Sprintf("%s: %d", html.EscapeString(string(k)), n))
		total += n
	}
	sort.Strings(kinds)
	if len(kinds) == 0 {
		return "📋 <b>0 anomalies</b>"
	}
	return fmt.Sprintf("📋 <b>%d anomalies</b> (%s)", total, strings.Join(kinds, ", "))
}

// FormatSnapshot formats one periodic validation.
func FormatSnapshot(s model.HistorySnapshot) string {
	return fmt.Sprintf("📈 <b>Snapshot</b> | %s\nRounds: %d\nRTP: %.4f%% (deviation %.4f) %s",
		s.Timestamp.Format("2006-01-02 15:04"), s.TotalRounds, s.ActualRTP, s.Deviation, validMark(s.IsValid))
}

// FormatScope formats the statistics of one scope.
func FormatScope(s model.ScopeStatistics) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 <b>%s</b>\n", html.EscapeString(s.Scope.String())))
	b.WriteString(fmt.Sprintf("Rounds: %d (%d with a stake)\n", s.Count, s.RTPSamples))
	b.WriteString(fmt.Sprintf("RTP: %.4f%% | mean round RTP %.2f%% | σ %.2f\n", s.CumulativeRTP(), s.MeanRoundRTP, s.StdDev))
	b.WriteString(fmt.Sprintf("Round RTP range: %.2f%% – %.2f%%\n", s.MinRoundRTP, s.MaxRoundRTP))
	b.WriteString(fmt.Sprintf("Losing streak: %d (longest %d)", s.CurrentLosingStreak, s.LongestLosingStreak))
	return b.String()
}
