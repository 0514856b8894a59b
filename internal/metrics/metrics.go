package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"RTPSentinel/internal/model"
)

// Recorder exposes audit and ingestion metrics to Prometheus.
type Recorder struct {
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	roundsFetched *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	overallRTP    prometheus.Gauge
	deviation     prometheus.Gauge
	totalRounds   prometheus.Gauge
	gameRTP       *prometheus.GaugeVec
}

// New registers the audit metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		batches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtpsentinel_batches_total",
				Help: "Supplier batch requests by outcome",
			},
			[]string{"supplier", "outcome"},
		),
		batchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rtpsentinel_batch_duration_seconds",
				Help:    "Duration of supplier batch requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"supplier"},
		),
		roundsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtpsentinel_rounds_fetched_total",
				Help: "Rounds received from suppliers",
			},
			[]string{"supplier"},
		),
		anomalies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtpsentinel_anomalies_total",
				Help: "Anomalies appended to the log",
			},
			[]string{"kind", "scope"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtpsentinel_errors_total",
				Help: "Errors by stage",
			},
			[]string{"stage"},
		),
		overallRTP: f.NewGauge(prometheus.GaugeOpts{
			Name: "rtpsentinel_overall_rtp_percent",
			Help: "Cumulative overall RTP at the last snapshot",
		}),
		deviation: f.NewGauge(prometheus.GaugeOpts{
			Name: "rtpsentinel_overall_deviation_points",
			Help: "Absolute deviation from the overall target at the last snapshot",
		}),
		totalRounds: f.NewGauge(prometheus.GaugeOpts{
			Name: "rtpsentinel_rounds",
			Help: "Rounds aggregated in the current run",
		}),
		gameRTP: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtpsentinel_game_rtp_percent",
				Help: "Cumulative RTP per game at the last report",
			},
			[]string{"game"},
		),
	}
}

// ObserveBatch records one supplier batch attempt.
func (r *Recorder) ObserveBatch(supplier string, rounds int, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.batches.WithLabelValues(supplier, outcome).Inc()
	r.batchDuration.WithLabelValues(supplier).Observe(elapsed.Seconds())
	if err == nil {
		r.roundsFetched.WithLabelValues(supplier).Add(float64(rounds))
	}
}

// RecordAnomaly counts an appended anomaly.
func (r *Recorder) RecordAnomaly(a model.AnomalyRecord) {
	r.anomalies.WithLabelValues(string(a.Kind), string(a.Scope.Kind)).Inc()
}

// RecordError counts a failure in a pipeline stage.
func (r *Recorder) RecordError(stage string) {
	r.errorsTotal.WithLabelValues(stage).Inc()
}

// RecordSnapshot updates the overall gauges.
func (r *Recorder) RecordSnapshot(s model.HistorySnapshot) {
	r.overallRTP.Set(s.ActualRTP)
	r.deviation.Set(s.Deviation)
	r.totalRounds.Set(float64(s.TotalRounds))
}

// RecordReport updates the per-game gauges. Games missing from rep are dropped.
func (r *Recorder) RecordReport(rep model.Report) {
	r.totalRounds.Set(float64(rep.TotalRounds))
	r.gameRTP.Reset()
	for game, s := range rep.PerGameSummary {
		r.gameRTP.WithLabelValues(game).Set(s.ActualRTP)
	}
}

// ResetRun clears the gauges describing the current audit run.
func (r *Recorder) ResetRun() {
	r.overallRTP.Set(0)
	r.deviation.Set(0)
	r.totalRounds.Set(0)
	r.gameRTP.Reset()
}
