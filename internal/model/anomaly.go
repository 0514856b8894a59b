package model

import "time"

// AnomalyKind classifies a detected critical condition.
type AnomalyKind string

const (
	AnomalyRTPDeviation AnomalyKind = "rtp_deviation"
	AnomalyLosingStreak AnomalyKind = "losing_streak"
	AnomalyOther        AnomalyKind = "other"
)

// AnomalyRecord is an immutable entry of the anomaly log.
type AnomalyRecord struct {
	ID                    string      `json:"id"`
	Kind                  AnomalyKind `json:"kind"`
	Scope                 Scope       `json:"scope"`
	Message               string      `json:"message"`
	Value                 float64     `json:"value"` // deviation in points, or streak length
	RoundCountAtDetection int64       `json:"round_count_at_detection"`
	Timestamp             time.Time   `json:"timestamp"`
}
