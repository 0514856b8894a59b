package recorder

import (
	"context"

	"RTPSentinel/internal/model"
)

// NoopRecorder is used when no sink is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordReport(context.Context, model.Report) error { return nil }
func (n *NoopRecorder) RecordAnomaly(context.Context, string, model.AnomalyRecord) error {
	return nil
}
func (n *NoopRecorder) Close() error { return nil }
