package recorder

import (
	"context"
	"errors"

	"RTPSentinel/internal/model"
)

// Recorder persists or forwards audit output.
type Recorder interface {
	RecordReport(ctx context.Context, rep model.Report) error
	RecordAnomaly(ctx context.Context, runID string, rec model.AnomalyRecord) error
	Close() error
}

// Multi fans out to several recorders. Every recorder is called even when an
// earlier one fails; the errors are joined.
type Multi []Recorder

func (m Multi) RecordReport(ctx context.Context, rep model.Report) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordReport(ctx, rep))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordAnomaly(ctx context.Context, runID string, rec model.AnomalyRecord) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordAnomaly(ctx, runID, rec))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
