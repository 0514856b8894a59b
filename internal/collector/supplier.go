package collector

import (
	"context"
	"errors"

	"RTPSentinel/internal/model"
)

var (
	// ErrEmptyBatch is returned when a supplier answers with no records at all.
	ErrEmptyBatch = errors.New("supplier returned an empty batch")
	// ErrMalformedBatch is returned when a supplier response lacks the round list.
	ErrMalformedBatch = errors.New("supplier response has no round list")
)

// BatchRequest asks a supplier for one batch of rounds.
type BatchRequest struct {
	Company   string
	GameID    string
	ClientID  string
	BetAmount float64
	Spins     int
}

// Batch is the answer to a BatchRequest. Skipped counts records the supplier
// dropped while decoding; Warnings name them.
type Batch struct {
	Rounds   []model.GameRound
	Skipped  int
	Warnings []string
}

// Supplier produces game rounds in batches.
type Supplier interface {
	FetchBatch(ctx context.Context, req BatchRequest) (Batch, error)
	Name() string
}
