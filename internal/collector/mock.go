package collector

import (
	"context"
	"sync"
	"time"

	"RTPSentinel/internal/model"
)

// MockSupplier serves scripted batches for development and testing. Calls are
// answered from Script in order; once it is exhausted, rounds are generated
// with Bet and Payout.
type MockSupplier struct {
	Script []MockBatch
	Bet    float64
	Payout float64

	mu    sync.Mutex
	calls []BatchRequest
}

// MockBatch is one scripted answer. Delay makes the call block, honouring the
// context, before answering.
type MockBatch struct {
	Batch Batch
	Err   error
	Delay time.Duration
}

func (m *MockSupplier) Name() string { return "mock" }

func (m *MockSupplier) FetchBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	m.mu.Lock()
	i := len(m.calls)
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if i >= len(m.Script) {
		return Batch{Rounds: generateMockRounds(req, m.Bet, m.Payout)}, nil
	}
	step := m.Script[i]
	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case <-time.After(step.Delay):
		}
	}
	return step.Batch, step.Err
}

// Calls returns the requests received so far.
func (m *MockSupplier) Calls() []BatchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func generateMockRounds(req BatchRequest, bet, payout float64) []model.GameRound {
	rounds := make([]model.GameRound, req.Spins)
	for i := range rounds {
		rounds[i] = model.GameRound{
			BetAmount: bet,
			Payout:    payout,
			GameID:    req.GameID,
			ClientID:  req.ClientID,
		}
	}
	return rounds
}
