package collector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"RTPSentinel/internal/model"
)

// ErrUnknownGame is returned by the simulator for games it cannot play.
var ErrUnknownGame = errors.New("unknown game")

// simulatedGames maps each game to its winning multiplier. A round wins when
// its roll is below targetRTP/multiplier, so every game pays targetRTP in
// expectation. "target" is a long-shot game paying 101x.
var simulatedGames = map[string]float64{
	"dice":   2.0,
	"limbo":  5.0,
	"crash":  1.8,
	"target": 101.0,
}

// SimulatedGames lists the games the simulator can play.
func SimulatedGames() []string {
	games := make([]string, 0, len(simulatedGames))
	for g := range simulatedGames {
		games = append(games, g)
	}
	sort.Strings(games)
	return games
}

// Roll derives a provably-fair roll in [0, 100) from the seeds and nonce, with
// four decimal places. The hex digest is returned for verification.
func Roll(serverSeed, clientSeed string, nonce uint64) (float64, string) {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(clientSeed + ":" + strconv.FormatUint(nonce, 10)))
	digest := hex.EncodeToString(h.Sum(nil))

	num, _ := strconv.ParseUint(digest[:8], 16, 64)
	return float64(num%1_000_000) / 10_000, digest
}

// SimulatedSupplier plays games locally instead of calling a supplier. Nonces
// advance per client, so a run is reproducible from its seeds. The zero value
// with seeds and TargetRTP set is ready to use.
type SimulatedSupplier struct {
	ServerSeed string
	ClientSeed string
	TargetRTP  float64 // percent

	mu     sync.Mutex
	nonces map[string]uint64
	now    func() time.Time
}

// NewSimulatedSupplier creates a simulator paying targetRTP percent.
func NewSimulatedSupplier(serverSeed, clientSeed string, targetRTP float64) *SimulatedSupplier {
	return &SimulatedSupplier{
		ServerSeed: serverSeed,
		ClientSeed: clientSeed,
		TargetRTP:  targetRTP,
		nonces:     make(map[string]uint64),
		now:        time.Now,
	}
}

func (s *SimulatedSupplier) Name() string { return "simulator" }

func (s *SimulatedSupplier) FetchBatch(ctx context.Context, req BatchRequest) (Batch, error) {
	multiplier, ok := simulatedGames[req.GameID]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %q", ErrUnknownGame, req.GameID)
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	s.mu.Lock()
	if s.nonces == nil {
		s.nonces = make(map[string]uint64)
	}
	if s.now == nil {
		s.now = time.Now
	}
	start := s.nonces[req.ClientID]
	s.nonces[req.ClientID] = start + uint64(req.Spins)
	now := s.now()
	s.mu.Unlock()

	winBelow := s.TargetRTP / multiplier
	rounds := make([]model.GameRound, req.Spins)
	for i := range rounds {
		roll, _ := Roll(s.ServerSeed, s.ClientSeed+":"+req.ClientID, start+uint64(i))
		payout := 0.0
		if roll < winBelow {
			payout = req.BetAmount * multiplier
		}
		rounds[i] = model.GameRound{
			BetAmount: req.BetAmount,
			Payout:    payout,
			GameID:    req.GameID,
			ClientID:  req.ClientID,
			Timestamp: now,
		}
	}
	return Batch{Rounds: rounds}, nil
}
