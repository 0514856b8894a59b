package model

import "time"

// GameRound is a single settled round as reported by a supplier.
type GameRound struct {
	BetAmount float64   `json:"bet_amount"`
	Payout    float64   `json:"payout"`
	GameID    string    `json:"game_id"`
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// IsLoss reports whether the round paid back less than was wagered.
func (r GameRound) IsLoss() bool {
	return r.Payout < r.BetAmount
}

// RoundRTP returns the per-round RTP percentage. ok is false for zero-bet rounds,
// whose ratio is undefined.
func (r GameRound) RoundRTP() (rtp float64, ok bool) {
	if r.BetAmount <= 0 {
		return 0, false
	}
	return r.Payout / r.BetAmount * 100, true
}
