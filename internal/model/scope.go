package model

import "fmt"

// ScopeKind is the aggregation boundary a statistic belongs to.
type ScopeKind string

const (
	ScopeOverall ScopeKind = "overall"
	ScopeGame    ScopeKind = "game"
	ScopeClient  ScopeKind = "client"
)

// OverallID is the identifier of the single overall scope.
const OverallID = "overall"

// Scope identifies one set of statistics. Game and client ids live in separate
// namespaces, so a game and a client sharing an id never collide.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// Overall returns the overall scope.
func Overall() Scope { return Scope{Kind: ScopeOverall, ID: OverallID} }

// GameScope returns the scope of a game.
func GameScope(gameID string) Scope { return Scope{Kind: ScopeGame, ID: gameID} }

// ClientScope returns the scope of a client.
func ClientScope(clientID string) Scope { return Scope{Kind: ScopeClient, ID: clientID} }

// ScopesOf lists every scope a round contributes to.
func ScopesOf(r GameRound) []Scope {
	return []Scope{Overall(), GameScope(r.GameID), ClientScope(r.ClientID)}
}

func (s Scope) String() string {
	if s.Kind == ScopeOverall {
		return OverallID
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}
