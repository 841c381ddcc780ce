package combat

import (
	"encoding"
	"fmt"
	"time"
)

// Phase is the position of a run in the turn cycle.
type Phase int

const (
	AwaitingCard Phase = iota + 1
	CardShown
	CardRevealed
	PlayerDefeated
	Victory
)

var (
	phaseNames  = [...]string{AwaitingCard: "AWAITING_CARD", CardShown: "CARD_SHOWN", CardRevealed: "CARD_REVEALED", PlayerDefeated: "PLAYER_DEFEATED", Victory: "VICTORY"}
	phaseByName = map[string]Phase{
		"AWAITING_CARD":   AwaitingCard,
		"CARD_SHOWN":      CardShown,
		"CARD_REVEALED":   CardRevealed,
		"PLAYER_DEFEATED": PlayerDefeated,
		"VICTORY":         Victory,
	}
)

var (
	_ encoding.TextMarshaler   = Phase(0)
	_ encoding.TextUnmarshaler = (*Phase)(nil)
)

func (p Phase) isValid() bool {
	return p >= AwaitingCard && p <= Victory
}

func (p Phase) String() string {
	if p.isValid() {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether the run has ended.
func (p Phase) Terminal() bool {
	return p == PlayerDefeated || p == Victory
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.isValid() {
		return nil, fmt.Errorf("combat: invalid phase %d", int(p))
	}
	return []byte(phaseNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	v, ok := phaseByName[string(text)]
	if !ok {
		return fmt.Errorf("combat: invalid phase %q", text)
	}
	*p = v
	return nil
}

// Player is the player's side of a run.
type Player struct {
	HP               int               `json:"hp"`
	MaxHP            int               `json:"max_hp"`
	Shield           int               `json:"shield"`
	Score            int               `json:"score"`
	Inventory        map[PowerupID]int `json:"inventory"`
	DamageMultiplier float64           `json:"damage_multiplier"`
	ScoreMultiplier  float64           `json:"score_multiplier"`
}

// Enemy is the opponent of the current encounter.
type Enemy struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	HP         int    `json:"hp"`
	MaxHP      int    `json:"max_hp"`
	Damage     int    `json:"damage"`
	ScoreValue int    `json:"score_value"`
	IsBoss     bool   `json:"is_boss"`
}

// Progress tracks encounters. CurrentEncounter counts the encounters already
// cleared, so the enemy being fought is number CurrentEncounter+1.
type Progress struct {
	CurrentEncounter int `json:"current_encounter"`
	TotalEncounters  int `json:"total_encounters"`
}

// SessionStats summarises the reviews made during a run.
type SessionStats struct {
	CardsReviewed int     `json:"cards_reviewed"`
	CardsCorrect  int     `json:"cards_correct"`
	Accuracy      float64 `json:"accuracy"`
}

func (s *SessionStats) record(correct bool) {
	s.CardsReviewed++
	if correct {
		s.CardsCorrect++
	}
	s.Accuracy = float64(s.CardsCorrect) / float64(s.CardsReviewed) * 100
}

// GameState is everything needed to resume a run.
type GameState struct {
	RunID         string       `json:"run_id"`
	DeckID        int64        `json:"deck_id"`
	Phase         Phase        `json:"phase"`
	Player        Player       `json:"player"`
	Enemy         Enemy        `json:"enemy"`
	Progress      Progress     `json:"progress"`
	CurrentCardID int64        `json:"current_card_id"`
	CardRevealed  bool         `json:"card_revealed"`
	Stats         SessionStats `json:"stats"`
	StartedAt     time.Time    `json:"started_at"`
}

// Clone returns a deep copy of gs.
func (gs *GameState) Clone() *GameState {
	c := *gs
	c.Player.Inventory = make(map[PowerupID]int, len(gs.Player.Inventory))
	for id, n := range gs.Player.Inventory {
		c.Player.Inventory[id] = n
	}
	return &c
}
