// Package combat resolves the turn-based fights that flashcard reviews drive.
package combat

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/google/uuid"
)

// Config holds the balance constants of a run. Zero values are replaced by
// the defaults in NewEngine.
type Config struct {
	PlayerMaxHP       int
	BaseDamage        int
	TotalEncounters   int
	DifficultyScaling float64
	Bestiary          []StatBlock
	Boss              StatBlock
	Powerups          []Powerup
}

// DefaultConfig returns the standard balance.
func DefaultConfig() Config {
	return Config{
		PlayerMaxHP:       100,
		BaseDamage:        20,
		TotalEncounters:   10,
		DifficultyScaling: 1.2,
		Bestiary:          DefaultBestiary,
		Boss:              DefaultBoss,
		Powerups:          DefaultPowerups,
	}
}

// Roller is the source of randomness for drops.
type Roller interface {
	Float64() float64
}

// Engine applies combat transitions to game states. It holds no per-run
// state and is safe to share once built, provided the Roller is.
type Engine struct {
	cfg Config
	rng Roller
}

// NewEngine builds an engine. A nil rng draws from an unseeded generator.
func NewEngine(cfg Config, rng Roller) *Engine {
	def := DefaultConfig()
	if cfg.PlayerMaxHP <= 0 {
		cfg.PlayerMaxHP = def.PlayerMaxHP
	}
	if cfg.BaseDamage <= 0 {
		cfg.BaseDamage = def.BaseDamage
	}
	if cfg.TotalEncounters <= 0 {
		cfg.TotalEncounters = def.TotalEncounters
	}
	if cfg.DifficultyScaling <= 0 {
		cfg.DifficultyScaling = def.DifficultyScaling
	}
	if cfg.Bestiary == nil {
		cfg.Bestiary = def.Bestiary
	}
	if cfg.Boss == (StatBlock{}) {
		cfg.Boss = def.Boss
	}
	if cfg.Powerups == nil {
		cfg.Powerups = def.Powerups
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{cfg: cfg, rng: rng}
}

// GradeMultiplier is the share of base damage a grade deals.
func GradeMultiplier(g domain.Grade) float64 {
	switch g {
	case domain.Hard:
		return 0.3
	case domain.Good:
		return 1.0
	case domain.Easy:
		return 2.0
	default:
		return 0
	}
}

// TurnResult describes what happened in one resolved turn.
type TurnResult struct {
	Grade          domain.Grade `json:"grade"`
	DamageDealt    int          `json:"damage_dealt"`
	DamageTaken    int          `json:"damage_taken"`
	ShieldAbsorbed int          `json:"shield_absorbed"`
	EnemyDefeated  bool         `json:"enemy_defeated"`
	ScoreGained    int          `json:"score_gained"`
	PowerupDropped PowerupID    `json:"powerup_dropped,omitempty"`
	Outcome        Phase        `json:"outcome"`
}

// NewRun creates a run for deckID and spawns its first encounter.
func (e *Engine) NewRun(deckID int64, now time.Time) *GameState {
	gs := &GameState{
		RunID:  uuid.NewString(),
		DeckID: deckID,
		Player: Player{
			HP:               e.cfg.PlayerMaxHP,
			MaxHP:            e.cfg.PlayerMaxHP,
			Inventory:        map[PowerupID]int{},
			DamageMultiplier: 1,
			ScoreMultiplier:  1,
		},
		Progress:  Progress{TotalEncounters: e.cfg.TotalEncounters},
		StartedAt: now,
	}
	e.NewEncounter(gs)
	return gs
}

// NewEncounter spawns the enemy for the current encounter index at full
// health and waits for a card.
func (e *Engine) NewEncounter(gs *GameState) {
	cfg := e.cfg
	cfg.TotalEncounters = gs.Progress.TotalEncounters
	gs.Enemy = cfg.enemyFor(gs.Progress.CurrentEncounter)
	gs.CurrentCardID = 0
	gs.CardRevealed = false
	gs.Phase = AwaitingCard
}

// PresentCard shows the front of a card.
func (e *Engine) PresentCard(gs *GameState, cardID int64) error {
	if gs.Phase != AwaitingCard {
		return fmt.Errorf("present card in phase %s: %w", gs.Phase, domain.ErrInvalidState)
	}
	gs.CurrentCardID = cardID
	gs.CardRevealed = false
	gs.Phase = CardShown
	return nil
}

// DiscardCard drops a card that can no longer be graded and waits for a
// new one.
func (e *Engine) DiscardCard(gs *GameState) error {
	if gs.Phase != CardShown && gs.Phase != CardRevealed {
		return fmt.Errorf("discard card in phase %s: %w", gs.Phase, domain.ErrInvalidState)
	}
	gs.CurrentCardID = 0
	gs.CardRevealed = false
	gs.Phase = AwaitingCard
	return nil
}

// Reveal shows the back of the current card.
func (e *Engine) Reveal(gs *GameState) error {
	if gs.Phase != CardShown {
		return fmt.Errorf("reveal in phase %s: %w", gs.Phase, domain.ErrInvalidState)
	}
	gs.CardRevealed = true
	gs.Phase = CardRevealed
	return nil
}

// ResolveTurn applies the player's grade for the revealed card. Only a
// forgotten card (multiplier 0) lets the enemy strike back; a weak hit that
// rounds to zero damage does nothing. The damage multiplier lasts for exactly
// one resolved turn.
func (e *Engine) ResolveTurn(gs *GameState, grade domain.Grade) (TurnResult, error) {
	if gs.Phase != CardRevealed {
		return TurnResult{}, fmt.Errorf("resolve turn in phase %s: %w", gs.Phase, domain.ErrInvalidState)
	}
	if !grade.IsValid() {
		return TurnResult{}, fmt.Errorf("resolve turn with grade %d: %w", int(grade), domain.ErrValidation)
	}

	res := TurnResult{Grade: grade}
	p := &gs.Player
	mult := GradeMultiplier(grade)
	damage := int(math.Round(float64(e.cfg.BaseDamage) * mult * p.DamageMultiplier))
	p.DamageMultiplier = 1

	gs.Stats.record(grade.Correct())
	gs.CurrentCardID = 0
	gs.CardRevealed = false

	if mult > 0 {
		gs.Enemy.HP -= damage
		res.DamageDealt = damage
		if gs.Enemy.HP <= 0 {
			gs.Enemy.HP = 0
			e.defeatEnemy(gs, &res)
			res.Outcome = gs.Phase
			return res, nil
		}
	} else {
		incoming := gs.Enemy.Damage
		absorbed := min(p.Shield, incoming)
		p.Shield -= absorbed
		taken := incoming - absorbed
		p.HP -= taken
		res.ShieldAbsorbed = absorbed
		res.DamageTaken = taken
		if p.HP <= 0 {
			p.HP = 0
			gs.Phase = PlayerDefeated
			res.Outcome = gs.Phase
			return res, nil
		}
	}

	gs.Phase = AwaitingCard
	res.Outcome = gs.Phase
	return res, nil
}

func (e *Engine) defeatEnemy(gs *GameState, res *TurnResult) {
	p := &gs.Player
	res.EnemyDefeated = true
	res.ScoreGained = int(math.Round(float64(gs.Enemy.ScoreValue) * p.ScoreMultiplier))
	p.Score += res.ScoreGained
	p.ScoreMultiplier = 1

	if id, ok := e.rollDrop(); ok {
		if p.Inventory == nil {
			p.Inventory = map[PowerupID]int{}
		}
		p.Inventory[id]++
		res.PowerupDropped = id
	}

	gs.Progress.CurrentEncounter++
	if gs.Progress.CurrentEncounter >= gs.Progress.TotalEncounters {
		gs.Progress.CurrentEncounter = gs.Progress.TotalEncounters
		gs.Phase = Victory
		return
	}
	e.NewEncounter(gs)
}

// rollDrop walks the drop table in order; the first entry whose roll
// succeeds drops.
func (e *Engine) rollDrop() (PowerupID, bool) {
	for _, p := range e.cfg.Powerups {
		if e.rng.Float64() < p.DropChance {
			return p.ID, true
		}
	}
	return "", false
}

// UsePowerup consumes one power-up from the inventory and applies it.
func (e *Engine) UsePowerup(gs *GameState, id PowerupID) (Powerup, error) {
	if gs.Phase.Terminal() {
		return Powerup{}, fmt.Errorf("use powerup in phase %s: %w", gs.Phase, domain.ErrInvalidState)
	}
	pu, known := e.cfg.powerup(id)
	if !known || gs.Player.Inventory[id] < 1 {
		return Powerup{}, fmt.Errorf("powerup %q not in inventory: %w", id, domain.ErrNotFound)
	}

	apply(&gs.Player, pu.Effect)
	gs.Player.Inventory[id]--
	if gs.Player.Inventory[id] == 0 {
		delete(gs.Player.Inventory, id)
	}
	return pu, nil
}
