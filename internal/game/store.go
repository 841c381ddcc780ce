package game

import (
	"context"
	"time"

	"github.com/conorfennell/cardcrawl/internal/combat"
	"github.com/conorfennell/cardcrawl/internal/domain"
)

// Store is the persistence the controller needs. Lookups of missing rows
// return errors wrapping domain.ErrNotFound, except GetGameState which
// returns a nil state when the deck has no active run. I/O failures wrap
// domain.ErrStoreUnavailable.
type Store interface {
	GetCard(ctx context.Context, cardID int64) (domain.Card, error)
	// ListCards returns the cards of a deck in insertion order.
	ListCards(ctx context.Context, deckID int64) ([]domain.Card, error)
	ListReviewStates(ctx context.Context, deckID int64) ([]domain.ReviewState, error)
	GetReviewState(ctx context.Context, cardID int64) (domain.ReviewState, error)
	PutReviewState(ctx context.Context, state domain.ReviewState) error
	AppendReviewEvent(ctx context.Context, event domain.ReviewEvent) error

	GetGameState(ctx context.Context, deckID int64) (*combat.GameState, error)
	// PutGameState replaces the active run of a deck; nil clears it.
	PutGameState(ctx context.Context, deckID int64, gs *combat.GameState) error

	PutSave(ctx context.Context, deckID int64, name string, gs *combat.GameState) error
	GetSave(ctx context.Context, deckID int64, name string) (*combat.GameState, error)
	ListSaves(ctx context.Context, deckID int64) ([]SaveInfo, error)
	DeleteSave(ctx context.Context, deckID int64, name string) error

	ArchiveRun(ctx context.Context, rec RunRecord) error
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeVictory   Outcome = "victory"
	OutcomeDefeat    Outcome = "defeat"
	OutcomeAbandoned Outcome = "abandoned"
)

// RunRecord is the statistics left behind by a finished run.
type RunRecord struct {
	DeckID            int64     `json:"deck_id"`
	RunID             string    `json:"run_id"`
	Outcome           Outcome   `json:"outcome"`
	CardsReviewed     int       `json:"cards_reviewed"`
	CardsCorrect      int       `json:"cards_correct"`
	Score             int       `json:"score"`
	EncountersCleared int       `json:"encounters_cleared"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// SaveInfo describes a named snapshot without loading it.
type SaveInfo struct {
	DeckID           int64     `json:"deck_id"`
	Name             string    `json:"name"`
	Score            int       `json:"score"`
	CurrentEncounter int       `json:"current_encounter"`
	SavedAt          time.Time `json:"saved_at"`
}
