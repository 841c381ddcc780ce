package domain

import "time"

// Deck groups the cards imported from one source file or generation request.
type Deck struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	SourcePath string    `json:"source_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Card represents a single front/back flashcard.
type Card struct {
	ID       int64    `json:"id"`
	DeckID   int64    `json:"deck_id"`
	Front    string   `json:"front"`
	Back     string   `json:"back"`
	Tags     []string `json:"tags"`
	NoteType string   `json:"note_type"`
	Hash     string   `json:"hash"`
}

// ReviewState is the spaced-repetition memory of one card.
type ReviewState struct {
	CardID         int64      `json:"card_id"`
	Repetitions    int        `json:"repetitions"`
	EaseFactor     float64    `json:"ease_factor"`
	IntervalDays   int        `json:"interval_days"`
	DueAt          time.Time  `json:"due_at"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
}

// DefaultEaseFactor is the ease every new card starts with.
const DefaultEaseFactor = 2.5

// NewReviewState returns the state of a card that has never been reviewed.
// It is due immediately.
func NewReviewState(cardID int64, now time.Time) ReviewState {
	return ReviewState{
		CardID:     cardID,
		EaseFactor: DefaultEaseFactor,
		DueAt:      now,
	}
}

// Seen reports whether the card has been reviewed at least once.
func (s ReviewState) Seen() bool {
	return s.LastReviewedAt != nil
}

// ReviewEvent records a single graded review. Events are never updated.
type ReviewEvent struct {
	ID           int64     `json:"id"`
	CardID       int64     `json:"card_id"`
	DeckID       int64     `json:"deck_id"`
	RunID        string    `json:"run_id,omitempty"`
	Grade        Grade     `json:"grade"`
	ReviewedAt   time.Time `json:"reviewed_at"`
	IntervalDays int       `json:"interval_days"`
	EaseFactor   float64   `json:"ease_factor"`
	DamageDealt  int       `json:"damage_dealt"`
}
