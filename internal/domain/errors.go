package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every error returned by the game core wraps exactly one of
// these; callers check with errors.Is.
var (
	ErrInvalidState     = errors.New("invalid state")
	ErrNotFound         = errors.New("not found")
	ErrNoCards          = errors.New("deck has no cards")
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// OpError describes a failed operation on a deck or card.
type OpError struct {
	Op     string
	DeckID int64
	CardID int64
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.DeckID != 0 {
		fmt.Fprintf(&b, " deck=%d", e.DeckID)
	}
	if e.CardID != 0 {
		fmt.Fprintf(&b, " card=%d", e.CardID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// DeckError wraps err with the operation and deck it happened in.
func DeckError(op string, deckID int64, err error) error {
	return &OpError{Op: op, DeckID: deckID, Err: err}
}
