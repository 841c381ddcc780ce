// Package knol derives the content identity of a flashcard.
package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/cardcrawl/internal/domain"
)

// Normalize returns the text a card is identified by: its front and back,
// each lowercased, trimmed and with CRLF folded to LF, separated by a
// newline. Tags and note type are ignored.
func Normalize(card domain.Card) string {
	return clean(card.Front) + "\n" + clean(card.Back)
}

func clean(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// Hash is the hex SHA-256 of Normalize(card). Re-importing an edited card
// yields a new hash; changing only its case or surrounding spaces does not.
func Hash(card domain.Card) string {
	sum := sha256.Sum256([]byte(Normalize(card)))
	return hex.EncodeToString(sum[:])
}
