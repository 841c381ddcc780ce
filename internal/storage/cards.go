package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
)

const cardColumns = `id, deck_id, front, back, tags, note_type, hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var c domain.Card
	var tags string
	if err := row.Scan(&c.ID, &c.DeckID, &c.Front, &c.Back, &tags, &c.NoteType, &c.Hash); err != nil {
		return domain.Card{}, err
	}
	c.Tags = strings.Fields(tags)
	return c, nil
}

// InsertCard inserts a card together with a fresh review state due at now.
// The returned card carries its assigned id.
func (db *DB) InsertCard(ctx context.Context, card domain.Card, now time.Time) (domain.Card, error) {
	err := db.withTx(ctx, "failed to insert card", func(tx *sql.Tx) error {
		var err error
		card, _, err = insertCard(ctx, tx, card, now)
		return err
	})
	return card, err
}

// InsertCards inserts a batch of cards in one transaction. Cards whose hash
// already exists in the deck are skipped; the number inserted is returned.
func (db *DB) InsertCards(ctx context.Context, cards []domain.Card, now time.Time) (int, error) {
	inserted := 0
	err := db.withTx(ctx, "failed to insert cards", func(tx *sql.Tx) error {
		for _, c := range cards {
			_, ok, err := insertCard(ctx, tx, c, now)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertCard(ctx context.Context, tx *sql.Tx, card domain.Card, now time.Time) (domain.Card, bool, error) {
	if card.NoteType == "" {
		card.NoteType = "Basic"
	}
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO cards (deck_id, front, back, tags, note_type, hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, card.DeckID, card.Front, card.Back, strings.Join(card.Tags, " "), card.NoteType, card.Hash)
	if err != nil {
		return card, false, wrap(fmt.Sprintf("failed to insert card %s", card.Hash), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return card, false, nil
	}
	card.ID, err = res.LastInsertId()
	if err != nil {
		return card, false, wrap(fmt.Sprintf("failed to get last insert ID for card %s", card.Hash), err)
	}

	rs := domain.NewReviewState(card.ID, now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_states (card_id, repetitions, ease_factor, interval_days, due_at)
		VALUES (?, ?, ?, ?, ?)
	`, rs.CardID, rs.Repetitions, rs.EaseFactor, rs.IntervalDays, rs.DueAt.UTC()); err != nil {
		return card, false, wrap(fmt.Sprintf("failed to insert review state for card %d", card.ID), err)
	}
	return card, true, nil
}

// GetCard retrieves a card by id.
func (db *DB) GetCard(ctx context.Context, cardID int64) (domain.Card, error) {
	c, err := scanCard(db.conn.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards WHERE id = ?
	`, cardID))
	if err != nil {
		return domain.Card{}, wrap(fmt.Sprintf("failed to find card %d", cardID), err)
	}
	return c, nil
}

// ListCards retrieves the cards of a deck in insertion order.
func (db *DB) ListCards(ctx context.Context, deckID int64) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards WHERE deck_id = ? ORDER BY id
	`, deckID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to get cards for deck %d", deckID), err)
	}
	defer rows.Close()

	cards := []domain.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan card row for deck %d", deckID), err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("failed to get cards for deck %d", deckID), err)
	}
	return cards, nil
}

// DeleteCardByHash removes a card from a deck by its hash.
func (db *DB) DeleteCardByHash(ctx context.Context, deckID int64, hash string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM cards
		WHERE deck_id = ? AND hash = ?
	`, deckID, hash)
	if err != nil {
		return wrap(fmt.Sprintf("failed to delete card with hash %s", hash), err)
	}
	return nil
}
