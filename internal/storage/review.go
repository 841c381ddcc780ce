package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/game"
)

func scanReviewState(row rowScanner) (domain.ReviewState, error) {
	var rs domain.ReviewState
	var last sql.NullTime
	if err := row.Scan(&rs.CardID, &rs.Repetitions, &rs.EaseFactor, &rs.IntervalDays, &rs.DueAt, &last); err != nil {
		return domain.ReviewState{}, err
	}
	rs.DueAt = rs.DueAt.UTC()
	rs.LastReviewedAt = timePtr(last)
	return rs, nil
}

// GetReviewState retrieves the review state of a card.
func (db *DB) GetReviewState(ctx context.Context, cardID int64) (domain.ReviewState, error) {
	rs, err := scanReviewState(db.conn.QueryRowContext(ctx, `
		SELECT card_id, repetitions, ease_factor, interval_days, due_at, last_reviewed_at
		FROM review_states WHERE card_id = ?
	`, cardID))
	if err != nil {
		return domain.ReviewState{}, wrap(fmt.Sprintf("failed to find review state for card %d", cardID), err)
	}
	return rs, nil
}

// ListReviewStates retrieves the review states of a deck in card order.
func (db *DB) ListReviewStates(ctx context.Context, deckID int64) ([]domain.ReviewState, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT rs.card_id, rs.repetitions, rs.ease_factor, rs.interval_days, rs.due_at, rs.last_reviewed_at
		FROM review_states rs
		JOIN cards c ON c.id = rs.card_id
		WHERE c.deck_id = ?
		ORDER BY c.id
	`, deckID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to get review states for deck %d", deckID), err)
	}
	defer rows.Close()

	var states []domain.ReviewState
	for rows.Next() {
		rs, err := scanReviewState(rows)
		if err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan review state row for deck %d", deckID), err)
		}
		states = append(states, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("failed to get review states for deck %d", deckID), err)
	}
	return states, nil
}

// PutReviewState writes the review state of a card.
func (db *DB) PutReviewState(ctx context.Context, rs domain.ReviewState) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO review_states (card_id, repetitions, ease_factor, interval_days, due_at, last_reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			repetitions = excluded.repetitions,
			ease_factor = excluded.ease_factor,
			interval_days = excluded.interval_days,
			due_at = excluded.due_at,
			last_reviewed_at = excluded.last_reviewed_at
	`, rs.CardID, rs.Repetitions, rs.EaseFactor, rs.IntervalDays, rs.DueAt.UTC(), nullTime(rs.LastReviewedAt))
	if err != nil {
		return wrap(fmt.Sprintf("failed to update review state for card %d", rs.CardID), err)
	}
	return nil
}

// AppendReviewEvent adds an entry to the review log.
func (db *DB) AppendReviewEvent(ctx context.Context, ev domain.ReviewEvent) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO review_events (card_id, deck_id, run_id, grade, reviewed_at, interval_days, ease_factor, damage_dealt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.CardID, ev.DeckID, ev.RunID, ev.Grade.String(), ev.ReviewedAt.UTC(), ev.IntervalDays, ev.EaseFactor, ev.DamageDealt)
	if err != nil {
		return wrap(fmt.Sprintf("failed to insert review event for card %d", ev.CardID), err)
	}
	return nil
}

// ListReviewEvents retrieves the most recent reviews of a deck, newest first.
func (db *DB) ListReviewEvents(ctx context.Context, deckID int64, limit int) ([]domain.ReviewEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, card_id, deck_id, run_id, grade, reviewed_at, interval_days, ease_factor, damage_dealt
		FROM review_events
		WHERE deck_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, deckID, limit)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to get review events for deck %d", deckID), err)
	}
	defer rows.Close()

	events := []domain.ReviewEvent{}
	for rows.Next() {
		var ev domain.ReviewEvent
		var grade string
		if err := rows.Scan(&ev.ID, &ev.CardID, &ev.DeckID, &ev.RunID, &grade, &ev.ReviewedAt,
			&ev.IntervalDays, &ev.EaseFactor, &ev.DamageDealt); err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan review event row for deck %d", deckID), err)
		}
		if ev.Grade, err = domain.ParseGrade(grade); err != nil {
			return nil, fmt.Errorf("review event %d: %w", ev.ID, err)
		}
		ev.ReviewedAt = ev.ReviewedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("failed to get review events for deck %d", deckID), err)
	}
	return events, nil
}

const (
	// A card is mastered after masteryReviews reviews with at least
	// masteryAccuracy of them good or easy.
	masteryReviews  = 5
	masteryAccuracy = 0.8

	weakCardLimit      = 10
	recentReviewsLimit = 10
	recentRunsLimit    = 5
)

// WeakCard is a reviewed card ranked by how much practice it needs.
type WeakCard struct {
	CardID     int64    `json:"card_id"`
	Front      string   `json:"front"`
	Tags       []string `json:"tags"`
	EaseFactor float64  `json:"ease_factor"`
	Reviews    int      `json:"reviews"`
	Correct    int      `json:"correct"`
	Hard       int      `json:"hard"`
	Incorrect  int      `json:"incorrect"`
	Accuracy   float64  `json:"accuracy"`
}

// DeckStats summarises the review history of a deck.
type DeckStats struct {
	DeckID            int64   `json:"deck_id"`
	TotalCards        int     `json:"total_cards"`
	NewCards          int     `json:"new_cards"`
	LearningCards     int     `json:"learning_cards"`
	MasteredCards     int     `json:"mastered_cards"`
	CompletionPercent float64 `json:"completion_percent"`
	DueCards          int     `json:"due_cards"`
	TotalReviews      int     `json:"total_reviews"`
	CorrectReviews    int     `json:"correct_reviews"`
	Accuracy          float64 `json:"accuracy"`
	RunsPlayed        int     `json:"runs_played"`
	Victories         int     `json:"victories"`
	BestScore         int     `json:"best_score"`
	TotalScore        int     `json:"total_score"`
	TimePlayedSeconds int64   `json:"time_played_seconds"`

	WeakCards     []WeakCard           `json:"weak_cards"`
	RecentReviews []domain.ReviewEvent `json:"recent_reviews"`
	RecentRuns    []game.RunRecord     `json:"recent_runs"`
}

// DeckStats computes statistics for a deck at now.
func (db *DB) DeckStats(ctx context.Context, deckID int64, now time.Time) (DeckStats, error) {
	if _, err := db.GetDeck(ctx, deckID); err != nil {
		return DeckStats{}, err
	}
	st := DeckStats{DeckID: deckID}

	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN rs.last_reviewed_at IS NULL THEN 1 END),
		       COUNT(CASE WHEN rs.due_at <= ? THEN 1 END)
		FROM cards c
		JOIN review_states rs ON rs.card_id = c.id
		WHERE c.deck_id = ?
	`, now.UTC(), deckID).Scan(&st.TotalCards, &st.NewCards, &st.DueCards)
	if err != nil {
		return DeckStats{}, wrap(fmt.Sprintf("failed to count cards for deck %d", deckID), err)
	}

	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN grade IN ('good', 'easy') THEN 1 END)
		FROM review_events WHERE deck_id = ?
	`, deckID).Scan(&st.TotalReviews, &st.CorrectReviews)
	if err != nil {
		return DeckStats{}, wrap(fmt.Sprintf("failed to count reviews for deck %d", deckID), err)
	}
	if st.TotalReviews > 0 {
		st.Accuracy = float64(st.CorrectReviews) / float64(st.TotalReviews)
	}

	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT e.card_id,
			       COUNT(*) AS reviews,
			       COUNT(CASE WHEN e.grade IN ('good', 'easy') THEN 1 END) AS correct
			FROM review_events e
			JOIN cards c ON c.id = e.card_id
			WHERE e.deck_id = ?
			GROUP BY e.card_id
		)
		WHERE reviews >= ? AND correct >= reviews * ?
	`, deckID, masteryReviews, masteryAccuracy).Scan(&st.MasteredCards)
	if err != nil {
		return DeckStats{}, wrap(fmt.Sprintf("failed to count mastered cards for deck %d", deckID), err)
	}
	st.LearningCards = max(st.TotalCards-st.NewCards-st.MasteredCards, 0)
	if st.TotalCards > 0 {
		st.CompletionPercent = float64(st.TotalCards-st.NewCards) * 100 / float64(st.TotalCards)
	}

	if st.WeakCards, err = db.weakCards(ctx, deckID, weakCardLimit); err != nil {
		return DeckStats{}, err
	}
	if st.RecentReviews, err = db.ListReviewEvents(ctx, deckID, recentReviewsLimit); err != nil {
		return DeckStats{}, err
	}

	runs, err := db.ListRuns(ctx, deckID, -1)
	if err != nil {
		return DeckStats{}, err
	}
	var played time.Duration
	for _, r := range runs {
		st.RunsPlayed++
		if r.Outcome == game.OutcomeVictory {
			st.Victories++
		}
		st.BestScore = max(st.BestScore, r.Score)
		st.TotalScore += r.Score
		if r.EndedAt.After(r.StartedAt) {
			played += r.EndedAt.Sub(r.StartedAt)
		}
	}
	st.TimePlayedSeconds = int64(played / time.Second)
	st.RecentRuns = runs[:min(len(runs), recentRunsLimit)]
	return st, nil
}

// weakCards ranks the reviewed cards of a deck by accuracy, then ease, then
// number of misses.
func (db *DB) weakCards(ctx context.Context, deckID int64, limit int) ([]WeakCard, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT c.id, c.front, c.tags, rs.ease_factor,
		       COUNT(*) AS reviews,
		       COUNT(CASE WHEN e.grade IN ('good', 'easy') THEN 1 END) AS correct,
		       COUNT(CASE WHEN e.grade = 'hard' THEN 1 END) AS hard,
		       COUNT(CASE WHEN e.grade = 'again' THEN 1 END) AS incorrect,
		       CAST(COUNT(CASE WHEN e.grade IN ('good', 'easy') THEN 1 END) AS REAL) / COUNT(*) AS accuracy
		FROM review_events e
		JOIN cards c ON c.id = e.card_id
		JOIN review_states rs ON rs.card_id = c.id
		WHERE e.deck_id = ?
		GROUP BY c.id, c.front, c.tags, rs.ease_factor
		ORDER BY accuracy ASC, rs.ease_factor ASC, incorrect DESC, c.id ASC
		LIMIT ?
	`, deckID, limit)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to get weak cards for deck %d", deckID), err)
	}
	defer rows.Close()

	weak := []WeakCard{}
	for rows.Next() {
		var w WeakCard
		var tags string
		if err := rows.Scan(&w.CardID, &w.Front, &tags, &w.EaseFactor,
			&w.Reviews, &w.Correct, &w.Hard, &w.Incorrect, &w.Accuracy); err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan weak card row for deck %d", deckID), err)
		}
		w.Tags = strings.Fields(tags)
		weak = append(weak, w)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("failed to get weak cards for deck %d", deckID), err)
	}
	return weak, nil
}
