package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conorfennell/cardcrawl/internal/combat"
	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/game"
)

var _ game.Store = (*DB)(nil)

func encodeState(gs *combat.GameState) (string, error) {
	data, err := json.Marshal(gs)
	if err != nil {
		return "", fmt.Errorf("failed to encode game state: %w", err)
	}
	return string(data), nil
}

func decodeState(data string) (*combat.GameState, error) {
	var gs combat.GameState
	if err := json.Unmarshal([]byte(data), &gs); err != nil {
		return nil, fmt.Errorf("failed to decode game state: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return &gs, nil
}

// GetGameState retrieves the active run of a deck, or nil when there is none.
func (db *DB) GetGameState(ctx context.Context, deckID int64) (*combat.GameState, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT state FROM active_games WHERE deck_id = ?`, deckID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to find active game for deck %d", deckID), err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap(fmt.Sprintf("failed to find active game for deck %d", deckID), err)
		}
		return nil, nil
	}
	var data string
	if err := rows.Scan(&data); err != nil {
		return nil, wrap(fmt.Sprintf("failed to scan active game for deck %d", deckID), err)
	}
	return decodeState(data)
}

// PutGameState replaces the active run of a deck. A nil state clears it.
func (db *DB) PutGameState(ctx context.Context, deckID int64, gs *combat.GameState) error {
	if gs == nil {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM active_games WHERE deck_id = ?`, deckID); err != nil {
			return wrap(fmt.Sprintf("failed to clear active game for deck %d", deckID), err)
		}
		return nil
	}
	data, err := encodeState(gs)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO active_games (deck_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(deck_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, deckID, data, db.now().UTC())
	if err != nil {
		return wrap(fmt.Sprintf("failed to store active game for deck %d", deckID), err)
	}
	return nil
}

// PutSave writes a named snapshot, overwriting one with the same name.
func (db *DB) PutSave(ctx context.Context, deckID int64, name string, gs *combat.GameState) error {
	data, err := encodeState(gs)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO game_saves (deck_id, name, state, score, current_encounter, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(deck_id, name) DO UPDATE SET
			state = excluded.state,
			score = excluded.score,
			current_encounter = excluded.current_encounter,
			saved_at = excluded.saved_at
	`, deckID, name, data, gs.Player.Score, gs.Progress.CurrentEncounter, db.now().UTC())
	if err != nil {
		return wrap(fmt.Sprintf("failed to store save %q for deck %d", name, deckID), err)
	}
	return nil
}

// GetSave retrieves a named snapshot.
func (db *DB) GetSave(ctx context.Context, deckID int64, name string) (*combat.GameState, error) {
	var data string
	err := db.conn.QueryRowContext(ctx, `
		SELECT state FROM game_saves WHERE deck_id = ? AND name = ?
	`, deckID, name).Scan(&data)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to find save %q for deck %d", name, deckID), err)
	}
	return decodeState(data)
}

// ListSaves retrieves the saves of a deck, newest first.
func (db *DB) ListSaves(ctx context.Context, deckID int64) ([]game.SaveInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT deck_id, name, score, current_encounter, saved_at
		FROM game_saves WHERE deck_id = ?
		ORDER BY saved_at DESC, name
	`, deckID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to get saves for deck %d", deckID), err)
	}
	defer rows.Close()

	saves := []game.SaveInfo{}
	for rows.Next() {
		var s game.SaveInfo
		if err := rows.Scan(&s.DeckID, &s.Name, &s.Score, &s.CurrentEncounter, &s.SavedAt); err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan save row for deck %d", deckID), err)
		}
		s.SavedAt = s.SavedAt.UTC()
		saves = append(saves, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("failed to get saves for deck %d", deckID), err)
	}
	return saves, nil
}

// DeleteSave removes a named snapshot.
func (db *DB) DeleteSave(ctx context.Context, deckID int64, name string) error {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM game_saves WHERE deck_id = ? AND name = ?
	`, deckID, name)
	if err != nil {
		return wrap(fmt.Sprintf("failed to delete save %q for deck %d", name, deckID), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

// ArchiveRun records a finished run.
func (db *DB) ArchiveRun(ctx context.Context, rec game.RunRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_records
			(run_id, deck_id, outcome, cards_reviewed, cards_correct, score, encounters_cleared, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.DeckID, string(rec.Outcome), rec.CardsReviewed, rec.CardsCorrect, rec.Score,
		rec.EncountersCleared, rec.StartedAt.UTC(), rec.EndedAt.UTC())
	if err != nil {
		return wrap(fmt.Sprintf("failed to archive run %s", rec.RunID), err)
	}
	return nil
}

// ListRuns retrieves the finished runs of a deck, most recent first. A
// negative limit returns every run.
func (db *DB) ListRuns(ctx context.Context, deckID int64, limit int) ([]game.RunRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, deck_id, outcome, cards_reviewed, cards_correct, score, encounters_cleared, started_at, ended_at
		FROM run_records WHERE deck_id = ?
		ORDER BY ended_at DESC
		LIMIT ?
	`, deckID, limit)
	if err != nil {
		return nil, wrap(fmt.Sprintf("failed to get runs for deck %d", deckID), err)
	}
	defer rows.Close()

	runs := []game.RunRecord{}
	for rows.Next() {
		var r game.RunRecord
		var outcome string
		if err := rows.Scan(&r.RunID, &r.DeckID, &outcome, &r.CardsReviewed, &r.CardsCorrect, &r.Score,
			&r.EncountersCleared, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, wrap(fmt.Sprintf("failed to scan run row for deck %d", deckID), err)
		}
		r.Outcome = game.Outcome(outcome)
		r.StartedAt, r.EndedAt = r.StartedAt.UTC(), r.EndedAt.UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(fmt.Sprintf("failed to get runs for deck %d", deckID), err)
	}
	return runs, nil
}

